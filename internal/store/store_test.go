package store

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/pathakanu/keepintouch/internal/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_fk=1", name, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite memory: %v", err)
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	return New(db, log.New(io.Discard, "", 0))
}

// seedEvent creates a user, contact, template, event, and association, and
// returns the event id.
func seedEvent(t *testing.T, s *Store, userPhone string, date time.Time, templateName, templateText string) uint {
	t.Helper()

	user := model.User{Email: "amy@example.com", FirstName: "Amy", LastName: "Lee", Phone: userPhone}
	if err := s.db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return seedEventForUser(t, s, user.ID, date, templateName, templateText)
}

func seedEventForUser(t *testing.T, s *Store, userID uint, date time.Time, templateName, templateText string) uint {
	t.Helper()

	contact := model.Contact{Name: "Mom", Email: "mom@example.com", Phone: "+15550000001", UserID: userID}
	if err := s.db.Create(&contact).Error; err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	template := model.Template{Name: templateName, Text: templateText, Version: 1}
	if err := s.db.Create(&template).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}
	event := model.Event{TemplateID: template.ID, Date: DayOf(date)}
	if err := s.db.Create(&event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	if err := s.db.Create(&model.ContactEvent{ContactID: contact.ID, EventID: event.ID}).Error; err != nil {
		t.Fatalf("seed association: %v", err)
	}
	return event.ID
}

func TestDayOf(t *testing.T) {
	t.Parallel()

	in := time.Date(2017, 11, 13, 15, 42, 7, 99, time.UTC)
	got := DayOf(in)
	want := time.Date(2017, 11, 13, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("DayOf(%v) = %v, want %v", in, got, want)
	}
}

func TestEventsOnDateExactMatch(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	today := time.Date(2017, 11, 13, 0, 0, 0, 0, time.UTC)
	dueID := seedEvent(t, s, "+15550000100", today, "Birthday", "Happy birthday!")
	seedEvent(t, s, "+15550000101", today.AddDate(0, 0, 1), "Anniversary", "Congrats!")

	events, err := s.EventsOnDate(today)
	if err != nil {
		t.Fatalf("EventsOnDate: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one due event, got %d", len(events))
	}
	if events[0].EventID != dueID {
		t.Fatalf("expected event %d, got %d", dueID, events[0].EventID)
	}
	if events[0].TemplateText != "Happy birthday!" {
		t.Fatalf("unexpected template text %q", events[0].TemplateText)
	}
	if events[0].Owner.FirstName != "Amy" {
		t.Fatalf("unexpected owner %+v", events[0].Owner)
	}
	if len(events[0].Contacts) != 1 || events[0].Contacts[0].Name != "Mom" {
		t.Fatalf("unexpected contacts %+v", events[0].Contacts)
	}
}

func TestEventsOnDateEmptyDayIsNotAnError(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	events, err := s.EventsOnDate(time.Date(2017, 11, 13, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("expected nil error for empty day, got %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestEventsOnDateSkipsEventWithoutContacts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	today := time.Date(2017, 11, 13, 0, 0, 0, 0, time.UTC)
	template := model.Template{Name: "Orphan", Text: "text", Version: 1}
	if err := s.db.Create(&template).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}
	if err := s.db.Create(&model.Event{TemplateID: template.ID, Date: today}).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}

	events, err := s.EventsOnDate(today)
	if err != nil {
		t.Fatalf("EventsOnDate: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected contactless event to be skipped, got %d events", len(events))
	}
}

func TestUserByPhone(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	seedEvent(t, s, "+15550000200", time.Date(2017, 11, 13, 0, 0, 0, 0, time.UTC), "Birthday", "text")

	user, err := s.UserByPhone("+15550000200")
	if err != nil {
		t.Fatalf("UserByPhone: %v", err)
	}
	if user.FirstName != "Amy" {
		t.Fatalf("unexpected user %+v", user)
	}
	if got := user.DisplayName(); got != "Amy Lee" {
		t.Fatalf("DisplayName() = %q, want %q", got, "Amy Lee")
	}

	if _, err := s.UserByPhone("+19999999999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown phone, got %v", err)
	}
}

func TestEventByIDNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if _, err := s.EventByID(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEventsForUserOnDate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	tomorrow := time.Date(2017, 11, 14, 0, 0, 0, 0, time.UTC)

	owner := model.User{Email: "amy@example.com", FirstName: "Amy", Phone: "+15550000300"}
	if err := s.db.Create(&owner).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	other := model.User{Email: "bob@example.com", FirstName: "Bob", Phone: "+15550000301"}
	if err := s.db.Create(&other).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	wantID := seedEventForUser(t, s, owner.ID, tomorrow, "Birthday", "text")
	seedEventForUser(t, s, owner.ID, tomorrow.AddDate(0, 0, 5), "Later", "text")
	seedEventForUser(t, s, other.ID, tomorrow, "Other", "text")

	events, err := s.EventsForUserOnDate(owner.ID, tomorrow)
	if err != nil {
		t.Fatalf("EventsForUserOnDate: %v", err)
	}
	if len(events) != 1 || events[0].EventID != wantID {
		t.Fatalf("expected only event %d, got %+v", wantID, events)
	}
}

func TestUpdateTemplateText(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	eventID := seedEvent(t, s, "+15550000400", time.Date(2017, 11, 13, 0, 0, 0, 0, time.UTC), "Birthday", "old text")

	event, err := s.EventByID(eventID)
	if err != nil {
		t.Fatalf("EventByID: %v", err)
	}
	if err := s.UpdateTemplateText(eventID, "new text", event.TemplateVersion); err != nil {
		t.Fatalf("UpdateTemplateText: %v", err)
	}

	updated, err := s.EventByID(eventID)
	if err != nil {
		t.Fatalf("EventByID after update: %v", err)
	}
	if updated.TemplateText != "new text" {
		t.Fatalf("template text = %q, want %q", updated.TemplateText, "new text")
	}
	if updated.TemplateVersion != event.TemplateVersion+1 {
		t.Fatalf("version = %d, want %d", updated.TemplateVersion, event.TemplateVersion+1)
	}
}

func TestUpdateTemplateTextStaleVersion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	eventID := seedEvent(t, s, "+15550000500", time.Date(2017, 11, 13, 0, 0, 0, 0, time.UTC), "Birthday", "old text")

	event, err := s.EventByID(eventID)
	if err != nil {
		t.Fatalf("EventByID: %v", err)
	}
	if err := s.UpdateTemplateText(eventID, "first write", event.TemplateVersion); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// Second write with the stale version must be rejected.
	err = s.UpdateTemplateText(eventID, "second write", event.TemplateVersion)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	current, err := s.EventByID(eventID)
	if err != nil {
		t.Fatalf("EventByID: %v", err)
	}
	if current.TemplateText != "first write" {
		t.Fatalf("stale write went through: %q", current.TemplateText)
	}
}

func TestUpdateTemplateTextUnknownEvent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.UpdateTemplateText(42, "text", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateEventLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	user := model.User{Email: "amy@example.com", FirstName: "Amy", Phone: "+15550000600"}
	if err := s.db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	date := time.Date(2017, 11, 20, 0, 0, 0, 0, time.UTC)
	eventID, err := s.CreateEvent(NewEvent{
		UserID:       user.ID,
		Contact:      ContactInfo{Name: "Dad", Email: "dad@example.com", Phone: "+15550000601"},
		TemplateName: "Checking in",
		TemplateText: "Hi Dad, thinking of you!",
		Date:         date,
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	detail, err := s.EventByID(eventID)
	if err != nil {
		t.Fatalf("EventByID: %v", err)
	}
	if !detail.Date.Equal(date) {
		t.Fatalf("date = %v, want %v", detail.Date, date)
	}
	if detail.TemplateText != "Hi Dad, thinking of you!" {
		t.Fatalf("unexpected template text %q", detail.TemplateText)
	}
	if len(detail.Contacts) != 1 || detail.Contacts[0].Name != "Dad" {
		t.Fatalf("unexpected contacts %+v", detail.Contacts)
	}
	if detail.Owner.ID != user.ID {
		t.Fatalf("owner = %d, want %d", detail.Owner.ID, user.ID)
	}
}

func TestDeleteEventRemovesTemplateAndAssociation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	eventID := seedEvent(t, s, "+15550000700", time.Date(2017, 11, 13, 0, 0, 0, 0, time.UTC), "Birthday", "text")

	if err := s.DeleteEvent(eventID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}

	if _, err := s.EventByID(eventID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected event gone, got %v", err)
	}
	var templates, associations, contacts int64
	s.db.Model(&model.Template{}).Count(&templates)
	s.db.Model(&model.ContactEvent{}).Count(&associations)
	s.db.Model(&model.Contact{}).Count(&contacts)
	if templates != 0 || associations != 0 {
		t.Fatalf("expected template and association deleted, got %d templates %d associations", templates, associations)
	}
	if contacts != 1 {
		t.Fatalf("contact must survive event deletion, got %d contacts", contacts)
	}

	if err := s.DeleteEvent(eventID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestDeleteContactCascades(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	eventID := seedEvent(t, s, "+15550000800", time.Date(2017, 11, 13, 0, 0, 0, 0, time.UTC), "Birthday", "text")
	detail, err := s.EventByID(eventID)
	if err != nil {
		t.Fatalf("EventByID: %v", err)
	}

	if err := s.DeleteContact(detail.Contacts[0].ID); err != nil {
		t.Fatalf("DeleteContact: %v", err)
	}

	var contacts, events, templates, associations int64
	s.db.Model(&model.Contact{}).Count(&contacts)
	s.db.Model(&model.Event{}).Count(&events)
	s.db.Model(&model.Template{}).Count(&templates)
	s.db.Model(&model.ContactEvent{}).Count(&associations)
	if contacts != 0 || events != 0 || templates != 0 || associations != 0 {
		t.Fatalf("expected full cascade, got %d contacts %d events %d templates %d associations",
			contacts, events, templates, associations)
	}
}
