package store

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pathakanu/keepintouch/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a template write loses a version race.
	ErrConflict = errors.New("version conflict")
)

// Store provides access to users, contacts, events, and templates as plain
// value objects so the messaging and parsing logic never touches live ORM rows.
type Store struct {
	db     *gorm.DB
	logger *log.Logger
}

// Open creates a GORM database connection and runs migrations.
// When databaseURL is provided PostgreSQL is used, otherwise SQLite is used.
func Open(databaseURL string) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	if databaseURL != "" {
		db, err = gorm.Open(postgres.Open(databaseURL), gormConfig)
	} else {
		db, err = gorm.Open(sqlite.Open("keepintouch.db"), gormConfig)
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(model.All()...); err != nil {
		return nil, err
	}

	log.Printf("database: connected via %s", db.Dialector.Name())
	return db, nil
}

// New wraps an open database connection.
func New(db *gorm.DB, logger *log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// UserInfo is a snapshot of a user row.
type UserInfo struct {
	ID        uint
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// DisplayName returns the user's full name.
func (u UserInfo) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ContactInfo is a snapshot of a contact row.
type ContactInfo struct {
	ID    uint
	Name  string
	Email string
	Phone string
}

// EventDetail is a flattened snapshot of an event: its date, template,
// associated contacts in association order, and the owning user.
type EventDetail struct {
	EventID         uint
	Date            time.Time
	TemplateName    string
	TemplateText    string
	TemplateVersion uint
	Contacts        []ContactInfo
	Owner           UserInfo
}

// DayOf truncates t to midnight in its own location. Event dates are
// calendar dates; all comparisons go through this.
func DayOf(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

// EventsOnDate returns every event scheduled for exactly the given calendar
// date. An empty day yields an empty slice, not an error. Events missing a
// template or any associated contact are skipped with a log line; they must
// never reach dispatch.
func (s *Store) EventsOnDate(date time.Time) ([]EventDetail, error) {
	var events []model.Event
	if err := s.db.Where("date = ?", DayOf(date)).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("events on %s: %w", date.Format("2006-01-02"), err)
	}

	details := make([]EventDetail, 0, len(events))
	for _, event := range events {
		detail, err := s.hydrate(event)
		if err != nil {
			s.logger.Printf("store: skipping event %d: %v", event.ID, err)
			continue
		}
		details = append(details, detail)
	}
	return details, nil
}

// EventByID loads one event snapshot.
func (s *Store) EventByID(id uint) (EventDetail, error) {
	var event model.Event
	if err := s.db.First(&event, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return EventDetail{}, fmt.Errorf("event %d: %w", id, ErrNotFound)
		}
		return EventDetail{}, fmt.Errorf("event %d: %w", id, err)
	}
	return s.hydrate(event)
}

// UserByPhone resolves a user from a phone number, used to identify inbound
// SMS senders.
func (s *Store) UserByPhone(phone string) (UserInfo, error) {
	var user model.User
	if err := s.db.Where("phone = ?", phone).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UserInfo{}, fmt.Errorf("user with phone %s: %w", phone, ErrNotFound)
		}
		return UserInfo{}, fmt.Errorf("user with phone %s: %w", phone, err)
	}
	return userInfo(user), nil
}

// EventsForUserOnDate returns the events on the given date whose contacts
// belong to the user. Used by the re-prompt flow to find tomorrow's events.
func (s *Store) EventsForUserOnDate(userID uint, date time.Time) ([]EventDetail, error) {
	var events []model.Event
	err := s.db.
		Distinct("events.*").
		Joins("JOIN contact_events ON contact_events.event_id = events.id").
		Joins("JOIN contacts ON contacts.id = contact_events.contact_id").
		Where("contacts.user_id = ? AND events.date = ?", userID, DayOf(date)).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("events for user %d: %w", userID, err)
	}

	details := make([]EventDetail, 0, len(events))
	for _, event := range events {
		detail, err := s.hydrate(event)
		if err != nil {
			s.logger.Printf("store: skipping event %d: %v", event.ID, err)
			continue
		}
		details = append(details, detail)
	}
	return details, nil
}

// UpdateTemplateText overwrites the text of the event's template.
// The write succeeds only when version matches the stored row; a stale
// version returns ErrConflict so the caller can reload and retry.
func (s *Store) UpdateTemplateText(eventID uint, text string, version uint) error {
	var event model.Event
	if err := s.db.First(&event, eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("event %d: %w", eventID, ErrNotFound)
		}
		return fmt.Errorf("event %d: %w", eventID, err)
	}

	res := s.db.Model(&model.Template{}).
		Where("id = ? AND version = ?", event.TemplateID, version).
		Updates(map[string]interface{}{
			"text":    text,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("update template %d: %w", event.TemplateID, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.Model(&model.Template{}).Where("id = ?", event.TemplateID).Count(&count).Error; err != nil {
			return fmt.Errorf("update template %d: %w", event.TemplateID, err)
		}
		if count == 0 {
			return fmt.Errorf("template %d: %w", event.TemplateID, ErrNotFound)
		}
		return fmt.Errorf("template %d: %w", event.TemplateID, ErrConflict)
	}
	return nil
}

// NewEvent describes an event to create. When ContactID is zero a new
// contact is created from Contact for the owning user.
type NewEvent struct {
	UserID       uint
	ContactID    uint
	Contact      ContactInfo
	TemplateName string
	TemplateText string
	Date         time.Time
}

// CreateEvent persists the contact (when new), template, event, and the
// contact-event association in one transaction, returning the event id.
func (s *Store) CreateEvent(ev NewEvent) (uint, error) {
	var eventID uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		contactID := ev.ContactID
		if contactID == 0 {
			contact := model.Contact{
				Name:   ev.Contact.Name,
				Email:  ev.Contact.Email,
				Phone:  ev.Contact.Phone,
				UserID: ev.UserID,
			}
			if err := tx.Create(&contact).Error; err != nil {
				return err
			}
			contactID = contact.ID
		}

		template := model.Template{Name: ev.TemplateName, Text: ev.TemplateText, Version: 1}
		if err := tx.Create(&template).Error; err != nil {
			return err
		}

		event := model.Event{TemplateID: template.ID, Date: DayOf(ev.Date)}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}

		association := model.ContactEvent{ContactID: contactID, EventID: event.ID}
		if err := tx.Create(&association).Error; err != nil {
			return err
		}

		eventID = event.ID
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}
	return eventID, nil
}

// DeleteEvent removes an event together with its template and association
// rows. The contact survives.
func (s *Store) DeleteEvent(eventID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var event model.Event
		if err := tx.First(&event, eventID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("event %d: %w", eventID, ErrNotFound)
			}
			return err
		}
		if err := tx.Where("event_id = ?", eventID).Delete(&model.ContactEvent{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Event{}, eventID).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Template{}, event.TemplateID).Error
	})
}

// DeleteContact removes a contact and cascades to its events, their
// templates, and association rows.
func (s *Store) DeleteContact(contactID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var associations []model.ContactEvent
		if err := tx.Where("contact_id = ?", contactID).Find(&associations).Error; err != nil {
			return err
		}
		for _, association := range associations {
			var event model.Event
			if err := tx.First(&event, association.EventID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				return err
			}
			if err := tx.Where("event_id = ?", event.ID).Delete(&model.ContactEvent{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&model.Event{}, event.ID).Error; err != nil {
				return err
			}
			if err := tx.Delete(&model.Template{}, event.TemplateID).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(&model.Contact{}, contactID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("contact %d: %w", contactID, ErrNotFound)
		}
		return nil
	})
}

// hydrate flattens an event row into a snapshot with its template, contacts,
// and owner. An event without a template or without at least one contact is
// an invariant breach reported as ErrNotFound.
func (s *Store) hydrate(event model.Event) (EventDetail, error) {
	var template model.Template
	if err := s.db.First(&template, event.TemplateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return EventDetail{}, fmt.Errorf("template %d: %w", event.TemplateID, ErrNotFound)
		}
		return EventDetail{}, fmt.Errorf("template %d: %w", event.TemplateID, err)
	}

	var contacts []model.Contact
	err := s.db.
		Joins("JOIN contact_events ON contact_events.contact_id = contacts.id").
		Where("contact_events.event_id = ?", event.ID).
		Order("contact_events.id ASC").
		Find(&contacts).Error
	if err != nil {
		return EventDetail{}, fmt.Errorf("contacts for event %d: %w", event.ID, err)
	}
	if len(contacts) == 0 {
		return EventDetail{}, fmt.Errorf("contacts for event %d: %w", event.ID, ErrNotFound)
	}

	var owner model.User
	if err := s.db.First(&owner, contacts[0].UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return EventDetail{}, fmt.Errorf("owner of contact %d: %w", contacts[0].ID, ErrNotFound)
		}
		return EventDetail{}, fmt.Errorf("owner of contact %d: %w", contacts[0].ID, err)
	}

	detail := EventDetail{
		EventID:         event.ID,
		Date:            event.Date,
		TemplateName:    template.Name,
		TemplateText:    template.Text,
		TemplateVersion: template.Version,
		Contacts:        make([]ContactInfo, 0, len(contacts)),
		Owner:           userInfo(owner),
	}
	for _, contact := range contacts {
		detail.Contacts = append(detail.Contacts, ContactInfo{
			ID:    contact.ID,
			Name:  contact.Name,
			Email: contact.Email,
			Phone: contact.Phone,
		})
	}
	return detail, nil
}

func userInfo(user model.User) UserInfo {
	return UserInfo{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		Phone:     user.Phone,
	}
}
