package notify

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pathakanu/keepintouch/internal/mail"
	"github.com/pathakanu/keepintouch/internal/store"
)

// SMSSender sends a text message and returns the provider's message id.
type SMSSender interface {
	SendSMS(to, body string) (string, error)
}

// EmailSender delivers one plain-text email.
type EmailSender interface {
	Send(from, to mail.Address, subject, body string) error
}

// Identity is the service's own sending identity for reminder mail.
type Identity struct {
	Name  string
	Email string
}

// Dispatcher resolves the events due on a date and sends both notification
// flows for each: a reminder to the owning user and the template message to
// the contact. The two flows are independent; a transport failure in one is
// logged and never blocks the other, nor the rest of the batch.
type Dispatcher struct {
	store    *store.Store
	sms      SMSSender
	email    EmailSender
	identity Identity
	location *time.Location
	now      func() time.Time
	logger   *log.Logger
}

// New creates a dispatcher. now is the clock used to compute "today"; pass
// time.Now outside of tests.
func New(st *store.Store, sms SMSSender, email EmailSender, identity Identity, location *time.Location, now func() time.Time, logger *log.Logger) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		store:    st,
		sms:      sms,
		email:    email,
		identity: identity,
		location: location,
		now:      now,
		logger:   logger,
	}
}

// DueEvents returns every event scheduled for exactly the given calendar
// date. No matching events is a normal outcome: empty slice, nil error.
func (d *Dispatcher) DueEvents(date time.Time) ([]store.EventDetail, error) {
	return d.store.EventsOnDate(date)
}

// Run resolves today's events and dispatches them. This is the scheduled job.
func (d *Dispatcher) Run() {
	today := store.DayOf(d.now().In(d.location))
	events, err := d.DueEvents(today)
	if err != nil {
		d.logger.Printf("dispatch: resolve due events: %v", err)
		return
	}
	if len(events) == 0 {
		d.logger.Printf("dispatch: no events due on %s", today.Format("2006-01-02"))
		return
	}
	d.Dispatch(events)
}

// Dispatch sends both flows for each event. At most two outbound calls are
// made per event.
func (d *Dispatcher) Dispatch(events []store.EventDetail) {
	for _, event := range events {
		if !d.dispatchable(event) {
			continue
		}
		d.remindUser(event)
		d.deliverToContact(event)
	}
}

// dispatchable guards the invariant that dispatch never runs against an
// event lacking a template or an associated contact.
func (d *Dispatcher) dispatchable(event store.EventDetail) bool {
	if len(event.Contacts) == 0 {
		d.logger.Printf("dispatch: event %d has no contacts, skipping", event.EventID)
		return false
	}
	if strings.TrimSpace(event.TemplateText) == "" {
		d.logger.Printf("dispatch: event %d has no template text, skipping", event.EventID)
		return false
	}
	return true
}

// remindUser notifies the owning user that the event is coming up, naming
// the contact and the template. SMS when the user has a phone on file, email
// otherwise. The template body itself is not echoed.
func (d *Dispatcher) remindUser(event store.EventDetail) {
	contact := event.Contacts[0]
	body := reminderBody(event)

	switch {
	case event.Owner.Phone != "":
		sid, err := d.sms.SendSMS(event.Owner.Phone, body)
		if err != nil {
			d.logger.Printf("dispatch: reminder SMS for event %d to %s: %v", event.EventID, event.Owner.Phone, err)
			return
		}
		d.logger.Printf("dispatch: reminder SMS for event %d sent, SID %s", event.EventID, sid)
	case event.Owner.Email != "":
		from := mail.Address{Name: d.identity.Name, Email: d.identity.Email}
		to := mail.Address{Name: event.Owner.DisplayName(), Email: event.Owner.Email}
		subject := fmt.Sprintf("Reminder to keep in touch with %s", contact.Name)
		if err := d.email.Send(from, to, subject, body); err != nil {
			d.logger.Printf("dispatch: reminder email for event %d to %s: %v", event.EventID, event.Owner.Email, err)
			return
		}
		d.logger.Printf("dispatch: reminder email for event %d sent to %s", event.EventID, event.Owner.Email)
	default:
		d.logger.Printf("dispatch: event %d owner %d has no phone or email, reminder skipped", event.EventID, event.Owner.ID)
	}
}

// deliverToContact sends the template text to the event's first contact,
// from the owning user's name and address.
func (d *Dispatcher) deliverToContact(event store.EventDetail) {
	contact := event.Contacts[0]
	from := mail.Address{Name: event.Owner.DisplayName(), Email: event.Owner.Email}
	to := mail.Address{Name: contact.Name, Email: contact.Email}

	if err := d.email.Send(from, to, event.TemplateName, event.TemplateText); err != nil {
		d.logger.Printf("dispatch: delivery for event %d to %s: %v", event.EventID, contact.Email, err)
		return
	}
	d.logger.Printf("dispatch: event %d message delivered to %s", event.EventID, contact.Email)
}

func reminderBody(event store.EventDetail) string {
	contact := event.Contacts[0]
	return fmt.Sprintf(
		"Hello %s, your event for %s is coming up on %s and we will send your '%s' message soon. "+
			"To change it, reply with the new message in one SMS, ending with 'event_id=%d'.",
		event.Owner.FirstName,
		contact.Name,
		event.Date.Format("Jan 2"),
		event.TemplateName,
		event.EventID,
	)
}
