package reply

import (
	"encoding/xml"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pathakanu/keepintouch/internal/store"
)

// markerToken correlates an inbound reply with an event. Recipients are
// instructed to end their reply with "event_id=<n>".
const markerToken = "event_id"

// casRetries bounds reload-and-retry when a template write loses a version race.
const casRetries = 3

// SMSSender sends the re-prompt texts that go out alongside the webhook reply.
type SMSSender interface {
	SendSMS(to, body string) (string, error)
}

// Handler processes inbound Twilio webhooks. A reply carrying the marker
// token updates the named event's template text; a reply without it gets a
// re-prompt for each of the sender's events due tomorrow.
type Handler struct {
	store    *store.Store
	sms      SMSSender
	location *time.Location
	now      func() time.Time
	logger   *log.Logger
}

// New creates a handler. now is the clock used to compute "tomorrow"; pass
// time.Now outside of tests.
func New(st *store.Store, sms SMSSender, location *time.Location, now func() time.Time, logger *log.Logger) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{
		store:    st,
		sms:      sms,
		location: location,
		now:      now,
		logger:   logger,
	}
}

// Handler returns the HTTP handler for incoming Twilio messages.
func (h *Handler) Handler() http.HandlerFunc {
	return h.handleIncomingMessage
}

// handleIncomingMessage processes Twilio webhook POST requests.
func (h *Handler) handleIncomingMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Printf("webhook: parse error: %v", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := strings.TrimSpace(r.FormValue("Body"))
	if from == "" || body == "" {
		http.Error(w, "missing From or Body", http.StatusBadRequest)
		return
	}

	user, err := h.store.UserByPhone(from)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Unknown sender gets no reply at all.
			h.logger.Printf("webhook: unknown sender %s", from)
			http.Error(w, "unknown sender", http.StatusNotFound)
			return
		}
		h.logger.Printf("webhook: resolve sender %s: %v", from, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	eventID, newText, ok := parseMarker(body)
	if !ok {
		// Missing marker and malformed id land here alike.
		h.reprompt(w, user)
		return
	}
	h.updateTemplate(w, user, eventID, newText)
}

// updateTemplate overwrites the event's template text and confirms the
// change to the sender.
func (h *Handler) updateTemplate(w http.ResponseWriter, user store.UserInfo, eventID uint, newText string) {
	event, err := h.store.EventByID(eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.logger.Printf("webhook: user %d referenced unknown event %d", user.ID, eventID)
			h.writeTwiML(w, fmt.Sprintf("Sorry %s, we couldn't find an event with id %d. Please check the id and try again.", user.FirstName, eventID))
			return
		}
		h.logger.Printf("webhook: load event %d: %v", eventID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		err = h.store.UpdateTemplateText(event.EventID, newText, event.TemplateVersion)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		event, err = h.store.EventByID(eventID)
		if err != nil {
			break
		}
		err = store.ErrConflict
	}
	if err != nil {
		h.logger.Printf("webhook: update template for event %d: %v", eventID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.writeTwiML(w, fmt.Sprintf("Thanks, %s! Your new message will be sent as: '%s'", user.FirstName, newText))
}

// reprompt texts the sender one correction per event of theirs due tomorrow,
// naming the marker to append. No qualifying events means no reply at all.
func (h *Handler) reprompt(w http.ResponseWriter, user store.UserInfo) {
	tomorrow := store.DayOf(h.now().In(h.location)).AddDate(0, 0, 1)
	events, err := h.store.EventsForUserOnDate(user.ID, tomorrow)
	if err != nil {
		h.logger.Printf("webhook: events due tomorrow for user %d: %v", user.ID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	for _, event := range events {
		body := fmt.Sprintf(
			"You didn't add 'event_id=%d' to your response. Please text us the same message with 'event_id=%d' at the end.",
			event.EventID, event.EventID,
		)
		if _, err := h.sms.SendSMS(user.Phone, body); err != nil {
			h.logger.Printf("webhook: re-prompt for event %d to %s: %v", event.EventID, user.Phone, err)
		}
	}
	h.writeTwiML(w, "")
}

// parseMarker extracts the event id and the preceding message text from an
// inbound reply. The marker is matched case-insensitively; the text before
// it, right-trimmed, becomes the new template text. A missing marker or a
// non-numeric id yields ok=false.
func parseMarker(body string) (eventID uint, text string, ok bool) {
	idx := strings.Index(strings.ToLower(body), markerToken)
	if idx < 0 {
		return 0, "", false
	}

	after := strings.TrimSpace(body[idx+len(markerToken):])
	if !strings.HasPrefix(after, "=") {
		return 0, "", false
	}
	id, err := strconv.ParseUint(strings.TrimSpace(after[1:]), 10, 32)
	if err != nil || id == 0 {
		return 0, "", false
	}

	return uint(id), strings.TrimRightFunc(body[:idx], unicode.IsSpace), true
}

// writeTwiML writes a TwiML response. An empty message produces an empty
// <Response/> document, which Twilio treats as "no reply".
func (h *Handler) writeTwiML(w http.ResponseWriter, message string) {
	twiml := struct {
		XMLName xml.Name `xml:"Response"`
		Message string   `xml:"Message,omitempty"`
	}{
		Message: message,
	}

	w.Header().Set("Content-Type", "application/xml")
	if err := xml.NewEncoder(w).Encode(twiml); err != nil {
		h.logger.Printf("webhook: response encode: %v", err)
	}
}
