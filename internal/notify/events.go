package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what happened. The conversation core only decides
// kind plus data; message wording lives on this side of the boundary.
type Kind string

const (
	KindBookingConfirmed   Kind = "booking_confirmed"
	KindBookingRescheduled Kind = "booking_rescheduled"
	KindBookingCancelled   Kind = "booking_cancelled"
	KindCallbackOffer      Kind = "callback_offer"
)

// Event is one outbound notification.
type Event struct {
	ID               string    `json:"id"`
	Kind             Kind      `json:"kind"`
	Phone            string    `json:"phone"`
	PatientName      string    `json:"patient_name,omitempty"`
	ClinicName       string    `json:"clinic_name,omitempty"`
	PractitionerName string    `json:"practitioner_name,omitempty"`
	StartTime        time.Time `json:"start_time,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// EncodeEvent fills ID and OccurredAt when missing and returns the
// JSON body used as the queue payload.
func EncodeEvent(ev Event) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("notify: failed to encode event: %w", err)
	}
	return string(body), nil
}

// DecodeEvent parses a queue payload back into an Event.
func DecodeEvent(body string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return Event{}, fmt.Errorf("notify: failed to decode event: %w", err)
	}
	if ev.Kind == "" {
		return Event{}, fmt.Errorf("notify: event %q has no kind", ev.ID)
	}
	return ev, nil
}

// RenderMessage produces the SMS text for an event.
func RenderMessage(ev Event) string {
	clinic := ev.ClinicName
	if clinic == "" {
		clinic = "the clinic"
	}
	when := ev.StartTime.Format("Monday 2 January at 3:04 PM")

	switch ev.Kind {
	case KindBookingConfirmed:
		if ev.PractitionerName != "" {
			return fmt.Sprintf("Your appointment at %s is confirmed for %s with %s. Reply to this number if anything changes.", clinic, when, ev.PractitionerName)
		}
		return fmt.Sprintf("Your appointment at %s is confirmed for %s. Reply to this number if anything changes.", clinic, when)
	case KindBookingRescheduled:
		return fmt.Sprintf("Your appointment at %s has been moved to %s.", clinic, when)
	case KindBookingCancelled:
		return fmt.Sprintf("Your appointment at %s has been cancelled. Call us if you'd like to rebook.", clinic)
	case KindCallbackOffer:
		return fmt.Sprintf("Sorry we couldn't finish your booking with %s over the phone. Our team will call you back shortly to arrange a time.", clinic)
	default:
		return ""
	}
}
