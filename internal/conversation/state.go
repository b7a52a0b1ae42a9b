package conversation

import (
	"time"

	"github.com/hartleylabs/frontdesk/internal/availability"
)

// Participant is one named person in a group booking.
type Participant struct {
	Name string `json:"name"`
}

// State tracks dialogue progress as independent fields rather than one
// global enum. Each turn the interpreter proposes a Delta; guards in
// Apply decide what actually lands.
type State struct {
	IsNewPatient     bool   `json:"is_new_patient"`
	BookingConfirmed bool   `json:"booking_confirmed"`
	CallerName       string `json:"caller_name,omitempty"`
	CallerEmail      string `json:"caller_email,omitempty"`

	// SelectedSlotIndex points into OfferedSlots; nil when nothing chosen.
	SelectedSlotIndex *int                `json:"selected_slot_index,omitempty"`
	OfferedSlots      []availability.Slot `json:"offered_slots,omitempty"`
	// SlotsOfferedAtTurn is the turn the current slot options were first
	// presented. Stamped exactly once per offering.
	SlotsOfferedAtTurn *int `json:"slots_offered_at_turn,omitempty"`

	IsGroupBooking       bool          `json:"is_group_booking"`
	GroupParticipants    []Participant `json:"group_participants,omitempty"`
	TimePreference       string        `json:"time_preference,omitempty"`
	GroupBookingProposed bool          `json:"group_booking_proposed"`
	GroupBookingAccepted bool          `json:"group_booking_accepted"`
	// GroupProposalText is kept so an unclear reply can repeat the
	// proposal verbatim.
	GroupProposalText string `json:"group_proposal_text,omitempty"`

	PossiblePatientID   string `json:"possible_patient_id,omitempty"`
	PossiblePatientName string `json:"possible_patient_name,omitempty"`
	ConfirmedPatientID  string `json:"confirmed_patient_id,omitempty"`
	SharedPhoneAsked    bool   `json:"shared_phone_asked"`
	SharedPhoneAnswer   string `json:"shared_phone_answer,omitempty"`

	// AppointmentCreated marks the terminal state; no booking prompt may
	// be emitted once it is set.
	AppointmentCreated bool   `json:"appointment_created"`
	AppointmentID      string `json:"appointment_id,omitempty"`

	EmptySpeechCount int `json:"empty_speech_count"`
}

// Turn is one caller utterance and the reply it produced.
type Turn struct {
	Index     int       `json:"index"`
	Utterance string    `json:"utterance"`
	Reply     string    `json:"reply"`
	At        time.Time `json:"at"`
}

// CallContext is the per-call record, owned exclusively by the call's
// handler and destroyed when the call ends or times out.
type CallContext struct {
	SessionID      string    `json:"session_id"`
	CallerPhone    string    `json:"caller_phone"`
	TenantID       string    `json:"tenant_id"`
	State          State     `json:"state"`
	Turns          []Turn    `json:"turns"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// TurnIndex is the index the next turn will carry.
func (c *CallContext) TurnIndex() int {
	return len(c.Turns)
}

// Delta is the interpreter's proposed change for one turn. Nil pointer
// fields leave state untouched; guards may still reject what is set.
type Delta struct {
	Reply string `json:"reply"`

	IsNewPatient      *bool         `json:"is_new_patient,omitempty"`
	BookingConfirmed  *bool         `json:"booking_confirmed,omitempty"`
	SelectedSlotIndex *int          `json:"selected_slot_index,omitempty"`
	CallerName        *string       `json:"caller_name,omitempty"`
	CallerEmail       *string       `json:"caller_email,omitempty"`
	IsGroupBooking    *bool         `json:"is_group_booking,omitempty"`
	GroupParticipants []Participant `json:"group_participants,omitempty"`
	TimePreference    *string       `json:"time_preference,omitempty"`

	// DateExpression is the caller's spoken date phrase, passed to the
	// date resolver when availability is wanted.
	DateExpression    string `json:"date_expression,omitempty"`
	WantsAvailability bool   `json:"wants_availability,omitempty"`
	// PartOfDay is morning/afternoon/evening when the caller stated one.
	PartOfDay string `json:"part_of_day,omitempty"`
}

// GuardEvent records a guard correcting or rejecting part of a proposed
// delta. Guard rejections are not errors and are never surfaced to the
// caller as failures.
type GuardEvent struct {
	Guard  string
	Detail string
}

const (
	GuardSlotConfirmation = "slot_confirmation"
	GuardTerminalReply    = "terminal_reply"
	GuardSharedPhone      = "shared_phone"
	GuardGroupBooking     = "group_booking"
)
