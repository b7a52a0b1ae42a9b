package conversation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hartleylabs/frontdesk/internal/availability"
	"github.com/hartleylabs/frontdesk/internal/identity"
)

// bookingInvitationRE matches replies that invite the caller to book.
// After an appointment exists these must never reach the caller.
var bookingInvitationRE = regexp.MustCompile(`(?i)(would\s+you\s+like\s+(me\s+)?to\s+book|would\s+you\s+like\s+to\s+book|what\s+time\s+works|shall\s+i\s+(confirm|book)|can\s+i\s+book\s+you|ready\s+to\s+book|which\s+(time|slot)\s+(works|suits))`)

const terminalClosingReply = "You're all booked. Is there anything else I can help you with?"

// Reducer applies a proposed Delta to State, running every guard
// independently. It performs no I/O; external actions are decided by
// the engine from the returned state and events.
type Reducer struct {
	classifier          Classifier
	similarityThreshold float64
	typoDistance        int
}

// NewReducer builds a reducer with the given name-similarity tuning.
func NewReducer(classifier Classifier, similarityThreshold float64, typoDistance int) Reducer {
	if classifier == nil {
		classifier = RegexClassifier{}
	}
	if similarityThreshold <= 0 {
		similarityThreshold = 0.55
	}
	if typoDistance <= 0 {
		typoDistance = 2
	}
	return Reducer{
		classifier:          classifier,
		similarityThreshold: similarityThreshold,
		typoDistance:        typoDistance,
	}
}

// Apply returns the next state, the reply to speak, and the guard
// events raised while filtering the delta.
func (r Reducer) Apply(state State, delta Delta, turn Turn) (State, string, []GuardEvent) {
	var events []GuardEvent
	reply := delta.Reply

	state.countEmptySpeech(turn.Utterance)
	state.applyFields(delta)

	if ev := state.resolveSharedPhone(turn.Utterance, r.similarityThreshold, r.typoDistance); ev != nil {
		events = append(events, *ev)
	}

	if newReply, evs := r.applyGroupFlow(&state, turn, reply); len(evs) > 0 {
		events = append(events, evs...)
		reply = newReply
	}

	if ev := state.applyBookingConfirmation(delta, turn.Index); ev != nil {
		events = append(events, *ev)
	}

	if state.AppointmentCreated && bookingInvitationRE.MatchString(reply) {
		events = append(events, GuardEvent{
			Guard:  GuardTerminalReply,
			Detail: "suppressed booking invitation after appointment creation",
		})
		reply = terminalClosingReply
	}

	return state, reply, events
}

func (s *State) countEmptySpeech(utterance string) {
	if strings.TrimSpace(utterance) == "" {
		s.EmptySpeechCount++
		return
	}
	s.EmptySpeechCount = 0
}

func (s *State) applyFields(delta Delta) {
	if delta.IsNewPatient != nil {
		s.IsNewPatient = *delta.IsNewPatient
	}
	if delta.CallerName != nil && strings.TrimSpace(*delta.CallerName) != "" {
		s.CallerName = strings.TrimSpace(*delta.CallerName)
	}
	if delta.CallerEmail != nil && strings.TrimSpace(*delta.CallerEmail) != "" {
		s.CallerEmail = strings.TrimSpace(*delta.CallerEmail)
	}
	if delta.IsGroupBooking != nil {
		s.IsGroupBooking = *delta.IsGroupBooking
	}
	if len(delta.GroupParticipants) > 0 {
		s.GroupParticipants = delta.GroupParticipants
	}
	if delta.TimePreference != nil {
		s.TimePreference = *delta.TimePreference
	}
	if delta.SelectedSlotIndex != nil {
		idx := *delta.SelectedSlotIndex
		s.SelectedSlotIndex = &idx
	}
}

// resolveSharedPhone handles the answer to "for yourself or someone
// else?". A possible identity is only ever confirmed by a "myself"
// answer plus a name that matches; everything ambiguous clears it.
func (s *State) resolveSharedPhone(utterance string, threshold float64, typoDistance int) *GuardEvent {
	if s.PossiblePatientID == "" || !s.SharedPhoneAsked {
		return nil
	}

	if s.SharedPhoneAnswer == "" {
		if answer := SharedPhoneAnswer(utterance); answer != "" {
			s.SharedPhoneAnswer = answer
		}
	}

	switch s.SharedPhoneAnswer {
	case "someone_else":
		s.PossiblePatientID = ""
		s.PossiblePatientName = ""
		return &GuardEvent{Guard: GuardSharedPhone, Detail: "caller is booking for someone else; possible identity cleared"}
	case "myself":
		if s.CallerName == "" {
			return nil
		}
		if identity.Similarity(s.CallerName, s.PossiblePatientName, typoDistance) >= threshold {
			s.ConfirmedPatientID = s.PossiblePatientID
			return &GuardEvent{Guard: GuardSharedPhone, Detail: "possible identity confirmed by name"}
		}
		s.PossiblePatientID = ""
		s.PossiblePatientName = ""
		return &GuardEvent{Guard: GuardSharedPhone, Detail: "name did not match possible identity; treating as different patient"}
	}
	return nil
}

// applyBookingConfirmation enforces the slot-confirmation guard: a
// booking may only be confirmed on a turn strictly later than the one
// the slots were offered on, and a group booking only after its
// proposal was accepted.
func (s *State) applyBookingConfirmation(delta Delta, turnIndex int) *GuardEvent {
	if delta.BookingConfirmed == nil {
		return nil
	}
	if !*delta.BookingConfirmed {
		s.BookingConfirmed = false
		return nil
	}

	if s.SlotsOfferedAtTurn == nil || *s.SlotsOfferedAtTurn == turnIndex {
		s.BookingConfirmed = false
		s.SelectedSlotIndex = nil
		return &GuardEvent{
			Guard:  GuardSlotConfirmation,
			Detail: "booking confirmation rejected: caller has not had a turn to respond to the offered slots",
		}
	}
	if s.IsGroupBooking && !s.GroupBookingAccepted {
		s.BookingConfirmed = false
		return &GuardEvent{
			Guard:  GuardGroupBooking,
			Detail: "group booking rejected: proposal not yet acknowledged",
		}
	}
	s.BookingConfirmed = true
	return nil
}

// applyGroupFlow runs the propose/confirm/decline/unclear cycle. On
// first readiness it proposes a per-person assignment and explicitly
// withholds booking action.
func (r Reducer) applyGroupFlow(s *State, turn Turn, reply string) (string, []GuardEvent) {
	if !s.IsGroupBooking {
		return reply, nil
	}

	if s.GroupBookingProposed && !s.GroupBookingAccepted {
		switch r.classifier.Classify(turn.Utterance) {
		case IntentConfirm:
			s.GroupBookingAccepted = true
			return reply, []GuardEvent{{Guard: GuardGroupBooking, Detail: "group proposal accepted"}}
		case IntentDecline:
			s.GroupBookingProposed = false
			s.GroupProposalText = ""
			s.TimePreference = ""
			return "No problem. What time of day would suit everyone better?",
				[]GuardEvent{{Guard: GuardGroupBooking, Detail: "group proposal declined; re-asking time preference"}}
		default:
			return s.GroupProposalText,
				[]GuardEvent{{Guard: GuardGroupBooking, Detail: "unclear reply; repeating group proposal"}}
		}
	}

	if !s.GroupBookingProposed && s.groupReady() {
		s.GroupBookingProposed = true
		s.GroupProposalText = buildGroupProposal(s.GroupParticipants, s.TimePreference)
		s.BookingConfirmed = false
		return s.GroupProposalText,
			[]GuardEvent{{Guard: GuardGroupBooking, Detail: "group proposal issued; booking withheld pending acknowledgment"}}
	}

	return reply, nil
}

// groupReady requires at least two participants with real names and a
// resolved time preference.
func (s *State) groupReady() bool {
	if s.TimePreference == "" {
		return false
	}
	named := 0
	for _, p := range s.GroupParticipants {
		if IsRealName(p.Name) {
			named++
		}
	}
	return named >= 2
}

func buildGroupProposal(participants []Participant, timePreference string) string {
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		if IsRealName(p.Name) {
			names = append(names, p.Name)
		}
	}
	var order strings.Builder
	for i, name := range names {
		switch {
		case i == 0:
			order.WriteString(name + " first")
		case i == len(names)-1:
			order.WriteString(", then " + name + " right after")
		default:
			order.WriteString(", then " + name)
		}
	}
	return fmt.Sprintf("For the %s I'd book %s. Does that suit everyone?", timePreference, order.String())
}

// OfferSlots records freshly presented slot options and stamps the turn
// they were offered on. Any earlier selection is reset since the
// options changed.
func (s *State) OfferSlots(slots []availability.Slot, turnIndex int) {
	s.OfferedSlots = slots
	idx := turnIndex
	s.SlotsOfferedAtTurn = &idx
	s.BookingConfirmed = false
	s.SelectedSlotIndex = nil
}
