package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hartleylabs/frontdesk/internal/availability"
	"github.com/hartleylabs/frontdesk/internal/cliniko"
	"github.com/hartleylabs/frontdesk/internal/observability/metrics"
	"github.com/hartleylabs/frontdesk/internal/timeparse"
	"github.com/hartleylabs/frontdesk/pkg/logging"
)

// Output is what one processed turn tells the telephony layer to do.
type Output struct {
	Reply   string
	EndCall bool
}

// IdentityService is the slice of the identity resolver the engine uses.
type IdentityService interface {
	LookupByPhone(ctx context.Context, phone string) *cliniko.Patient
}

// AvailabilityService fetches slot options for the engine.
type AvailabilityService interface {
	GetAvailability(ctx context.Context, from, to time.Time, practitionerID, appointmentTypeID, partOfDay string) ([]availability.Slot, error)
}

// BookingRequest is what the engine hands to the booking layer once all
// guards have passed.
type BookingRequest struct {
	CallerPhone string
	CallerName  string
	CallerEmail string
	// PatientID is set when identity was confirmed earlier in the call.
	PatientID string
	Slot      availability.Slot
	Notes     string
}

// Booker creates appointments. Implemented by the booking orchestrator.
type Booker interface {
	Book(ctx context.Context, req BookingRequest) (appointmentID string, err error)
}

// CallRecorder persists the outcome of a finished call. Best-effort;
// the engine never fails a call over it.
type CallRecorder interface {
	RecordCall(ctx context.Context, call *CallContext, outcome string)
}

// Notifier publishes outbound notifications after booking steps.
type Notifier interface {
	NotifyBookingConfirmed(ctx context.Context, phone, patientName, practitionerName string, start time.Time)
	NotifyCallbackOffer(ctx context.Context, phone, patientName string)
}

// EngineConfig tunes the turn processor.
type EngineConfig struct {
	ClinicName          string
	MaxEmptySpeechTurns int
	MaxSlotsOffered     int
	Logger              *logging.Logger
	CallMetrics         *metrics.CallMetrics
	Recorder            CallRecorder
	Notifier            Notifier
}

// Engine is the per-call turn processor. Each call is logically
// sequential; external calls within a turn run one after another since
// each depends on the previous result.
type Engine struct {
	store        ContextStore
	interpreter  TurnInterpreter
	classifier   Classifier
	reducer      Reducer
	identity     IdentityService
	availability AvailabilityService
	booker       Booker
	dates        *timeparse.Resolver

	clinicName    string
	maxEmptyTurns int
	maxSlots      int
	logger        *logging.Logger
	callMetrics   *metrics.CallMetrics
	recorder      CallRecorder
	notifier      Notifier
	now           func() time.Time
}

// NewEngine wires the turn processor.
func NewEngine(store ContextStore, interpreter TurnInterpreter, reducer Reducer, ident IdentityService, avail AvailabilityService, booker Booker, dates *timeparse.Resolver, cfg EngineConfig) *Engine {
	if cfg.ClinicName == "" {
		cfg.ClinicName = "the clinic"
	}
	if cfg.MaxEmptySpeechTurns <= 0 {
		cfg.MaxEmptySpeechTurns = 2
	}
	if cfg.MaxSlotsOffered <= 0 {
		cfg.MaxSlotsOffered = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Engine{
		store:         store,
		interpreter:   interpreter,
		classifier:    RegexClassifier{},
		reducer:       reducer,
		identity:      ident,
		availability:  avail,
		booker:        booker,
		dates:         dates,
		clinicName:    cfg.ClinicName,
		maxEmptyTurns: cfg.MaxEmptySpeechTurns,
		maxSlots:      cfg.MaxSlotsOffered,
		logger:        cfg.Logger,
		callMetrics:   cfg.CallMetrics,
		recorder:      cfg.Recorder,
		notifier:      cfg.Notifier,
		now:           time.Now,
	}
}

// WithClock overrides the engine's time source for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// StartCall creates the call context and returns the greeting. A phone
// lookup may attach a possible identity; it is never confirmed here.
func (e *Engine) StartCall(ctx context.Context, sessionID, callerPhone, tenantID string) (Output, error) {
	call := &CallContext{
		SessionID:      sessionID,
		CallerPhone:    callerPhone,
		TenantID:       tenantID,
		StartedAt:      e.now(),
		LastActivityAt: e.now(),
	}

	if patient := e.identity.LookupByPhone(ctx, callerPhone); patient != nil {
		call.State.PossiblePatientID = patient.ID
		call.State.PossiblePatientName = patient.FullName()
	}

	reply := fmt.Sprintf("Thanks for calling %s. How can I help you today?", e.clinicName)
	if err := e.store.Save(ctx, call); err != nil {
		return Output{}, err
	}
	return Output{Reply: reply}, nil
}

// ProcessTurn runs one caller utterance through classification, the
// interpreter, the guards and any external actions the resulting state
// allows.
func (e *Engine) ProcessTurn(ctx context.Context, sessionID, callerPhone, utterance string) (Output, error) {
	call, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return Output{}, err
	}
	if call == nil {
		call = &CallContext{
			SessionID:      sessionID,
			CallerPhone:    callerPhone,
			StartedAt:      e.now(),
			LastActivityAt: e.now(),
		}
	}
	e.callMetrics.ObserveTurn()
	turnIdx := call.TurnIndex()

	if strings.TrimSpace(utterance) == "" {
		return e.handleEmptySpeech(ctx, call, turnIdx)
	}
	call.State.EmptySpeechCount = 0

	switch e.classifier.Classify(utterance) {
	case IntentHangupCommand:
		return e.endCall(ctx, call, turnIdx, utterance, "", "hangup")
	case IntentHangupQuestion:
		reply := "I'll stay on the line as long as you need. Is there anything else I can help with?"
		return e.finishTurn(ctx, call, turnIdx, utterance, reply)
	case IntentGoodbye:
		reply := "Thanks for calling. Have a great day!"
		outcome := "completed"
		if call.State.AppointmentCreated {
			outcome = "booked"
		}
		return e.endCall(ctx, call, turnIdx, utterance, reply, outcome)
	}

	delta, err := e.interpreter.Interpret(ctx, call, utterance)
	if err != nil {
		e.logger.Error("turn interpretation failed", "session_id", sessionID, "error", err)
		delta = Delta{Reply: "Sorry, I'm having a little trouble. Could you say that again?"}
	}

	turn := Turn{Index: turnIdx, Utterance: utterance, At: e.now()}
	state, reply, events := e.reducer.Apply(call.State, delta, turn)
	for _, ev := range events {
		e.logger.Info("guard applied", "session_id", sessionID, "guard", ev.Guard, "detail", ev.Detail)
	}
	call.State = state

	if out, handled := e.maybeAskSharedPhone(call, delta); handled {
		return e.finishTurn(ctx, call, turnIdx, utterance, out)
	}

	if delta.WantsAvailability && !call.State.AppointmentCreated {
		reply = e.offerAvailability(ctx, call, delta, turnIdx, reply)
	}

	if call.State.BookingConfirmed && !call.State.AppointmentCreated {
		reply = e.createBooking(ctx, call, reply)
	}

	return e.finishTurn(ctx, call, turnIdx, utterance, reply)
}

// EndCall tears the call context down when the telephony layer signals
// call end; in-flight background work is abandoned safely.
func (e *Engine) EndCall(ctx context.Context, sessionID string) error {
	call, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if call == nil {
		return nil
	}
	outcome := "abandoned"
	if call.State.AppointmentCreated {
		outcome = "booked"
	}
	e.callMetrics.ObserveCall(outcome)
	if e.recorder != nil {
		e.recorder.RecordCall(ctx, call, outcome)
	}
	return e.store.Delete(ctx, sessionID)
}

// Snapshot returns the current call context, for teardown logging.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (*CallContext, error) {
	return e.store.Load(ctx, sessionID)
}

func (e *Engine) handleEmptySpeech(ctx context.Context, call *CallContext, turnIdx int) (Output, error) {
	call.State.EmptySpeechCount++
	if call.State.EmptySpeechCount >= e.maxEmptyTurns {
		reply := "It sounds like you may have stepped away, so I'll let you go. Feel free to call back any time."
		return e.endCall(ctx, call, turnIdx, "", reply, "silent")
	}
	reply := "Sorry, I didn't catch that. Could you say it again?"
	return e.finishTurn(ctx, call, turnIdx, "", reply)
}

// maybeAskSharedPhone interposes the disambiguation question before any
// booking step when an unconfirmed phone match exists.
func (e *Engine) maybeAskSharedPhone(call *CallContext, delta Delta) (string, bool) {
	s := &call.State
	if s.PossiblePatientID == "" || s.SharedPhoneAsked || s.ConfirmedPatientID != "" {
		return "", false
	}
	bookingIntent := delta.WantsAvailability || (delta.BookingConfirmed != nil && *delta.BookingConfirmed)
	if !bookingIntent {
		return "", false
	}
	s.SharedPhoneAsked = true
	return "Before we go on, is this booking for yourself or for someone else?", true
}

func (e *Engine) offerAvailability(ctx context.Context, call *CallContext, delta Delta, turnIdx int, reply string) string {
	rng := e.dates.Resolve(delta.DateExpression)
	label := rng.Label
	if !rng.Parsed {
		// Fall back to the default search window rather than stalling.
		e.logger.Warn("date expression not understood", "session_id", call.SessionID,
			"expression", delta.DateExpression, "detail", rng.Label)
		label = "over the next couple of weeks"
	}

	slots, err := e.availability.GetAvailability(ctx, rng.From, rng.To, "", "", delta.PartOfDay)
	if err != nil {
		if errors.Is(err, availability.ErrNoEligibleConfig) {
			e.logger.Error("availability misconfigured", "session_id", call.SessionID, "error", err)
			return "I'm sorry, I can't see the appointment book right now. I'll have the team call you back to arrange a time."
		}
		e.logger.Error("availability fetch failed", "session_id", call.SessionID, "error", err)
		return "I'm having trouble checking times just now. Could we try again in a moment?"
	}
	if len(slots) == 0 {
		return fmt.Sprintf("I don't have anything open %s. Is there another day that could work?", label)
	}

	if len(slots) > e.maxSlots {
		slots = slots[:e.maxSlots]
	}
	call.State.OfferSlots(slots, turnIdx)
	return renderSlotOffer(slots, label)
}

func (e *Engine) createBooking(ctx context.Context, call *CallContext, reply string) string {
	s := &call.State
	if len(s.OfferedSlots) == 0 {
		s.BookingConfirmed = false
		return reply
	}
	idx := 0
	if s.SelectedSlotIndex != nil {
		idx = *s.SelectedSlotIndex
	}
	if idx < 0 || idx >= len(s.OfferedSlots) {
		s.BookingConfirmed = false
		s.SelectedSlotIndex = nil
		return "Sorry, which of those times would you like?"
	}

	if s.IsGroupBooking && s.GroupBookingAccepted {
		return e.createGroupBooking(ctx, call, idx)
	}

	slot := s.OfferedSlots[idx]
	appointmentID, err := e.booker.Book(ctx, BookingRequest{
		CallerPhone: call.CallerPhone,
		CallerName:  s.CallerName,
		CallerEmail: s.CallerEmail,
		PatientID:   s.ConfirmedPatientID,
		Slot:        slot,
	})
	if err != nil {
		e.logger.Error("booking failed", "session_id", call.SessionID, "error", err)
		s.BookingConfirmed = false
		if e.notifier != nil {
			e.notifier.NotifyCallbackOffer(ctx, call.CallerPhone, s.CallerName)
		}
		return "I'm sorry, I wasn't able to complete that booking. I'll have the team call you back shortly to sort it out."
	}

	s.AppointmentCreated = true
	s.AppointmentID = appointmentID
	if e.notifier != nil {
		e.notifier.NotifyBookingConfirmed(ctx, call.CallerPhone, s.CallerName, slot.PractitionerName, slot.StartTime)
	}
	return fmt.Sprintf("You're booked for %s with %s. Is there anything else I can help with?",
		slot.StartTime.Format("Monday 3:04 PM"), slot.PractitionerName)
}

// createGroupBooking books each accepted participant into successive
// offered slots.
func (e *Engine) createGroupBooking(ctx context.Context, call *CallContext, startIdx int) string {
	s := &call.State
	var booked []string
	slotIdx := startIdx
	for _, p := range s.GroupParticipants {
		if !IsRealName(p.Name) {
			continue
		}
		if slotIdx >= len(s.OfferedSlots) {
			break
		}
		slot := s.OfferedSlots[slotIdx]
		appointmentID, err := e.booker.Book(ctx, BookingRequest{
			CallerPhone: call.CallerPhone,
			CallerName:  p.Name,
			Slot:        slot,
			Notes:       fmt.Sprintf("Group booking arranged by %s", s.CallerName),
		})
		if err != nil {
			e.logger.Error("group booking failed", "session_id", call.SessionID,
				"participant", p.Name, "error", err)
			if len(booked) == 0 {
				s.BookingConfirmed = false
				if e.notifier != nil {
					e.notifier.NotifyCallbackOffer(ctx, call.CallerPhone, s.CallerName)
				}
				return "I'm sorry, I wasn't able to complete those bookings. I'll have the team call you back shortly."
			}
			return fmt.Sprintf("I've booked %s, but couldn't complete the rest. The team will call you back to finish up.",
				strings.Join(booked, " and "))
		}
		s.AppointmentID = appointmentID
		booked = append(booked, fmt.Sprintf("%s at %s", p.Name, slot.StartTime.Format("3:04 PM")))
		slotIdx++
	}
	if len(booked) == 0 {
		s.BookingConfirmed = false
		return "I couldn't find enough open times for everyone. Is there another day that could work?"
	}
	s.AppointmentCreated = true
	return fmt.Sprintf("All set: %s. Is there anything else I can help with?", strings.Join(booked, ", "))
}

func (e *Engine) finishTurn(ctx context.Context, call *CallContext, turnIdx int, utterance, reply string) (Output, error) {
	call.Turns = append(call.Turns, Turn{Index: turnIdx, Utterance: utterance, Reply: reply, At: e.now()})
	call.LastActivityAt = e.now()
	if err := e.store.Save(ctx, call); err != nil {
		return Output{}, err
	}
	return Output{Reply: reply}, nil
}

func (e *Engine) endCall(ctx context.Context, call *CallContext, turnIdx int, utterance, reply, outcome string) (Output, error) {
	call.Turns = append(call.Turns, Turn{Index: turnIdx, Utterance: utterance, Reply: reply, At: e.now()})
	e.callMetrics.ObserveCall(outcome)
	if e.recorder != nil {
		e.recorder.RecordCall(ctx, call, outcome)
	}
	if err := e.store.Delete(ctx, call.SessionID); err != nil {
		e.logger.Warn("failed to delete call context", "session_id", call.SessionID, "error", err)
	}
	return Output{Reply: reply, EndCall: true}, nil
}

func renderSlotOffer(slots []availability.Slot, label string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here's what I have %s: ", label)
	for i, slot := range slots {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s with %s", slot.StartTime.Format("Monday 3:04 PM"), slot.PractitionerName)
	}
	b.WriteString(". Which one suits you?")
	return b.String()
}
