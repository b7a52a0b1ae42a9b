package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hartleylabs/frontdesk/internal/cliniko"
	"github.com/hartleylabs/frontdesk/internal/identity"
	"github.com/hartleylabs/frontdesk/internal/observability/metrics"
	"github.com/hartleylabs/frontdesk/internal/retry"
	"github.com/hartleylabs/frontdesk/pkg/logging"
)

// SchedulerClient is the slice of the scheduler API the orchestrator needs.
type SchedulerClient interface {
	CreateAppointment(ctx context.Context, a cliniko.NewAppointment) (*cliniko.Appointment, error)
	GetAppointment(ctx context.Context, id string) (*cliniko.Appointment, error)
	UpdateAppointment(ctx context.Context, id string, upd cliniko.AppointmentUpdate) (*cliniko.Appointment, error)
	CancelAppointment(ctx context.Context, id string) error
}

// PatientResolver finds-or-creates the patient for a booking.
type PatientResolver interface {
	ResolveOrCreate(ctx context.Context, req identity.Request) (identity.Outcome, error)
}

// DurationSource supplies the configured duration of an appointment type.
type DurationSource interface {
	AppointmentDuration(ctx context.Context, appointmentTypeID string) time.Duration
}

// CreateRequest describes one confirmed booking intent. Idempotency is
// enforced upstream by the conversation guards, not here; the scheduler
// has no server-side idempotency key.
type CreateRequest struct {
	SessionID   string
	CallerPhone string
	CallerName  string
	CallerEmail string
	// PreResolvedPatientID skips inline identity resolution when set.
	PreResolvedPatientID string
	PractitionerID       string
	AppointmentTypeID    string
	StartTime            time.Time
	// EndTime may be zero; the appointment type's duration fills it.
	EndTime time.Time
	Notes   string
}

// Config tunes the orchestrator.
type Config struct {
	BusinessID  string
	RetryPolicy retry.Policy
	Logger      *logging.Logger
	Metrics     *metrics.BookingMetrics
}

// Orchestrator creates, cancels and reschedules appointments against
// the external scheduler with retries. Failures that exhaust retries
// are journaled as critical failures, then re-raised.
type Orchestrator struct {
	scheduler  SchedulerClient
	patients   PatientResolver
	durations  DurationSource
	sink       FailureSink
	businessID string
	policy     retry.Policy
	logger     *logging.Logger
	metrics    *metrics.BookingMetrics
}

// NewOrchestrator wires the booking orchestrator.
func NewOrchestrator(scheduler SchedulerClient, patients PatientResolver, durations DurationSource, sink FailureSink, cfg Config) *Orchestrator {
	if sink == nil {
		sink = NewRingBufferSink(0)
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Orchestrator{
		scheduler:  scheduler,
		patients:   patients,
		durations:  durations,
		sink:       sink,
		businessID: cfg.BusinessID,
		policy:     cfg.RetryPolicy,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Create books an appointment. An identity resolved earlier in the call
// is reused; otherwise the resolver is invoked inline.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*cliniko.Appointment, error) {
	patientID := req.PreResolvedPatientID
	if patientID == "" {
		outcome, err := o.resolvePatient(ctx, req)
		if err != nil {
			o.metrics.ObserveBooking("create", "error")
			return nil, fmt.Errorf("booking: resolve patient: %w", err)
		}
		patientID = outcome.Patient.ID
	}

	end := req.EndTime
	if end.IsZero() {
		end = req.StartTime.Add(o.durations.AppointmentDuration(ctx, req.AppointmentTypeID))
	}

	var appt *cliniko.Appointment
	start := time.Now()
	err := retry.Do(ctx, o.policy, func(ctx context.Context) error {
		var cerr error
		appt, cerr = o.scheduler.CreateAppointment(ctx, cliniko.NewAppointment{
			BusinessID:        o.businessID,
			PatientID:         patientID,
			PractitionerID:    req.PractitionerID,
			AppointmentTypeID: req.AppointmentTypeID,
			AppointmentStart:  req.StartTime,
			AppointmentEnd:    end,
			Notes:             req.Notes,
		})
		return cerr
	})
	o.metrics.ObserveSchedulerLatency("create_appointment", time.Since(start).Seconds())
	if err != nil {
		o.metrics.ObserveBooking("create", "error")
		o.recordCritical(ctx, "create_appointment", patientID, req.SessionID, err)
		return nil, fmt.Errorf("booking: create appointment: %w", err)
	}

	o.metrics.ObserveBooking("create", "ok")
	o.logger.Info("appointment created",
		"appointment_id", appt.ID, "patient_id", patientID, "start", req.StartTime)
	return appt, nil
}

// Cancel cancels an existing appointment.
func (o *Orchestrator) Cancel(ctx context.Context, appointmentID string) error {
	err := retry.Do(ctx, o.policy, func(ctx context.Context) error {
		return o.scheduler.CancelAppointment(ctx, appointmentID)
	})
	if err != nil {
		o.metrics.ObserveBooking("cancel", "error")
		o.recordCritical(ctx, "cancel_appointment", "", "", err)
		return fmt.Errorf("booking: cancel appointment %s: %w", appointmentID, err)
	}
	o.metrics.ObserveBooking("cancel", "ok")
	return nil
}

// Reschedule moves an appointment to a new start time. An in-place
// update is preferred; when the scheduler rejects it as
// method-not-allowed, the fallback cancels and recreates, preserving
// patient, practitioner, appointment type and notes from the original.
func (o *Orchestrator) Reschedule(ctx context.Context, appointmentID string, newStart time.Time) (*cliniko.Appointment, error) {
	original, err := o.scheduler.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("booking: load appointment %s: %w", appointmentID, err)
	}
	newEnd := newStart.Add(original.AppointmentEnd.Sub(original.AppointmentStart))

	var updated *cliniko.Appointment
	err = retry.Do(ctx, o.policy, func(ctx context.Context) error {
		var uerr error
		updated, uerr = o.scheduler.UpdateAppointment(ctx, appointmentID, cliniko.AppointmentUpdate{
			AppointmentStart: &newStart,
			AppointmentEnd:   &newEnd,
		})
		return uerr
	})
	if err == nil {
		o.metrics.ObserveBooking("reschedule", "ok")
		return updated, nil
	}
	if !cliniko.IsMethodNotAllowed(err) {
		o.metrics.ObserveBooking("reschedule", "error")
		o.recordCritical(ctx, "reschedule_appointment", original.PatientID, "", err)
		return nil, fmt.Errorf("booking: reschedule appointment %s: %w", appointmentID, err)
	}

	o.logger.Info("in-place reschedule not supported; falling back to cancel and recreate",
		"appointment_id", appointmentID)
	recreated, err := o.cancelAndRecreate(ctx, original, newStart, newEnd)
	if err != nil {
		o.metrics.ObserveBooking("reschedule", "error")
		o.recordCritical(ctx, "reschedule_appointment", original.PatientID, "", err)
		return nil, fmt.Errorf("booking: reschedule appointment %s: %w", appointmentID, err)
	}
	o.metrics.ObserveBooking("reschedule", "ok")
	return recreated, nil
}

func (o *Orchestrator) cancelAndRecreate(ctx context.Context, original *cliniko.Appointment, newStart, newEnd time.Time) (*cliniko.Appointment, error) {
	err := retry.Do(ctx, o.policy, func(ctx context.Context) error {
		return o.scheduler.CancelAppointment(ctx, original.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("cancel original: %w", err)
	}

	var recreated *cliniko.Appointment
	err = retry.Do(ctx, o.policy, func(ctx context.Context) error {
		var cerr error
		recreated, cerr = o.scheduler.CreateAppointment(ctx, cliniko.NewAppointment{
			BusinessID:        original.BusinessID,
			PatientID:         original.PatientID,
			PractitionerID:    original.PractitionerID,
			AppointmentTypeID: original.AppointmentTypeID,
			AppointmentStart:  newStart,
			AppointmentEnd:    newEnd,
			Notes:             original.Notes,
		})
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("recreate: %w", err)
	}
	return recreated, nil
}

// resolvePatient runs inline identity resolution. A 422 rejection of an
// invalid email gets one retry with the email stripped before failing.
func (o *Orchestrator) resolvePatient(ctx context.Context, req CreateRequest) (identity.Outcome, error) {
	idReq := identity.Request{
		Phone:    req.CallerPhone,
		FullName: req.CallerName,
		Email:    req.CallerEmail,
	}
	outcome, err := o.patients.ResolveOrCreate(ctx, idReq)
	if err != nil && idReq.Email != "" && isInvalidEmail(err) {
		o.logger.Warn("patient write rejected for invalid email; retrying once without it",
			"error", err)
		idReq.Email = ""
		outcome, err = o.patients.ResolveOrCreate(ctx, idReq)
	}
	return outcome, err
}

// recordCritical journals a failure that exhausted its retries. Plain
// 4xx rejections fail fast and are not journaled.
func (o *Orchestrator) recordCritical(ctx context.Context, operation, patientID, sessionID string, err error) {
	if !retry.Retryable(err) {
		return
	}
	o.metrics.ObserveCriticalFailure()
	o.logger.Error("critical booking failure",
		"operation", operation, "patient_id", patientID, "error", err)
	o.sink.Record(ctx, FailureEvent{
		Operation: operation,
		PatientID: patientID,
		SessionID: sessionID,
		Message:   err.Error(),
	})
}

func isInvalidEmail(err error) bool {
	return cliniko.IsUnprocessable(err) && strings.Contains(strings.ToLower(err.Error()), "email")
}
