package main

import (
	"context"
	"time"

	"github.com/hartleylabs/frontdesk/internal/booking"
	"github.com/hartleylabs/frontdesk/internal/calllog"
	"github.com/hartleylabs/frontdesk/internal/conversation"
	"github.com/hartleylabs/frontdesk/internal/notify"
	"github.com/hartleylabs/frontdesk/pkg/logging"
)

// bookerAdapter bridges the engine's booking boundary to the
// orchestrator.
type bookerAdapter struct {
	orchestrator *booking.Orchestrator
}

func (a bookerAdapter) Book(ctx context.Context, req conversation.BookingRequest) (string, error) {
	appt, err := a.orchestrator.Create(ctx, booking.CreateRequest{
		CallerPhone:          req.CallerPhone,
		CallerName:           req.CallerName,
		CallerEmail:          req.CallerEmail,
		PreResolvedPatientID: req.PatientID,
		PractitionerID:       req.Slot.PractitionerID,
		AppointmentTypeID:    req.Slot.AppointmentTypeID,
		StartTime:            req.Slot.StartTime,
		EndTime:              req.Slot.EndTime,
		Notes:                req.Notes,
	})
	if err != nil {
		return "", err
	}
	return appt.ID, nil
}

// callLogRecorder writes call outcomes at teardown. Failures are
// already logged by the store; teardown never fails over them.
type callLogRecorder struct {
	store *calllog.Store
}

func (r callLogRecorder) RecordCall(ctx context.Context, call *conversation.CallContext, outcome string) {
	_ = r.store.Record(ctx, calllog.Entry{
		SessionID:     call.SessionID,
		TenantID:      call.TenantID,
		CallerPhone:   call.CallerPhone,
		Outcome:       outcome,
		Turns:         len(call.Turns),
		AppointmentID: call.State.AppointmentID,
		StartedAt:     call.StartedAt,
	})
}

// notifierAdapter publishes conversation events to the notification
// outbox. Publish failures are logged and swallowed; a lost SMS must
// not fail the call.
type notifierAdapter struct {
	publisher  *notify.Publisher
	clinicName string
	logger     *logging.Logger
}

func (n notifierAdapter) NotifyBookingConfirmed(ctx context.Context, phone, patientName, practitionerName string, start time.Time) {
	n.publish(ctx, notify.Event{
		Kind:             notify.KindBookingConfirmed,
		Phone:            phone,
		PatientName:      patientName,
		PractitionerName: practitionerName,
		ClinicName:       n.clinicName,
		StartTime:        start,
	})
}

func (n notifierAdapter) NotifyCallbackOffer(ctx context.Context, phone, patientName string) {
	n.publish(ctx, notify.Event{
		Kind:        notify.KindCallbackOffer,
		Phone:       phone,
		PatientName: patientName,
		ClinicName:  n.clinicName,
	})
}

func (n notifierAdapter) publish(ctx context.Context, ev notify.Event) {
	if err := n.publisher.Publish(ctx, ev); err != nil {
		n.logger.Warn("failed to publish notification", "kind", ev.Kind, "error", err)
	}
}
