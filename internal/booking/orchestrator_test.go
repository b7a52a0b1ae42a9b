package booking

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hartleylabs/frontdesk/internal/cliniko"
	"github.com/hartleylabs/frontdesk/internal/identity"
	"github.com/hartleylabs/frontdesk/internal/retry"
)

type fakeScheduler struct {
	createErr   error
	createCalls int
	created     []cliniko.NewAppointment

	updateErr   error
	updateCalls int

	cancelErr   error
	cancelCalls int

	appointments map[string]*cliniko.Appointment
}

func (f *fakeScheduler) CreateAppointment(_ context.Context, a cliniko.NewAppointment) (*cliniko.Appointment, error) {
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, a)
	return &cliniko.Appointment{
		ID:                "appt-1",
		PatientID:         a.PatientID,
		PractitionerID:    a.PractitionerID,
		AppointmentTypeID: a.AppointmentTypeID,
		BusinessID:        a.BusinessID,
		AppointmentStart:  a.AppointmentStart,
		AppointmentEnd:    a.AppointmentEnd,
		Notes:             a.Notes,
	}, nil
}

func (f *fakeScheduler) GetAppointment(_ context.Context, id string) (*cliniko.Appointment, error) {
	appt, ok := f.appointments[id]
	if !ok {
		return nil, &cliniko.APIError{StatusCode: http.StatusNotFound, Message: "not found"}
	}
	return appt, nil
}

func (f *fakeScheduler) UpdateAppointment(_ context.Context, id string, upd cliniko.AppointmentUpdate) (*cliniko.Appointment, error) {
	f.updateCalls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	appt := *f.appointments[id]
	if upd.AppointmentStart != nil {
		appt.AppointmentStart = *upd.AppointmentStart
	}
	if upd.AppointmentEnd != nil {
		appt.AppointmentEnd = *upd.AppointmentEnd
	}
	return &appt, nil
}

func (f *fakeScheduler) CancelAppointment(context.Context, string) error {
	f.cancelCalls++
	return f.cancelErr
}

type fakeResolver struct {
	err      error
	failOnce bool
	requests []identity.Request
}

func (f *fakeResolver) ResolveOrCreate(_ context.Context, req identity.Request) (identity.Outcome, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		err := f.err
		if f.failOnce {
			f.err = nil
		}
		return identity.Outcome{}, err
	}
	return identity.Outcome{Patient: &cliniko.Patient{ID: "patient-9"}, Created: true}, nil
}

type fixedDurations time.Duration

func (d fixedDurations) AppointmentDuration(context.Context, string) time.Duration {
	return time.Duration(d)
}

var bookingStart = time.Date(2026, time.March, 13, 9, 0, 0, 0, time.UTC)

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newTestOrchestrator(scheduler SchedulerClient, resolver PatientResolver, sink FailureSink, attempts int) *Orchestrator {
	return NewOrchestrator(scheduler, resolver, fixedDurations(30*time.Minute), sink, Config{
		BusinessID:  "1",
		RetryPolicy: fastPolicy(attempts),
	})
}

func TestCreateReusesPreResolvedPatient(t *testing.T) {
	scheduler := &fakeScheduler{}
	resolver := &fakeResolver{}
	o := newTestOrchestrator(scheduler, resolver, nil, 1)

	appt, err := o.Create(context.Background(), CreateRequest{
		CallerPhone:          "+61400000001",
		PreResolvedPatientID: "patient-7",
		PractitionerID:       "101",
		AppointmentTypeID:    "5",
		StartTime:            bookingStart,
	})
	require.NoError(t, err)

	assert.Equal(t, "patient-7", appt.PatientID)
	assert.Empty(t, resolver.requests, "no redundant identity resolution")
}

func TestCreateResolvesPatientInline(t *testing.T) {
	scheduler := &fakeScheduler{}
	resolver := &fakeResolver{}
	o := newTestOrchestrator(scheduler, resolver, nil, 1)

	appt, err := o.Create(context.Background(), CreateRequest{
		CallerPhone:       "+61400000001",
		CallerName:        "Jane Smith",
		PractitionerID:    "101",
		AppointmentTypeID: "5",
		StartTime:         bookingStart,
	})
	require.NoError(t, err)

	assert.Equal(t, "patient-9", appt.PatientID)
	require.Len(t, resolver.requests, 1)
}

func TestCreateFillsDurationFromAppointmentType(t *testing.T) {
	scheduler := &fakeScheduler{}
	o := newTestOrchestrator(scheduler, &fakeResolver{}, nil, 1)

	appt, err := o.Create(context.Background(), CreateRequest{
		CallerPhone:          "+61400000001",
		PreResolvedPatientID: "patient-7",
		PractitionerID:       "101",
		AppointmentTypeID:    "5",
		StartTime:            bookingStart,
	})
	require.NoError(t, err)
	assert.True(t, appt.AppointmentEnd.Equal(bookingStart.Add(30*time.Minute)))
}

func TestCreate503RecordsExactlyOneCriticalFailure(t *testing.T) {
	scheduler := &fakeScheduler{
		createErr: &cliniko.APIError{StatusCode: http.StatusServiceUnavailable, Message: "maintenance"},
	}
	sink := NewRingBufferSink(8)
	o := newTestOrchestrator(scheduler, &fakeResolver{}, sink, 3)

	_, err := o.Create(context.Background(), CreateRequest{
		CallerPhone:          "+61400000001",
		PreResolvedPatientID: "patient-7",
		PractitionerID:       "101",
		AppointmentTypeID:    "5",
		StartTime:            bookingStart,
	})
	require.Error(t, err, "exhausted retries surface a caller-visible failure")

	assert.Equal(t, 3, scheduler.createCalls)
	assert.Empty(t, scheduler.created, "no appointment exists afterward")

	failures := sink.Recent()
	require.Len(t, failures, 1, "exactly one critical-failure entry")
	assert.Equal(t, "create_appointment", failures[0].Operation)
	assert.Equal(t, "patient-7", failures[0].PatientID)
	assert.Contains(t, failures[0].Message, "503")
}

func TestCreateDoesNotRetryPlainClientErrors(t *testing.T) {
	scheduler := &fakeScheduler{
		createErr: &cliniko.APIError{StatusCode: http.StatusBadRequest, Message: "bad payload"},
	}
	sink := NewRingBufferSink(8)
	o := newTestOrchestrator(scheduler, &fakeResolver{}, sink, 3)

	_, err := o.Create(context.Background(), CreateRequest{
		CallerPhone:          "+61400000001",
		PreResolvedPatientID: "patient-7",
		PractitionerID:       "101",
		AppointmentTypeID:    "5",
		StartTime:            bookingStart,
	})
	require.Error(t, err)
	assert.Equal(t, 1, scheduler.createCalls, "4xx other than 429 is never retried")
	assert.Empty(t, sink.Recent(), "fast-fail rejections are not journaled")
}

func TestCreateStripsInvalidEmailOnce(t *testing.T) {
	scheduler := &fakeScheduler{}
	resolver := &fakeResolver{
		err:      &cliniko.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "email is invalid"},
		failOnce: true,
	}
	o := newTestOrchestrator(scheduler, resolver, nil, 1)

	_, err := o.Create(context.Background(), CreateRequest{
		CallerPhone:       "+61400000001",
		CallerName:        "Jane Smith",
		CallerEmail:       "not-an-email",
		PractitionerID:    "101",
		AppointmentTypeID: "5",
		StartTime:         bookingStart,
	})
	require.NoError(t, err)

	require.Len(t, resolver.requests, 2)
	assert.Equal(t, "not-an-email", resolver.requests[0].Email)
	assert.Empty(t, resolver.requests[1].Email, "retry drops the rejected email")
}

func TestRescheduleInPlace(t *testing.T) {
	original := &cliniko.Appointment{
		ID:               "appt-1",
		PatientID:        "patient-7",
		AppointmentStart: bookingStart,
		AppointmentEnd:   bookingStart.Add(30 * time.Minute),
	}
	scheduler := &fakeScheduler{appointments: map[string]*cliniko.Appointment{"appt-1": original}}
	o := newTestOrchestrator(scheduler, &fakeResolver{}, nil, 1)

	newStart := bookingStart.Add(48 * time.Hour)
	updated, err := o.Reschedule(context.Background(), "appt-1", newStart)
	require.NoError(t, err)

	assert.True(t, updated.AppointmentStart.Equal(newStart))
	assert.True(t, updated.AppointmentEnd.Equal(newStart.Add(30*time.Minute)), "original duration preserved")
	assert.Zero(t, scheduler.cancelCalls)
	assert.Zero(t, scheduler.createCalls)
}

func TestRescheduleFallsBackToCancelAndRecreate(t *testing.T) {
	original := &cliniko.Appointment{
		ID:                "appt-1",
		PatientID:         "patient-7",
		PractitionerID:    "101",
		AppointmentTypeID: "5",
		BusinessID:        "1",
		AppointmentStart:  bookingStart,
		AppointmentEnd:    bookingStart.Add(45 * time.Minute),
		Notes:             "prefers window seat",
	}
	scheduler := &fakeScheduler{
		appointments: map[string]*cliniko.Appointment{"appt-1": original},
		updateErr:    &cliniko.APIError{StatusCode: http.StatusMethodNotAllowed, Message: "method not allowed"},
	}
	o := newTestOrchestrator(scheduler, &fakeResolver{}, nil, 1)

	newStart := bookingStart.Add(48 * time.Hour)
	recreated, err := o.Reschedule(context.Background(), "appt-1", newStart)
	require.NoError(t, err)

	assert.Equal(t, 1, scheduler.cancelCalls)
	require.Len(t, scheduler.created, 1)
	created := scheduler.created[0]
	assert.Equal(t, "patient-7", created.PatientID)
	assert.Equal(t, "101", created.PractitionerID)
	assert.Equal(t, "5", created.AppointmentTypeID)
	assert.Equal(t, "prefers window seat", created.Notes, "notes carried through the fallback")
	assert.True(t, created.AppointmentStart.Equal(newStart))
	assert.True(t, created.AppointmentEnd.Equal(newStart.Add(45*time.Minute)))
	assert.True(t, recreated.AppointmentStart.Equal(newStart))
}

func TestCancel(t *testing.T) {
	scheduler := &fakeScheduler{}
	o := newTestOrchestrator(scheduler, &fakeResolver{}, nil, 1)

	require.NoError(t, o.Cancel(context.Background(), "appt-1"))
	assert.Equal(t, 1, scheduler.cancelCalls)
}
