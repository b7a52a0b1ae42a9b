package cliniko

import "time"

// Business is a clinic location in the practice-management system.
type Business struct {
	ID           string `json:"id"`
	BusinessName string `json:"business_name"`
	TimeZone     string `json:"time_zone,omitempty"`
}

// Practitioner is a bookable provider.
type Practitioner struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name,omitempty"`
	Active      bool   `json:"active"`
}

// Name returns the practitioner's human-readable name.
func (p Practitioner) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.FirstName + " " + p.LastName
}

// AppointmentType describes a bookable service and its duration.
type AppointmentType struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	DurationInMinutes    int    `json:"duration_in_minutes"`
	ShowInOnlineBookings bool   `json:"show_in_online_bookings"`
}

// PhoneNumber is one of a patient's phone records.
type PhoneNumber struct {
	PhoneType string `json:"phone_type"`
	Number    string `json:"number"`
}

// Patient is an external patient record. Cached only transiently during a call.
type Patient struct {
	ID           string        `json:"id"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Email        string        `json:"email,omitempty"`
	PhoneNumbers []PhoneNumber `json:"patient_phone_numbers,omitempty"`
}

// FullName returns "First Last", trimmed of stray spaces.
func (p Patient) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// AvailableTime is one open slot start returned by the scheduler.
type AvailableTime struct {
	AppointmentStart time.Time `json:"appointment_start"`
}

// Appointment is an individual appointment record.
type Appointment struct {
	ID                string    `json:"id"`
	AppointmentStart  time.Time `json:"appointment_start"`
	AppointmentEnd    time.Time `json:"appointment_end"`
	PatientID         string    `json:"patient_id"`
	PractitionerID    string    `json:"practitioner_id"`
	AppointmentTypeID string    `json:"appointment_type_id"`
	BusinessID        string    `json:"business_id"`
	Notes             string    `json:"notes,omitempty"`
	CancelledAt       time.Time `json:"cancelled_at,omitempty"`
}

// NewPatient is the payload for creating a patient record.
type NewPatient struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"-"`
}

// PatientUpdate carries partial updates; nil fields are left untouched.
type PatientUpdate struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
}

// NewAppointment is the flat field set the scheduler expects on create.
type NewAppointment struct {
	BusinessID        string    `json:"business_id"`
	PatientID         string    `json:"patient_id"`
	PractitionerID    string    `json:"practitioner_id"`
	AppointmentTypeID string    `json:"appointment_type_id"`
	AppointmentStart  time.Time `json:"appointment_start"`
	AppointmentEnd    time.Time `json:"appointment_end"`
	Notes             string    `json:"notes,omitempty"`
}

// AppointmentUpdate carries a partial update for an existing appointment.
type AppointmentUpdate struct {
	AppointmentStart *time.Time `json:"appointment_start,omitempty"`
	AppointmentEnd   *time.Time `json:"appointment_end,omitempty"`
	Notes            *string    `json:"notes,omitempty"`
}
