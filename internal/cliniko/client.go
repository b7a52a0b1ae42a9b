package cliniko

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hartleylabs/frontdesk/pkg/logging"
)

const (
	defaultBaseURL = "https://api.au1.cliniko.com/v1"
	defaultTimeout = 20 * time.Second
	userAgent      = "frontdesk (support@hartleylabs.com)"
)

// APIError is a non-2xx response from the scheduler, preserving the
// status code so the retry layer can classify it.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cliniko: status %d", e.StatusCode)
	}
	return fmt.Sprintf("cliniko: status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus implements retry.StatusCoder.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// IsMethodNotAllowed reports a 405 from the scheduler, which signals that
// an in-place update is not supported for the resource.
func IsMethodNotAllowed(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusMethodNotAllowed
}

// IsUnprocessable reports a 422 validation rejection.
func IsUnprocessable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity
}

// Client is a rate-limited REST client for the Cliniko practice-management API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	loc        *time.Location
	logger     *logging.Logger
}

// ClientConfig configures the scheduler client.
type ClientConfig struct {
	// APIKey is the per-tenant shared API key, sent as the basic-auth username.
	APIKey string
	// BaseURL overrides the regional API endpoint (for testing).
	BaseURL string
	// Location is the clinic's timezone; date-range query parameters are
	// calendar dates in this zone, never timestamps.
	Location *time.Location
	// RatePerSec bounds outbound request rate. Cliniko enforces its own
	// limits; staying under them avoids burning retries on 429s.
	RatePerSec float64
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// NewClient creates a Cliniko API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("cliniko: API key required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(perSec), int(perSec)+1),
		loc:        loc,
		logger:     logger,
	}, nil
}

// ListBusinesses returns the tenant's clinic locations.
func (c *Client) ListBusinesses(ctx context.Context) ([]Business, error) {
	var out struct {
		Businesses []Business `json:"businesses"`
	}
	if err := c.do(ctx, http.MethodGet, "/businesses", nil, &out); err != nil {
		return nil, err
	}
	return out.Businesses, nil
}

// ListPractitioners returns all practitioners for the tenant.
func (c *Client) ListPractitioners(ctx context.Context) ([]Practitioner, error) {
	var out struct {
		Practitioners []Practitioner `json:"practitioners"`
	}
	if err := c.do(ctx, http.MethodGet, "/practitioners", nil, &out); err != nil {
		return nil, err
	}
	return out.Practitioners, nil
}

// ListAppointmentTypes returns the tenant's appointment types.
func (c *Client) ListAppointmentTypes(ctx context.Context) ([]AppointmentType, error) {
	var out struct {
		AppointmentTypes []AppointmentType `json:"appointment_types"`
	}
	if err := c.do(ctx, http.MethodGet, "/appointment_types", nil, &out); err != nil {
		return nil, err
	}
	return out.AppointmentTypes, nil
}

// AvailableTimes queries open slots for a practitioner and appointment type.
// The scheduler requires calendar-date parameters in the clinic timezone.
func (c *Client) AvailableTimes(ctx context.Context, businessID, practitionerID, appointmentTypeID string, from, to time.Time) ([]AvailableTime, error) {
	path := fmt.Sprintf("/businesses/%s/practitioners/%s/appointment_types/%s/available_times",
		url.PathEscape(businessID), url.PathEscape(practitionerID), url.PathEscape(appointmentTypeID))
	q := url.Values{}
	q.Set("from", from.In(c.loc).Format("2006-01-02"))
	q.Set("to", to.In(c.loc).Format("2006-01-02"))

	var out struct {
		AvailableTimes []AvailableTime `json:"available_times"`
	}
	if err := c.do(ctx, http.MethodGet, path+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.AvailableTimes, nil
}

// FindPatientByEmail looks up a patient by exact email. Returns nil when
// no record matches.
func (c *Client) FindPatientByEmail(ctx context.Context, email string) (*Patient, error) {
	return c.findPatient(ctx, "email:="+email)
}

// FindPatientByPhone looks up a patient by exact phone number. Returns
// nil when no record matches.
func (c *Client) FindPatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	return c.findPatient(ctx, "patient_phone_numbers.number:="+phone)
}

func (c *Client) findPatient(ctx context.Context, query string) (*Patient, error) {
	q := url.Values{}
	q.Set("q[]", query)

	var out struct {
		Patients []Patient `json:"patients"`
	}
	if err := c.do(ctx, http.MethodGet, "/patients?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if len(out.Patients) == 0 {
		return nil, nil
	}
	return &out.Patients[0], nil
}

// CreatePatient creates a new patient record.
func (c *Client) CreatePatient(ctx context.Context, p NewPatient) (*Patient, error) {
	payload := map[string]any{
		"first_name": p.FirstName,
		"last_name":  p.LastName,
	}
	if p.Email != "" {
		payload["email"] = p.Email
	}
	if p.PhoneNumber != "" {
		payload["patient_phone_numbers"] = []map[string]string{
			{"phone_type": "Mobile", "number": p.PhoneNumber},
		}
	}

	var out Patient
	if err := c.do(ctx, http.MethodPost, "/patients", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePatient applies a partial update to an existing patient.
func (c *Client) UpdatePatient(ctx context.Context, id string, upd PatientUpdate) (*Patient, error) {
	var out Patient
	if err := c.do(ctx, http.MethodPatch, "/patients/"+url.PathEscape(id), upd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAppointment books an individual appointment. Timestamps are sent
// with an explicit UTC offset in the clinic timezone.
func (c *Client) CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	a.AppointmentStart = a.AppointmentStart.In(c.loc)
	a.AppointmentEnd = a.AppointmentEnd.In(c.loc)

	var out Appointment
	if err := c.do(ctx, http.MethodPost, "/individual_appointments", a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAppointment fetches a single appointment by ID.
func (c *Client) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	var out Appointment
	if err := c.do(ctx, http.MethodGet, "/individual_appointments/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateAppointment applies a partial in-place update.
func (c *Client) UpdateAppointment(ctx context.Context, id string, upd AppointmentUpdate) (*Appointment, error) {
	if upd.AppointmentStart != nil {
		t := upd.AppointmentStart.In(c.loc)
		upd.AppointmentStart = &t
	}
	if upd.AppointmentEnd != nil {
		t := upd.AppointmentEnd.In(c.loc)
		upd.AppointmentEnd = &t
	}

	var out Appointment
	if err := c.do(ctx, http.MethodPatch, "/individual_appointments/"+url.PathEscape(id), upd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelAppointment cancels an appointment.
func (c *Client) CancelAppointment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, "/individual_appointments/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("cliniko: rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cliniko: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("cliniko: build request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cliniko: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: extractMessage(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("cliniko: decode %s %s: %w", method, path, err)
	}
	return nil
}

func extractMessage(data []byte) string {
	var parsed struct {
		Message string          `json:"message"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return truncate(string(data), 256)
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	if len(parsed.Errors) > 0 {
		return truncate(string(parsed.Errors), 256)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
