package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/hartleylabs/frontdesk/internal/cliniko"
	"github.com/hartleylabs/frontdesk/internal/retry"
	"github.com/hartleylabs/frontdesk/pkg/logging"
)

// Directory is the subset of the scheduler API the resolver needs.
type Directory interface {
	FindPatientByEmail(ctx context.Context, email string) (*cliniko.Patient, error)
	FindPatientByPhone(ctx context.Context, phone string) (*cliniko.Patient, error)
	CreatePatient(ctx context.Context, p cliniko.NewPatient) (*cliniko.Patient, error)
	UpdatePatient(ctx context.Context, id string, upd cliniko.PatientUpdate) (*cliniko.Patient, error)
}

// MatchKind records how an identity was established.
type MatchKind string

const (
	MatchNone  MatchKind = "none"
	MatchEmail MatchKind = "email"
	MatchPhone MatchKind = "phone"
)

// Request describes what is known about the caller.
type Request struct {
	// Phone is the caller's number in E.164.
	Phone string
	// FullName is the caller-stated name, possibly absent or noisy.
	FullName string
	// Email is optional.
	Email string
	// FromForm marks a verified form submission; voice-channel data is
	// untrusted and may only add missing fields, never overwrite.
	FromForm bool
}

// Outcome is the result of resolution.
type Outcome struct {
	Patient *cliniko.Patient
	Matched MatchKind
	// Created is true when a fresh record was made rather than reusing one.
	Created bool
	// Confirmed is true only when the match was verified by name or email.
	// A bare phone match is never confirmed.
	Confirmed bool
}

// Config tunes the resolver.
type Config struct {
	// SimilarityThreshold below which a name on a matched record is
	// treated as a different person. Empirically chosen; configurable.
	SimilarityThreshold float64
	// TypoDistance is the per-token edit distance tolerated as a typo.
	TypoDistance int
	RetryPolicy  retry.Policy
	Logger       *logging.Logger
}

// Resolver finds-or-creates patient records for callers without ever
// guessing: ambiguity always resolves to a new record rather than a
// silent overwrite of someone else's.
type Resolver struct {
	dir       Directory
	threshold float64
	typoDist  int
	policy    retry.Policy
	logger    *logging.Logger
}

// NewResolver builds an identity resolver over the patient directory.
func NewResolver(dir Directory, cfg Config) *Resolver {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.55
	}
	if cfg.TypoDistance <= 0 {
		cfg.TypoDistance = 2
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Resolver{
		dir:       dir,
		threshold: cfg.SimilarityThreshold,
		typoDist:  cfg.TypoDistance,
		policy:    cfg.RetryPolicy,
		logger:    cfg.Logger,
	}
}

// LookupByPhone returns a possible (unconfirmed) identity for a caller's
// number, or nil. Lookup failures are non-fatal and read as "not found";
// the conversation must keep moving even when the scheduler is down.
func (r *Resolver) LookupByPhone(ctx context.Context, phone string) *cliniko.Patient {
	patient := r.findByPhone(ctx, phone)
	if patient != nil {
		r.logger.Info("possible identity by phone", "patient_id", patient.ID)
	}
	return patient
}

// ResolveOrCreate matches the caller to a patient record or creates one.
// Search order: exact email, exact phone (E.164 and local form), create.
// Create and update failures propagate; lookups do not.
func (r *Resolver) ResolveOrCreate(ctx context.Context, req Request) (Outcome, error) {
	if req.Email != "" {
		if patient := r.findByEmail(ctx, req.Email); patient != nil {
			return r.resolveEmailMatch(ctx, patient, req)
		}
	}

	if patient := r.findByPhone(ctx, req.Phone); patient != nil {
		return r.resolvePhoneMatch(ctx, patient, req)
	}

	patient, err := r.create(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Patient: patient, Matched: MatchNone, Created: true, Confirmed: true}, nil
}

func (r *Resolver) resolveEmailMatch(ctx context.Context, patient *cliniko.Patient, req Request) (Outcome, error) {
	if req.FullName != "" {
		sim := Similarity(req.FullName, patient.FullName(), r.typoDist)
		if sim < r.threshold {
			// Same address, different person. Never overwrite the
			// record that happened to share the email.
			r.logger.Warn("email matched but name did not; creating separate record",
				"patient_id", patient.ID, "similarity", sim)
			created, err := r.create(ctx, req)
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Patient: created, Matched: MatchNone, Created: true, Confirmed: true}, nil
		}
	}

	updated, err := r.applyUpdates(ctx, patient, req)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Patient: updated, Matched: MatchEmail, Confirmed: true}, nil
}

func (r *Resolver) resolvePhoneMatch(ctx context.Context, patient *cliniko.Patient, req Request) (Outcome, error) {
	if req.FullName == "" {
		// Without a name to verify we must not assume the caller owns
		// this record; households share numbers.
		r.logger.Warn("phone matched existing patient but caller name unknown; phone may be shared",
			"patient_id", patient.ID)
		created, err := r.create(ctx, req)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Patient: created, Matched: MatchPhone, Created: true, Confirmed: false}, nil
	}

	sim := Similarity(req.FullName, patient.FullName(), r.typoDist)
	if sim < r.threshold {
		r.logger.Info("phone matched but name differs; treating as new patient",
			"patient_id", patient.ID, "similarity", sim)
		created, err := r.create(ctx, req)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Patient: created, Matched: MatchNone, Created: true, Confirmed: true}, nil
	}

	updated, err := r.applyUpdates(ctx, patient, req)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Patient: updated, Matched: MatchPhone, Confirmed: true}, nil
}

// applyUpdates enforces the trust-level policy: verified form submissions
// may correct name and email; voice turns may only fill a missing email,
// so a transcription error can never corrupt an existing record.
func (r *Resolver) applyUpdates(ctx context.Context, patient *cliniko.Patient, req Request) (*cliniko.Patient, error) {
	var upd cliniko.PatientUpdate
	changed := false

	if req.FromForm {
		first, last := splitName(req.FullName)
		if first != "" && first != patient.FirstName {
			upd.FirstName = &first
			changed = true
		}
		if last != "" && last != patient.LastName {
			upd.LastName = &last
			changed = true
		}
		if req.Email != "" && req.Email != patient.Email {
			upd.Email = &req.Email
			changed = true
		}
	} else if req.Email != "" && patient.Email == "" {
		upd.Email = &req.Email
		changed = true
	}

	if !changed {
		return patient, nil
	}

	var updated *cliniko.Patient
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var uerr error
		updated, uerr = r.dir.UpdatePatient(ctx, patient.ID, upd)
		return uerr
	})
	if err != nil {
		return nil, fmt.Errorf("identity: update patient %s: %w", patient.ID, err)
	}
	return updated, nil
}

func (r *Resolver) create(ctx context.Context, req Request) (*cliniko.Patient, error) {
	first, last := splitName(req.FullName)
	if first == "" {
		first, last = "Unknown", "Caller"
	}

	var created *cliniko.Patient
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var cerr error
		created, cerr = r.dir.CreatePatient(ctx, cliniko.NewPatient{
			FirstName:   first,
			LastName:    last,
			Email:       req.Email,
			PhoneNumber: req.Phone,
		})
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("identity: create patient: %w", err)
	}
	r.logger.Info("created patient record", "patient_id", created.ID)
	return created, nil
}

func (r *Resolver) findByEmail(ctx context.Context, email string) *cliniko.Patient {
	var patient *cliniko.Patient
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var ferr error
		patient, ferr = r.dir.FindPatientByEmail(ctx, email)
		return ferr
	})
	if err != nil {
		r.logger.Warn("patient email lookup failed; treating as not found", "error", err)
		return nil
	}
	return patient
}

func (r *Resolver) findByPhone(ctx context.Context, phone string) *cliniko.Patient {
	if strings.TrimSpace(phone) == "" {
		return nil
	}
	for _, candidate := range phoneVariants(phone) {
		var patient *cliniko.Patient
		err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
			var ferr error
			patient, ferr = r.dir.FindPatientByPhone(ctx, candidate)
			return ferr
		})
		if err != nil {
			r.logger.Warn("patient phone lookup failed; treating as not found", "phone", candidate, "error", err)
			continue
		}
		if patient != nil {
			return patient
		}
	}
	return nil
}

// phoneVariants returns the E.164 form plus the local representation,
// since records entered at the front desk often carry local formatting.
func phoneVariants(phone string) []string {
	phone = strings.TrimSpace(phone)
	variants := []string{phone}
	if strings.HasPrefix(phone, "+61") {
		variants = append(variants, "0"+phone[3:])
	} else if strings.HasPrefix(phone, "+") && len(phone) > 3 {
		variants = append(variants, phone[1:])
	}
	return variants
}

func splitName(full string) (first, last string) {
	fields := strings.Fields(strings.TrimSpace(full))
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
