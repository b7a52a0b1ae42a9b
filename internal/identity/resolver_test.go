package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hartleylabs/frontdesk/internal/cliniko"
	"github.com/hartleylabs/frontdesk/internal/retry"
)

type fakeDirectory struct {
	byEmail map[string]*cliniko.Patient
	byPhone map[string]*cliniko.Patient

	emailLookupErr error
	phoneLookupErr error
	createErr      error

	createCalls int
	updateCalls int
	nextID      int
	lastCreate  cliniko.NewPatient
	lastUpdate  cliniko.PatientUpdate
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		byEmail: map[string]*cliniko.Patient{},
		byPhone: map[string]*cliniko.Patient{},
		nextID:  100,
	}
}

func (d *fakeDirectory) FindPatientByEmail(_ context.Context, email string) (*cliniko.Patient, error) {
	if d.emailLookupErr != nil {
		return nil, d.emailLookupErr
	}
	return d.byEmail[email], nil
}

func (d *fakeDirectory) FindPatientByPhone(_ context.Context, phone string) (*cliniko.Patient, error) {
	if d.phoneLookupErr != nil {
		return nil, d.phoneLookupErr
	}
	return d.byPhone[phone], nil
}

func (d *fakeDirectory) CreatePatient(_ context.Context, p cliniko.NewPatient) (*cliniko.Patient, error) {
	d.createCalls++
	d.lastCreate = p
	if d.createErr != nil {
		return nil, d.createErr
	}
	d.nextID++
	return &cliniko.Patient{
		ID:        fmt.Sprintf("%d", d.nextID),
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
	}, nil
}

func (d *fakeDirectory) UpdatePatient(_ context.Context, id string, upd cliniko.PatientUpdate) (*cliniko.Patient, error) {
	d.updateCalls++
	d.lastUpdate = upd
	p := &cliniko.Patient{ID: id}
	if upd.FirstName != nil {
		p.FirstName = *upd.FirstName
	}
	if upd.Email != nil {
		p.Email = *upd.Email
	}
	return p, nil
}

func testResolver(dir Directory) *Resolver {
	return NewResolver(dir, Config{
		SimilarityThreshold: 0.55,
		TypoDistance:        2,
		RetryPolicy:         retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		high bool
	}{
		{"identical", "Jane Smith", "Jane Smith", true},
		{"token order", "Smith Jane", "Jane Smith", true},
		{"typo in surname", "Jane Smyth", "Jane Smith", true},
		{"different first name", "Emma Smith", "Jane Smith", false},
		{"entirely different", "Bob Jones", "Jane Smith", false},
		{"short tokens never typo-match", "Dan Lee", "Don Lee", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := Similarity(tt.a, tt.b, 2)
			if tt.high {
				assert.GreaterOrEqual(t, sim, 0.55, "similarity %v", sim)
			} else {
				assert.Less(t, sim, 0.55, "similarity %v", sim)
			}
		})
	}
}

func TestResolveOrCreateIdempotentForConsistentEmail(t *testing.T) {
	dir := newFakeDirectory()
	dir.byEmail["jane@example.com"] = &cliniko.Patient{
		ID: "7", FirstName: "Jane", LastName: "Smith", Email: "jane@example.com",
	}
	r := testResolver(dir)

	req := Request{Phone: "+61400000001", FullName: "Jane Smith", Email: "jane@example.com"}

	first, err := r.ResolveOrCreate(context.Background(), req)
	require.NoError(t, err)
	second, err := r.ResolveOrCreate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "7", first.Patient.ID)
	assert.Equal(t, first.Patient.ID, second.Patient.ID)
	assert.Equal(t, MatchEmail, first.Matched)
	assert.Zero(t, dir.createCalls)
	assert.LessOrEqual(t, dir.updateCalls, 1, "at most one update for consistent data")
}

func TestEmailMatchWithDifferentNameCreatesNewRecord(t *testing.T) {
	dir := newFakeDirectory()
	dir.byEmail["family@example.com"] = &cliniko.Patient{
		ID: "7", FirstName: "Jane", LastName: "Smith", Email: "family@example.com",
	}
	r := testResolver(dir)

	out, err := r.ResolveOrCreate(context.Background(), Request{
		Phone:    "+61400000001",
		FullName: "Robert Taylor",
		Email:    "family@example.com",
	})
	require.NoError(t, err)

	assert.True(t, out.Created)
	assert.NotEqual(t, "7", out.Patient.ID)
	assert.Zero(t, dir.updateCalls, "the shared-address record must not be touched")
}

func TestPhoneMatchWithoutNameNeverConfirmsOrUpdates(t *testing.T) {
	dir := newFakeDirectory()
	dir.byPhone["+61400000001"] = &cliniko.Patient{ID: "7", FirstName: "Jane", LastName: "Smith"}
	r := testResolver(dir)

	out, err := r.ResolveOrCreate(context.Background(), Request{Phone: "+61400000001"})
	require.NoError(t, err)

	assert.True(t, out.Created)
	assert.False(t, out.Confirmed)
	assert.Zero(t, dir.updateCalls)
	assert.NotEqual(t, "7", out.Patient.ID)
}

func TestPhoneMatchForFamilyMemberCreatesNewPatient(t *testing.T) {
	// Caller on Jane's number books "for my child, Emma Smith".
	dir := newFakeDirectory()
	dir.byPhone["+61400000001"] = &cliniko.Patient{ID: "7", FirstName: "Jane", LastName: "Smith"}
	r := testResolver(dir)

	out, err := r.ResolveOrCreate(context.Background(), Request{
		Phone:    "+61400000001",
		FullName: "Emma Smith",
	})
	require.NoError(t, err)

	assert.True(t, out.Created)
	assert.Equal(t, "Emma", out.Patient.FirstName)
	assert.Equal(t, "Smith", out.Patient.LastName)
	assert.Zero(t, dir.updateCalls, "Jane's record must remain untouched")
}

func TestPhoneMatchTriesLocalFormat(t *testing.T) {
	dir := newFakeDirectory()
	dir.byPhone["0400000001"] = &cliniko.Patient{ID: "7", FirstName: "Jane", LastName: "Smith"}
	r := testResolver(dir)

	out, err := r.ResolveOrCreate(context.Background(), Request{
		Phone:    "+61400000001",
		FullName: "Jane Smith",
	})
	require.NoError(t, err)
	assert.Equal(t, "7", out.Patient.ID)
	assert.Equal(t, MatchPhone, out.Matched)
	assert.True(t, out.Confirmed)
}

func TestVoiceChannelOnlyAddsMissingEmail(t *testing.T) {
	dir := newFakeDirectory()
	dir.byPhone["+61400000001"] = &cliniko.Patient{ID: "7", FirstName: "Jane", LastName: "Smith"}
	r := testResolver(dir)

	_, err := r.ResolveOrCreate(context.Background(), Request{
		Phone:    "+61400000001",
		FullName: "Jane Smith",
		Email:    "jane@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, 1, dir.updateCalls)
	assert.Nil(t, dir.lastUpdate.FirstName, "voice turns must not rewrite names")
	require.NotNil(t, dir.lastUpdate.Email)
	assert.Equal(t, "jane@example.com", *dir.lastUpdate.Email)
}

func TestFormSubmissionMayCorrectName(t *testing.T) {
	dir := newFakeDirectory()
	dir.byEmail["jane@example.com"] = &cliniko.Patient{
		ID: "7", FirstName: "Jane", LastName: "Smyth", Email: "jane@example.com",
	}
	r := testResolver(dir)

	_, err := r.ResolveOrCreate(context.Background(), Request{
		Phone:    "+61400000001",
		FullName: "Jane Smith",
		Email:    "jane@example.com",
		FromForm: true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, dir.updateCalls)
	require.NotNil(t, dir.lastUpdate.LastName)
	assert.Equal(t, "Smith", *dir.lastUpdate.LastName)
}

func TestLookupFailureDegradesToCreate(t *testing.T) {
	dir := newFakeDirectory()
	dir.emailLookupErr = fmt.Errorf("scheduler offline")
	dir.phoneLookupErr = fmt.Errorf("scheduler offline")
	r := testResolver(dir)

	out, err := r.ResolveOrCreate(context.Background(), Request{
		Phone:    "+61400000001",
		FullName: "Jane Smith",
		Email:    "jane@example.com",
	})
	require.NoError(t, err, "lookup failures are non-fatal")
	assert.True(t, out.Created)
}

func TestCreateFailurePropagates(t *testing.T) {
	dir := newFakeDirectory()
	dir.createErr = fmt.Errorf("scheduler rejected create")
	r := testResolver(dir)

	_, err := r.ResolveOrCreate(context.Background(), Request{Phone: "+61400000001", FullName: "Jane Smith"})
	require.Error(t, err, "create failures on the booking path must surface")
}
