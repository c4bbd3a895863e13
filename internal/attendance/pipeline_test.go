package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/veriloc/backend/internal/models"
	"github.com/veriloc/backend/internal/sessions"
	"github.com/veriloc/backend/internal/token"
)

const pipelineSecret = "pipeline-test-secret"

type fakeSessionStore struct {
	byID map[uuid.UUID]*models.ClassSession
}

func (f *fakeSessionStore) GetByID(_ context.Context, id uuid.UUID) (*models.ClassSession, error) {
	return f.byID[id], nil
}

type fakeLedger struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeLedger) Record(_ context.Context, sessionID uuid.UUID, nonce string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sessionID.String() + "/" + nonce
	if f.seen[key] {
		return sessions.ErrNonceUsed
	}
	f.seen[key] = true
	return nil
}

type fakeCohortStore struct {
	byCode map[string]*models.Cohort
}

func (f *fakeCohortStore) GetByCode(_ context.Context, code string) (*models.Cohort, error) {
	return f.byCode[code], nil
}

// fakeRecordStore enforces the (student, cohort, day) uniqueness atomically,
// the way the database constraint does.
type fakeRecordStore struct {
	mu       sync.Mutex
	keys     map[string]bool
	created  int
	precheck bool
}

func recordKey(studentID uuid.UUID, cohortCode, dateKey string) string {
	return fmt.Sprintf("%s/%s/%s", studentID, cohortCode, dateKey)
}

func (f *fakeRecordStore) Exists(_ context.Context, studentID uuid.UUID, cohortCode, dateKey string) (bool, error) {
	if !f.precheck {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[recordKey(studentID, cohortCode, dateKey)], nil
}

func (f *fakeRecordStore) Create(_ context.Context, rec *models.AttendanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := recordKey(rec.StudentID, rec.CohortCode, rec.DateKey)
	if f.keys[key] {
		return ErrDuplicateRecord
	}
	f.keys[key] = true
	f.created++
	rec.ID = uuid.New()
	return nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	passes   *token.Service
	session  *models.ClassSession
	records  *fakeRecordStore
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	session := &models.ClassSession{
		ID:          uuid.New(),
		CohortCode:  "CH401",
		PresenterID: uuid.New(),
		DateKey:     "2026-03-02",
		StartedAt:   time.Unix(1000, 0),
		IsActive:    true,
	}
	cohort := &models.Cohort{
		ID:         uuid.New(),
		Code:       "CH401",
		Name:       "Reaction Engineering",
		Department: "Chemical Engineering",
	}
	passes := token.NewService(pipelineSecret, 3)
	records := &fakeRecordStore{keys: make(map[string]bool)}
	p := NewPipeline(
		passes,
		&fakeSessionStore{byID: map[uuid.UUID]*models.ClassSession{session.ID: session}},
		&fakeLedger{seen: make(map[string]bool)},
		&fakeCohortStore{byCode: map[string]*models.Cohort{cohort.Code: cohort}},
		records,
		nil,
	)
	return &pipelineFixture{pipeline: p, passes: passes, session: session, records: records}
}

func (f *pipelineFixture) mint(t *testing.T, at time.Time) string {
	t.Helper()
	wire, err := f.passes.Mint(f.session.ID, f.session.PresenterID, f.session.CohortCode, at)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return wire
}

// signCustom builds a pass with arbitrary payload fields under the fixture
// secret, for forged/mixed payload cases.
func signCustom(t *testing.T, p token.Payload) string {
	t.Helper()
	env, err := token.Sign(p, []byte(pipelineSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	wire, err := token.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return wire
}

func TestRedeemSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)
	wire := f.mint(t, t0)

	student := uuid.New()
	rec, err := f.pipeline.Redeem(ctx, student, "Chemical Engineering", wire, t0.Add(2*time.Second))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if rec.StudentID != student || rec.SessionID != f.session.ID || rec.CohortCode != "CH401" {
		t.Fatalf("record fields: %+v", rec)
	}
	if rec.DateKey != models.DateKeyFor(t0.Add(2*time.Second)) {
		t.Fatalf("date key: %s", rec.DateKey)
	}
	if f.records.created != 1 {
		t.Fatalf("created %d records", f.records.created)
	}
}

func TestRedeemDepartmentCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	t0 := time.Unix(1_700_000_000, 0)
	if _, err := f.pipeline.Redeem(context.Background(), uuid.New(), "chemical engineering", f.mint(t, t0), t0); err != nil {
		t.Fatalf("redeem: %v", err)
	}
}

// Same pass scanned twice: the second scan is a replay regardless of attendee.
func TestRedeemReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)
	wire := f.mint(t, t0)

	if _, err := f.pipeline.Redeem(ctx, uuid.New(), "Chemical Engineering", wire, t0.Add(2*time.Second)); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	_, err := f.pipeline.Redeem(ctx, uuid.New(), "Chemical Engineering", wire, t0.Add(2500*time.Millisecond))
	if !errors.Is(err, ErrReplay) {
		t.Fatalf("want ErrReplay, got %v", err)
	}
}

// Past the freshness window, expiry wins before any session or ledger check.
func TestRedeemExpired(t *testing.T) {
	f := newFixture(t)
	t0 := time.Unix(1_700_000_000, 0)
	wire := f.mint(t, t0)

	_, err := f.pipeline.Redeem(context.Background(), uuid.New(), "Chemical Engineering", wire, t0.Add(4*time.Second))
	if !errors.Is(err, token.ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
}

func TestRedeemMalformedAndTampered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	if _, err := f.pipeline.Redeem(ctx, uuid.New(), "Chemical Engineering", "not-a-pass", now); !errors.Is(err, token.ErrMalformedEncoding) {
		t.Fatalf("want ErrMalformedEncoding, got %v", err)
	}

	forged, err := token.Sign(token.Payload{
		Version:     token.FormatVersion,
		SessionID:   f.session.ID.String(),
		PresenterID: f.session.PresenterID.String(),
		CohortCode:  "CH401",
		IssuedAt:    now.Unix(),
		Nonce:       "0123456789abcdef0123456789abcdef",
	}, []byte("attacker-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	wire, _ := token.Encode(forged)
	if _, err := f.pipeline.Redeem(ctx, uuid.New(), "Chemical Engineering", wire, now); !errors.Is(err, token.ErrTampered) {
		t.Fatalf("want ErrTampered, got %v", err)
	}
}

func TestRedeemUnknownSession(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1_700_000_000, 0)
	wire := signCustom(t, token.Payload{
		Version:     token.FormatVersion,
		SessionID:   uuid.New().String(),
		PresenterID: f.session.PresenterID.String(),
		CohortCode:  "CH401",
		IssuedAt:    now.Unix(),
		Nonce:       "0123456789abcdef0123456789abcdef",
	})
	_, err := f.pipeline.Redeem(context.Background(), uuid.New(), "Chemical Engineering", wire, now)
	if !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("want ErrUnknownSession, got %v", err)
	}
}

// A pass minted before the session stopped is rejected after the stop.
func TestRedeemSessionClosed(t *testing.T) {
	f := newFixture(t)
	t0 := time.Unix(1_700_000_000, 0)
	wire := f.mint(t, t0)

	endedAt := t0.Add(time.Second)
	f.session.IsActive = false
	f.session.EndedAt = &endedAt

	_, err := f.pipeline.Redeem(context.Background(), uuid.New(), "Chemical Engineering", wire, t0.Add(2*time.Second))
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("want ErrSessionClosed, got %v", err)
	}
}

func TestRedeemPresenterMismatch(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1_700_000_000, 0)
	wire := signCustom(t, token.Payload{
		Version:     token.FormatVersion,
		SessionID:   f.session.ID.String(),
		PresenterID: uuid.New().String(), // someone else's identity over this session
		CohortCode:  "CH401",
		IssuedAt:    now.Unix(),
		Nonce:       "0123456789abcdef0123456789abcdef",
	})
	_, err := f.pipeline.Redeem(context.Background(), uuid.New(), "Chemical Engineering", wire, now)
	if !errors.Is(err, ErrPresenterMismatch) {
		t.Fatalf("want ErrPresenterMismatch, got %v", err)
	}
}

// Attendee from another department is refused and no record is written.
func TestRedeemCohortMismatch(t *testing.T) {
	f := newFixture(t)
	t0 := time.Unix(1_700_000_000, 0)

	_, err := f.pipeline.Redeem(context.Background(), uuid.New(), "Physics", f.mint(t, t0), t0)
	if !errors.Is(err, ErrCohortMismatch) {
		t.Fatalf("want ErrCohortMismatch, got %v", err)
	}
	if f.records.created != 0 {
		t.Fatalf("record created despite mismatch")
	}
}

// A second scan on the same day with a fresh pass still yields exactly one
// record; the duplicate surfaces from the storage constraint.
func TestRedeemDuplicateSameDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)
	student := uuid.New()

	if _, err := f.pipeline.Redeem(ctx, student, "Chemical Engineering", f.mint(t, t0), t0); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	_, err := f.pipeline.Redeem(ctx, student, "Chemical Engineering", f.mint(t, t0.Add(time.Second)), t0.Add(time.Second))
	if !errors.Is(err, ErrDuplicateRecord) {
		t.Fatalf("want ErrDuplicateRecord, got %v", err)
	}
	if f.records.created != 1 {
		t.Fatalf("created %d records", f.records.created)
	}
}

// N concurrent valid, non-replayed attempts for one attendee and day produce
// exactly one record and N-1 duplicate outcomes, with the pre-check disabled
// so every attempt reaches the constraint.
func TestRedeemConcurrentExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)
	student := uuid.New()

	const attempts = 12
	wires := make([]string, attempts)
	for i := range wires {
		wires[i] = f.mint(t, t0)
	}

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(wire string) {
			defer wg.Done()
			_, err := f.pipeline.Redeem(ctx, student, "Chemical Engineering", wire, t0.Add(time.Second))
			results <- err
		}(wires[i])
	}
	wg.Wait()
	close(results)

	success, duplicates := 0, 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrDuplicateRecord):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 || duplicates != attempts-1 {
		t.Fatalf("want 1 success and %d duplicates, got %d/%d", attempts-1, success, duplicates)
	}
	if f.records.created != 1 {
		t.Fatalf("created %d records", f.records.created)
	}
}

func TestRedeemPrecheckFastPath(t *testing.T) {
	f := newFixture(t)
	f.records.precheck = true
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)
	student := uuid.New()

	if _, err := f.pipeline.Redeem(ctx, student, "Chemical Engineering", f.mint(t, t0), t0); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	_, err := f.pipeline.Redeem(ctx, student, "Chemical Engineering", f.mint(t, t0), t0)
	if !errors.Is(err, ErrDuplicateRecord) {
		t.Fatalf("want ErrDuplicateRecord via pre-check, got %v", err)
	}
}

func TestPercentage(t *testing.T) {
	cases := []struct {
		attended, held int
		want           float64
	}{
		{0, 0, 0},
		{0, 5, 0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{3, 3, 100},
		{5, 8, 62.5},
	}
	for _, tc := range cases {
		if got := Percentage(tc.attended, tc.held); got != tc.want {
			t.Fatalf("Percentage(%d, %d) = %v, want %v", tc.attended, tc.held, got, tc.want)
		}
	}
}

func TestKindCoversTaxonomy(t *testing.T) {
	cases := map[error]string{
		token.ErrMalformedEncoding: "malformed_encoding",
		token.ErrTampered:          "tampered",
		token.ErrIncompletePayload: "incomplete_payload",
		token.ErrFutureTimestamp:   "future_timestamp",
		token.ErrExpired:           "expired",
		ErrUnknownSession:          "unknown_session",
		ErrSessionClosed:           "session_closed",
		ErrPresenterMismatch:       "presenter_mismatch",
		ErrReplay:                  "replay",
		ErrCohortMismatch:          "cohort_mismatch",
		ErrDuplicateRecord:         "duplicate_record",
		errors.New("storage down"): "internal",
	}
	for err, want := range cases {
		if got := Kind(err); got != want {
			t.Fatalf("Kind(%v) = %s, want %s", err, got, want)
		}
	}
}
