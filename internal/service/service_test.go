package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"prayerflow/internal/entity"
)

var _t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// clock is a settable time source shared by every service in a fixture.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	st     *store
	clock  *clock
	events *eventRecorder
	sender *fakeSender
	guard  *fakeGuard

	tenant   entity.Tenant
	other    entity.Tenant
	category entity.Category
	pastor   entity.User
	member   entity.User

	contacts     *ContactRegistry
	catalog      *CategoryCatalog
	automation   *AutomationService
	intake       *IntakeService
	approvals    *ApprovalService
	delivery     *DeliveryService
	notification *NotificationService
}

func newFixture(t *testing.T, extra ...Option) *fixture {
	t.Helper()

	f := &fixture{
		st:     newStore(),
		clock:  &clock{now: _t0},
		events: &eventRecorder{},
		sender: &fakeSender{},
		guard:  newFakeGuard(),
	}

	f.tenant = entity.Tenant{ID: uuid.New(), Name: "Iglesia Central", IsActive: true}
	f.other = entity.Tenant{ID: uuid.New(), Name: "Iglesia Norte", IsActive: true}
	f.st.tenants[f.tenant.ID] = f.tenant
	f.st.tenants[f.other.ID] = f.other

	f.category = f.addCategory(f.tenant.ID, "Salud", true)
	f.pastor = f.addUser(f.tenant.ID, entity.RolePastor)
	f.member = f.addUser(f.tenant.ID, entity.RoleMember)

	opts := append([]Option{
		WithClock(f.clock.Now),
		WithEvents(f.events),
	}, extra...)

	repos := f.st.repos()
	tm := fakeTM{f.st}

	var err error
	if f.contacts, err = NewContactRegistry(repos.Contacts, opts...); err != nil {
		t.Fatalf("NewContactRegistry: %v", err)
	}
	if f.catalog, err = NewCategoryCatalog(repos.Tenants, repos.Categories, nil, opts...); err != nil {
		t.Fatalf("NewCategoryCatalog: %v", err)
	}
	if f.automation, err = NewAutomationService(repos, tm, opts...); err != nil {
		t.Fatalf("NewAutomationService: %v", err)
	}
	if f.intake, err = NewIntakeService(repos, tm, f.catalog, f.contacts, f.automation, opts...); err != nil {
		t.Fatalf("NewIntakeService: %v", err)
	}
	if f.approvals, err = NewApprovalService(repos, tm, opts...); err != nil {
		t.Fatalf("NewApprovalService: %v", err)
	}
	if f.delivery, err = NewDeliveryService(repos, tm, f.sender, f.guard, opts...); err != nil {
		t.Fatalf("NewDeliveryService: %v", err)
	}
	if f.notification, err = NewNotificationService(repos, tm, opts...); err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}
	return f
}

func (f *fixture) addCategory(tenantID uuid.UUID, name string, active bool) entity.Category {
	c := entity.Category{ID: uuid.New(), TenantID: tenantID, Name: name, IsActive: active}
	f.st.categories[c.ID] = c
	return c
}

func (f *fixture) addUser(tenantID uuid.UUID, role entity.Role) entity.User {
	u := entity.User{ID: uuid.New(), TenantID: tenantID, Name: string(role), Role: role, IsActive: true}
	f.st.users[u.ID] = u
	return u
}

func (f *fixture) addRule(t *testing.T, tenantID uuid.UUID, position int, action entity.RuleAction, conds ...entity.Condition) entity.Rule {
	t.Helper()
	rule, err := f.automation.CreateRule(context.Background(), tenantID, entity.Rule{
		Name:       string(action.Kind()),
		Position:   position,
		IsActive:   true,
		Conditions: conds,
		Action:     action,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	return *rule
}

func (f *fixture) submit(t *testing.T, in entity.SubmitInput) *entity.PrayerRequest {
	t.Helper()
	if in.TenantID == uuid.Nil {
		in.TenantID = f.tenant.ID
	}
	if in.CategoryID == uuid.Nil {
		in.CategoryID = f.category.ID
	}
	if in.Contact.FullName == "" {
		in.Contact = entity.ContactInput{FullName: "Ana", Phone: "+56911111111"}
	}
	if in.Message == "" {
		in.Message = "Por favor oren por mi familia"
	}
	req, err := f.intake.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return req
}

func (f *fixture) request(id uuid.UUID) entity.PrayerRequest {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	return f.st.requests[id]
}

func (f *fixture) approvalFor(requestID uuid.UUID) entity.Approval {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, a := range f.st.approvals {
		if a.RequestID == requestID {
			return a
		}
	}
	return entity.Approval{}
}

func (f *fixture) messagesFor(requestID uuid.UUID) []entity.QueuedMessage {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []entity.QueuedMessage
	for _, m := range f.st.messages {
		if m.RequestID == requestID {
			out = append(out, m)
		}
	}
	return out
}

// assertLockstep checks that every request whose approval is decided
// carries the same status, and the other way round.
func (f *fixture) assertLockstep(t *testing.T) {
	t.Helper()
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, a := range f.st.approvals {
		req := f.st.requests[a.RequestID]
		if a.Status.IsTerminal() != req.Status.IsTerminal() || (a.Status.IsTerminal() && a.Status != req.Status) {
			t.Errorf("request %s is %s but its approval is %s", req.ID, req.Status, a.Status)
		}
	}
}

func assertValidation(t *testing.T, err error, field string) {
	t.Helper()
	var ve *entity.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError on %q, got %v", field, err)
	}
	if ve.Field != field {
		t.Errorf("expected field %q, got %q", field, ve.Field)
	}
}

func TestNewSettings_Validation(t *testing.T) {
	s, err := newSettings([]Option{WithApprovalDelay(time.Hour, time.Minute)})
	if err != nil {
		t.Fatalf("newSettings: %v", err)
	}
	if s.approvalDelayMin != _defaultApprovalDelayLo || s.approvalDelayMax != _defaultApprovalDelayHi {
		t.Errorf("inverted delay bounds should be ignored, got [%v, %v]", s.approvalDelayMin, s.approvalDelayMax)
	}

	s, err = newSettings([]Option{WithBatchSize(800)})
	if err != nil {
		t.Fatalf("newSettings: %v", err)
	}
	if s.batchSize != 800 {
		t.Errorf("batchSize = %d, want 800", s.batchSize)
	}

	for _, size := range []uint64{0, _maxBatchSize + 1} {
		if _, err = newSettings([]Option{WithBatchSize(size)}); err == nil {
			t.Errorf("WithBatchSize(%d): expected an error", size)
		}
	}
	if _, err = newSettings([]Option{WithBatchSize(_maxBatchSize)}); err != nil {
		t.Errorf("WithBatchSize(%d): %v", _maxBatchSize, err)
	}
}

func TestSettings_RetryDelay(t *testing.T) {
	s := defaultSettings()
	s.baseRetryDelay = time.Minute

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{40, _maxRetryDelay},
		{200, _maxRetryDelay},
	}
	for _, tt := range tests {
		if got := s.retryDelay(tt.attempt); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	s.baseRetryDelay = 24 * time.Hour
	prev := time.Duration(0)
	for attempt := 1; attempt <= 64; attempt++ {
		got := s.retryDelay(attempt)
		if got <= 0 || got > _maxRetryDelay || got < prev {
			t.Fatalf("retryDelay(%d) = %v after %v", attempt, got, prev)
		}
		prev = got
	}
	if prev != _maxRetryDelay {
		t.Errorf("retryDelay never reached the cap, last = %v", prev)
	}
}

func TestSettings_ApprovalDelayBounds(t *testing.T) {
	s := defaultSettings()

	s.randN = func(int64) int64 { return 0 }
	if got := s.approvalDelay(); got != time.Hour {
		t.Errorf("lowest draw = %v, want 1h", got)
	}

	s.randN = func(n int64) int64 { return n - 1 }
	if got := s.approvalDelay(); got != 4*time.Hour {
		t.Errorf("highest draw = %v, want 4h", got)
	}
}

func TestUniqueIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	got := uniqueIDs([]uuid.UUID{a, b, a, a, b})
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("uniqueIDs kept order wrong or duplicates: %v", got)
	}
}
