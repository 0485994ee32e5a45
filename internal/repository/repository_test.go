package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/redis"

	"prayerflow/internal/entity"
)

type sqlizer interface {
	ToSql() (string, []interface{}, error)
}

func mustSQL(t *testing.T, q sqlizer) (string, []any) {
	t.Helper()
	sql, args, err := q.ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}
	return sql, args
}

// hasArg compares printed forms since squirrel binds driver.Valuer
// values, uuid.UUID included, by their Value().
func hasArg(args []any, want any) bool {
	for _, a := range args {
		if fmt.Sprint(a) == fmt.Sprint(want) {
			return true
		}
	}
	return false
}

func TestQueriesAreTenantScoped(t *testing.T) {
	tenant := uuid.New()
	prio := entity.PriorityHigh
	cat := uuid.New()

	tests := []struct {
		name string
		q    sqlizer
	}{
		{"pending", pendingQuery(tenant, entity.PendingFilter{}, entity.Page{}.Normalize())},
		{"pending filtered", pendingQuery(tenant, entity.PendingFilter{CategoryID: &cat, Priority: &prio}, entity.Page{Limit: 5}.Normalize())},
		{"pending count", pendingCountQuery(tenant, entity.PendingFilter{})},
		{"lock approvals", lockApprovalsQuery(tenant, []uuid.UUID{uuid.New()})},
		{"follow ups", followUpsQuery(tenant)},
		{"active users", activeUsersQuery(tenant, nil)},
		{"rules", rulesQuery(tenant, true)},
		{"mark read", markReadQuery(tenant, uuid.New(), uuid.New(), time.Now())},
		{"contact upsert", upsertContactQuery(uuid.New(), tenant, entity.ContactInput{FullName: "x", Phone: "1"}, time.Now())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := mustSQL(t, tt.q)
			if !strings.Contains(sql, "tenant_id") {
				t.Fatalf("no tenant predicate in %q", sql)
			}
			if !hasArg(args, tenant) {
				t.Fatalf("tenant id not bound: %v", args)
			}
		})
	}
}

func TestPendingQueryOrdering(t *testing.T) {
	sql, _ := mustSQL(t, pendingQuery(uuid.New(), entity.PendingFilter{}, entity.Page{Page: 2, Limit: 10}))

	if !strings.Contains(sql, priorityRankExpr+" DESC, r.created_at DESC") {
		t.Fatalf("unexpected ordering: %s", sql)
	}
	if !strings.Contains(sql, "LIMIT 10 OFFSET 10") {
		t.Fatalf("unexpected paging: %s", sql)
	}
}

func TestPendingQueryFilters(t *testing.T) {
	cat := uuid.New()
	prio := entity.PriorityUrgent
	sql, args := mustSQL(t, pendingQuery(uuid.New(), entity.PendingFilter{CategoryID: &cat, Priority: &prio}, entity.Page{}.Normalize()))

	if !strings.Contains(sql, "r.category_id = $") || !strings.Contains(sql, "r.priority = $") {
		t.Fatalf("filters missing: %s", sql)
	}
	if !hasArg(args, cat) || !hasArg(args, prio) {
		t.Fatalf("filter args missing: %v", args)
	}
}

func TestClaimDueQuery(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	sql, args := mustSQL(t, claimDueQuery(now, 25))

	for _, want := range []string{
		"status IN ($1,$2)",
		"scheduled_at IS NULL OR scheduled_at <= $3",
		"LIMIT 25",
		"FOR UPDATE SKIP LOCKED",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("missing %q in %s", want, sql)
		}
	}
	if !hasArg(args, now) {
		t.Errorf("now not bound: %v", args)
	}
}

func TestUpsertContactQuery(t *testing.T) {
	sql, _ := mustSQL(t, upsertContactQuery(uuid.New(), uuid.New(),
		entity.ContactInput{FullName: "Ana", Email: "ana@example.com"}, time.Now()))

	if !strings.Contains(sql, "ON CONFLICT (tenant_id, phone, email) DO UPDATE") {
		t.Fatalf("not an upsert: %s", sql)
	}
	if !strings.HasSuffix(sql, "RETURNING "+contactColumns) {
		t.Fatalf("does not return the row: %s", sql)
	}
}

type memKV struct {
	data map[string]string
}

func newMemKV() *memKV { return &memKV{data: map[string]string{}} }

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", redis.NoMatches
	}
	return v, nil
}

func (m *memKV) SetWithExpiration(_ context.Context, key string, value any, _ time.Duration) error {
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	return nil
}

func TestCategoryCache(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	c := NewCategoryCache(kv, 0)
	tenant := uuid.New()

	if _, ok, err := c.Get(ctx, tenant); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	want := []entity.Category{{ID: uuid.New(), TenantID: tenant, Name: "Health", IsActive: true}}
	if err := c.Set(ctx, tenant, want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := c.Get(ctx, tenant)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0].ID != want[0].ID || got[0].Name != "Health" {
		t.Fatalf("unexpected categories: %+v", got)
	}

	if _, ok, _ := c.Get(ctx, uuid.New()); ok {
		t.Fatal("cache leaked across tenants")
	}
}

func TestSendGuard(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	g := NewSendGuard(kv, time.Hour)
	id := uuid.New()

	sent, err := g.WasSent(ctx, id)
	if err != nil || sent {
		t.Fatalf("fresh message reported sent=%v err=%v", sent, err)
	}
	if err = g.MarkSent(ctx, id); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if sent, _ = g.WasSent(ctx, id); !sent {
		t.Fatal("guard not set")
	}
	if _, ok := kv.data["delivery:sent:"+id.String()]; !ok {
		t.Fatalf("unexpected key layout: %v", kv.data)
	}
}

type failingKV struct{ err error }

func (f failingKV) Get(context.Context, string) (string, error) { return "", f.err }

func (f failingKV) SetWithExpiration(context.Context, string, any, time.Duration) error {
	return f.err
}

func TestSendGuard_StoreError(t *testing.T) {
	boom := errors.New("connection refused")
	g := NewSendGuard(failingKV{err: boom}, time.Hour)

	if sent, err := g.WasSent(context.Background(), uuid.New()); err == nil || sent {
		t.Fatalf("expected an error and sent=false, got sent=%v err=%v", sent, err)
	}
}
