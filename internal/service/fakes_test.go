package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"

	"prayerflow/internal/entity"
)

// store backs every repository port with maps. Each call takes mu; the
// transaction manager serializes transactions and restores a snapshot when
// the callback fails.
type store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	tenants       map[uuid.UUID]entity.Tenant
	users         map[uuid.UUID]entity.User
	categories    map[uuid.UUID]entity.Category
	contacts      map[uuid.UUID]entity.Contact
	requests      map[uuid.UUID]entity.PrayerRequest
	approvals     map[uuid.UUID]entity.Approval
	messages      map[uuid.UUID]entity.QueuedMessage
	rules         map[uuid.UUID]entity.Rule
	notifications map[uuid.UUID]entity.Notification
	deliveries    map[uuid.UUID]entity.NotificationDelivery

	// fail makes the named operation return the error.
	fail map[string]error
}

func newStore() *store {
	return &store{
		tenants:       map[uuid.UUID]entity.Tenant{},
		users:         map[uuid.UUID]entity.User{},
		categories:    map[uuid.UUID]entity.Category{},
		contacts:      map[uuid.UUID]entity.Contact{},
		requests:      map[uuid.UUID]entity.PrayerRequest{},
		approvals:     map[uuid.UUID]entity.Approval{},
		messages:      map[uuid.UUID]entity.QueuedMessage{},
		rules:         map[uuid.UUID]entity.Rule{},
		notifications: map[uuid.UUID]entity.Notification{},
		deliveries:    map[uuid.UUID]entity.NotificationDelivery{},
		fail:          map[string]error{},
	}
}

func (s *store) repos() Repositories {
	return Repositories{
		Tenants:       tenantRepo{s},
		Users:         userRepo{s},
		Categories:    categoryRepo{s},
		Contacts:      contactRepo{s},
		Prayers:       prayerRepo{s},
		Approvals:     approvalRepo{s},
		Messages:      messageRepo{s},
		Rules:         ruleRepo{s},
		Notifications: notificationRepo{s},
	}
}

type snapshot struct {
	contacts      map[uuid.UUID]entity.Contact
	requests      map[uuid.UUID]entity.PrayerRequest
	approvals     map[uuid.UUID]entity.Approval
	messages      map[uuid.UUID]entity.QueuedMessage
	rules         map[uuid.UUID]entity.Rule
	notifications map[uuid.UUID]entity.Notification
	deliveries    map[uuid.UUID]entity.NotificationDelivery
}

func (s *store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		contacts:      maps.Clone(s.contacts),
		requests:      maps.Clone(s.requests),
		approvals:     maps.Clone(s.approvals),
		messages:      maps.Clone(s.messages),
		rules:         maps.Clone(s.rules),
		notifications: maps.Clone(s.notifications),
		deliveries:    maps.Clone(s.deliveries),
	}
}

func (s *store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = snap.contacts
	s.requests = snap.requests
	s.approvals = snap.approvals
	s.messages = snap.messages
	s.rules = snap.rules
	s.notifications = snap.notifications
	s.deliveries = snap.deliveries
}

func (s *store) failure(name string) error {
	return s.fail[name]
}

type fakeTM struct{ st *store }

func (m fakeTM) ExecuteInTransaction(ctx context.Context, _ string, fn func(tx pgxdriver.QueryExecuter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.st.txMu.Lock()
	defer m.st.txMu.Unlock()

	snap := m.st.snapshot()
	if err := fn(nil); err != nil {
		m.st.restore(snap)
		return err
	}
	return nil
}

type tenantRepo struct{ st *store }

func (r tenantRepo) GetActive(_ context.Context, _ pgxdriver.QueryExecuter, id uuid.UUID) (*entity.Tenant, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	t, ok := r.st.tenants[id]
	if !ok || !t.IsActive {
		return nil, entity.ErrNotFound
	}
	return &t, nil
}

type userRepo struct{ st *store }

func (r userRepo) GetInTenant(_ context.Context, _ pgxdriver.QueryExecuter, tenantID, id uuid.UUID) (*entity.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	u, ok := r.st.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, entity.ErrNotFound
	}
	return &u, nil
}

func (r userRepo) ListActiveIDs(_ context.Context, _ pgxdriver.QueryExecuter, tenantID uuid.UUID, role *entity.Role) ([]uuid.UUID, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var ids []uuid.UUID
	for _, u := range r.st.users {
		if u.TenantID != tenantID || !u.IsActive || (role != nil && u.Role != *role) {
			continue
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (r userRepo) FilterInTenant(_ context.Context, _ pgxdriver.QueryExecuter, tenantID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var found []uuid.UUID
	for _, id := range ids {
		if u, ok := r.st.users[id]; ok && u.TenantID == tenantID {
			found = append(found, id)
		}
	}
	return found, nil
}

type categoryRepo struct{ st *store }

func (r categoryRepo) Get(_ context.Context, _ pgxdriver.QueryExecuter, tenantID, id uuid.UUID) (*entity.Category, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, ok := r.st.categories[id]
	if !ok || c.TenantID != tenantID {
		return nil, entity.ErrNotFound
	}
	return &c, nil
}

func (r categoryRepo) GetActive(ctx context.Context, qe pgxdriver.QueryExecuter, tenantID, id uuid.UUID) (*entity.Category, error) {
	c, err := r.Get(ctx, qe, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, entity.ErrNotFound
	}
	return c, nil
}

func (r categoryRepo) ListActive(_ context.Context, _ pgxdriver.QueryExecuter, tenantID uuid.UUID) ([]entity.Category, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if err := r.st.failure("categories.ListActive"); err != nil {
		return nil, err
	}
	out := make([]entity.Category, 0)
	for _, c := range r.st.categories {
		if c.TenantID == tenantID && c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type contactRepo struct{ st *store }

func (r contactRepo) Upsert(_ context.Context, _ pgxdriver.QueryExecuter, tenantID uuid.UUID, in entity.ContactInput, now time.Time) (*entity.Contact, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for id, c := range r.st.contacts {
		if c.TenantID == tenantID && c.Phone == in.Phone && c.Email == in.Email {
			c.FullName = in.FullName
			c.PreferredChannel = in.PreferredChannel
			c.UpdatedAt = now
			r.st.contacts[id] = c
			return &c, nil
		}
	}
	c := entity.Contact{
		ID:               uuid.New(),
		TenantID:         tenantID,
		FullName:         in.FullName,
		Phone:            in.Phone,
		Email:            in.Email,
		PreferredChannel: in.PreferredChannel,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.st.contacts[c.ID] = c
	return &c, nil
}

func (r contactRepo) GetByID(_ context.Context, _ pgxdriver.QueryExecuter, tenantID, id uuid.UUID) (*entity.Contact, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, ok := r.st.contacts[id]
	if !ok || c.TenantID != tenantID {
		return nil, entity.ErrNotFound
	}
	return &c, nil
}

type prayerRepo struct{ st *store }

func (r prayerRepo) Create(_ context.Context, _ pgxdriver.QueryExecuter, p entity.PrayerRequest) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.requests[p.ID] = p
	return nil
}

func (r prayerRepo) GetByID(_ context.Context, _ pgxdriver.QueryExecuter, tenantID, id uuid.UUID) (*entity.PrayerRequest, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	p, ok := r.st.requests[id]
	if !ok || p.TenantID != tenantID {
		return nil, entity.ErrNotFound
	}
	return &p, nil
}

func (r prayerRepo) LockByID(_ context.Context, _ pgxdriver.QueryExecuter, id uuid.UUID) (*entity.PrayerRequest, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	p, ok := r.st.requests[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return &p, nil
}

func (r prayerRepo) UpdateStatus(_ context.Context, _ pgxdriver.QueryExecuter, tenantID uuid.UUID, ids []uuid.UUID, status entity.ModerationStatus, now time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for _, id := range ids {
		if p, ok := r.st.requests[id]; ok && p.TenantID == tenantID {
			p.Status = status
			p.UpdatedAt = now
			r.st.requests[id] = p
			n++
		}
	}
	return n, nil
}

func (r prayerRepo) UpdatePriority(_ context.Context, _ pgxdriver.QueryExecuter, tenantID, id uuid.UUID, priority entity.Priority, now time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	p, ok := r.st.requests[id]
	if !ok || p.TenantID != tenantID {
		return 0, nil
	}
	p.Priority = priority
	p.UpdatedAt = now
	r.st.requests[id] = p
	return 1, nil
}

func (r prayerRepo) FlagFollowUp(_ context.Context, _ pgxdriver.QueryExecuter, tenantID, id uuid.UUID, now time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	p, ok := r.st.requests[id]
	if !ok || p.TenantID != tenantID {
		return 0, nil
	}
	p.NeedsFollowUp = true
	p.UpdatedAt = now
	r.st.requests[id] = p
	return 1, nil
}

func (r prayerRepo) ListFollowUps(_ context.Context, _ pgxdriver.QueryExecuter, tenantID uuid.UUID, page entity.Page) ([]entity.PrayerRequest, int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []entity.PrayerRequest
	for _, p := range r.st.requests {
		if p.TenantID == tenantID && p.NeedsFollowUp {
			out = append(out, p)
		}
	}
	return paginate(out, page), len(out), nil
}

type approvalRepo struct{ st *store }

func (r approvalRepo) Create(_ context.Context, _ pgxdriver.QueryExecuter, a entity.Approval) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, existing := range r.st.approvals {
		if existing.RequestID == a.RequestID {
			return entity.ErrConflictingData
		}
	}
	r.st.approvals[a.ID] = a
	return nil
}

func (r approvalRepo) GetByRequestID(_ context.Context, _ pgxdriver.QueryExecuter, tenantID, requestID uuid.UUID) (*entity.Approval, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, a := range r.st.approvals {
		if a.RequestID == requestID && a.TenantID == tenantID {
			return &a, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (r approvalRepo) LockByIDs(_ context.Context, _ pgxdriver.QueryExecuter, tenantID uuid.UUID, ids []uuid.UUID) ([]entity.Approval, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []entity.Approval
	for _, id := range ids {
		if a, ok := r.st.approvals[id]; ok && a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r approvalRepo) Decide(_ context.Context, _ pgxdriver.QueryExecuter, tenantID uuid.UUID, ids []uuid.UUID, status entity.ModerationStatus, approverID *uuid.UUID, notes *string, at time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for _, id := range ids {
		a, ok := r.st.approvals[id]
		if !ok || a.TenantID != tenantID || a.Status != entity.StatusPending {
			continue
		}
		a.Status = status
		a.ApproverID = approverID
		a.ApprovedAt = &at
		a.Notes = notes
		r.st.approvals[id] = a
		n++
	}
	return n, nil
}

func (r approvalRepo) ListPending(_ context.Context, _ pgxdriver.QueryExecuter, tenantID uuid.UUID, filter entity.PendingFilter, page entity.Page) ([]entity.PendingItem, int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var items []entity.PendingItem
	for _, a := range r.st.approvals {
		if a.TenantID != tenantID || a.Status != entity.StatusPending {
			continue
		}
		req := r.st.requests[a.RequestID]
		if filter.CategoryID != nil && req.CategoryID != *filter.CategoryID {
			continue
		}
		if filter.Priority != nil && req.Priority != *filter.Priority {
			continue
		}
		items = append(items, entity.PendingItem{
			Approval: a,
			Request:  req,
			Contact:  r.st.contacts[req.ContactID],
			Category: r.st.categories[req.CategoryID],
		})
	}
	sort.Slice(items, func(i, j int) bool {
		ri, rj := items[i].Request.Priority.Rank(), items[j].Request.Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return items[i].Request.CreatedAt.After(items[j].Request.CreatedAt)
	})
	return paginate(items, page), len(items), nil
}

type messageRepo struct{ st *store }

func (r messageRepo) Create(_ context.Context, _ pgxdriver.QueryExecuter, m entity.QueuedMessage) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.messages[m.ID] = m
	return nil
}

func (r messageRepo) ClaimDue(_ context.Context, _ pgxdriver.QueryExecuter, now time.Time, limit uint64) ([]entity.QueuedMessage, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []entity.QueuedMessage
	for _, m := range r.st.messages {
		if m.Status != entity.MessagePending && m.Status != entity.MessageScheduled {
			continue
		}
		if m.ScheduledAt != nil && m.ScheduledAt.After(now) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r messageRepo) update(id uuid.UUID, fn func(m *entity.QueuedMessage)) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	m, ok := r.st.messages[id]
	if !ok {
		return entity.ErrNotFound
	}
	fn(&m)
	r.st.messages[id] = m
	return nil
}

func (r messageRepo) MarkSent(_ context.Context, _ pgxdriver.QueryExecuter, id uuid.UUID, sentAt time.Time) error {
	if err := r.st.failure("messages.MarkSent"); err != nil {
		return err
	}
	return r.update(id, func(m *entity.QueuedMessage) {
		m.Status = entity.MessageSent
		m.SentAt = &sentAt
		m.ErrorMessage = nil
	})
}

func (r messageRepo) MarkRetry(_ context.Context, _ pgxdriver.QueryExecuter, id uuid.UUID, retryCount int, errMsg string, next time.Time) error {
	return r.update(id, func(m *entity.QueuedMessage) {
		m.Status = entity.MessagePending
		m.RetryCount = retryCount
		m.ErrorMessage = &errMsg
		m.ScheduledAt = &next
	})
}

func (r messageRepo) MarkFailed(_ context.Context, _ pgxdriver.QueryExecuter, id uuid.UUID, retryCount int, errMsg string) error {
	return r.update(id, func(m *entity.QueuedMessage) {
		m.Status = entity.MessageFailed
		m.RetryCount = retryCount
		m.ErrorMessage = &errMsg
	})
}

type ruleRepo struct{ st *store }

func (r ruleRepo) Create(_ context.Context, _ pgxdriver.QueryExecuter, rule entity.Rule) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.rules[rule.ID] = rule
	return nil
}

func (r ruleRepo) List(_ context.Context, _ pgxdriver.QueryExecuter, tenantID uuid.UUID, activeOnly bool) ([]entity.Rule, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if err := r.st.failure("rules.List"); err != nil {
		return nil, err
	}
	out := make([]entity.Rule, 0)
	for _, rule := range r.st.rules {
		if rule.TenantID == tenantID && (!activeOnly || rule.IsActive) {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

type notificationRepo struct{ st *store }

func (r notificationRepo) Create(_ context.Context, _ pgxdriver.QueryExecuter, n entity.Notification) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.notifications[n.ID] = n
	return nil
}

func (r notificationRepo) CreateDeliveries(_ context.Context, _ pgxdriver.QueryExecuter, ds []entity.NotificationDelivery) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if err := r.st.failure("notifications.CreateDeliveries"); err != nil {
		return 0, err
	}
	var n int64
	for _, d := range ds {
		dup := false
		for _, existing := range r.st.deliveries {
			if existing.NotificationID == d.NotificationID && existing.UserID == d.UserID {
				dup = true
				break
			}
		}
		if !dup {
			r.st.deliveries[d.ID] = d
			n++
		}
	}
	return n, nil
}

func (r notificationRepo) MarkRead(_ context.Context, _ pgxdriver.QueryExecuter, tenantID, notificationID, userID uuid.UUID, at time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	n, ok := r.st.notifications[notificationID]
	if !ok || n.TenantID != tenantID {
		return 0, nil
	}
	var count int64
	for id, d := range r.st.deliveries {
		if d.NotificationID == notificationID && d.UserID == userID {
			d.IsRead = true
			if d.ReadAt == nil {
				d.ReadAt = &at
			}
			r.st.deliveries[id] = d
			count++
		}
	}
	return count, nil
}

func (r notificationRepo) MarkAllRead(_ context.Context, _ pgxdriver.QueryExecuter, tenantID, userID uuid.UUID, at time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var count int64
	for id, d := range r.st.deliveries {
		if d.UserID != userID || d.IsRead || r.st.notifications[d.NotificationID].TenantID != tenantID {
			continue
		}
		d.IsRead = true
		d.ReadAt = &at
		r.st.deliveries[id] = d
		count++
	}
	return count, nil
}

func (r notificationRepo) Inbox(_ context.Context, _ pgxdriver.QueryExecuter, tenantID, userID uuid.UUID, unreadOnly bool, page entity.Page) (*entity.Inbox, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	inbox := &entity.Inbox{}
	var items []entity.InboxItem
	for _, d := range r.st.deliveries {
		n := r.st.notifications[d.NotificationID]
		if d.UserID != userID || n.TenantID != tenantID {
			continue
		}
		if !d.IsRead {
			inbox.UnreadCount++
		}
		if unreadOnly && d.IsRead {
			continue
		}
		items = append(items, entity.InboxItem{Notification: n, Delivery: d})
	}
	inbox.Total = len(items)
	inbox.Items = paginate(items, page)
	return inbox, nil
}

func paginate[T any](items []T, page entity.Page) []T {
	page = page.Normalize()
	start := int(page.Offset())
	if start >= len(items) {
		return []T{}
	}
	end := min(start+page.Limit, len(items))
	return slices.Clone(items[start:end])
}

type sentCall struct {
	msg entity.OutboundMessage
}

// fakeSender fails while failures > 0.
type fakeSender struct {
	mu       sync.Mutex
	calls    []sentCall
	failures int
}

func (s *fakeSender) Send(_ context.Context, msg entity.OutboundMessage) (entity.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sentCall{msg: msg})
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return entity.SendResult{}, fmt.Errorf("provider rejected message to %s", msg.To)
	}
	return entity.SendResult{ProviderMessageID: "prov-" + msg.ID.String()}, nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeGuard struct {
	mu   sync.Mutex
	sent map[uuid.UUID]bool
}

func newFakeGuard() *fakeGuard { return &fakeGuard{sent: map[uuid.UUID]bool{}} }

func (g *fakeGuard) WasSent(_ context.Context, id uuid.UUID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent[id], nil
}

func (g *fakeGuard) MarkSent(_ context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent[id] = true
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []entity.Event
}

func (r *eventRecorder) Publish(_ context.Context, ev entity.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) ofType(t entity.EventType) []entity.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// stalledEvents models a broker that never acks: Publish holds until its
// context ends.
type stalledEvents struct {
	mu       sync.Mutex
	calls    int
	expired  int
	deadline []bool
}

func (p *stalledEvents) Publish(ctx context.Context, _ entity.Event) error {
	p.mu.Lock()
	p.calls++
	if ctx.Err() != nil {
		p.expired++
	}
	_, ok := ctx.Deadline()
	p.deadline = append(p.deadline, ok)
	p.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}
