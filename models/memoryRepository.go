package models

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository used by dry runs and tests.
// Values are copied in and out so callers never share state with the store.
type MemoryRepository struct {
	mu          sync.RWMutex
	orders      map[OrderKey]*Order
	audit       []*AuditLogEntry
	comments    []*Comment
	nextOrderId int
	nextAuditId int
	nextComment int
	fault       func(op string) error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[OrderKey]*Order)}
}

// SetFault installs a hook consulted before every operation; a non-nil result fails that operation.
func (m *MemoryRepository) SetFault(fn func(op string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

func (m *MemoryRepository) check(op string) error {
	m.mu.RLock()
	fault := m.fault
	m.mu.RUnlock()
	if fault == nil {
		return nil
	}
	if err := fault(op); err != nil {
		return storageErr(op, err)
	}
	return nil
}

func (m *MemoryRepository) FindOrder(ctx context.Context, key OrderKey) (*Order, error) {
	if err := m.check("find order"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[key]
	if !ok {
		return nil, &OrderNotFoundError{Key: key}
	}
	return o.Clone(), nil
}

func (m *MemoryRepository) ListOrders(ctx context.Context, productId string) ([]*Order, error) {
	if err := m.check("list orders"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Order
	for k, o := range m.orders {
		if k.ProductId == productId {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WoId < out[j].WoId })
	return out, nil
}

func (m *MemoryRepository) CreateOrder(ctx context.Context, order *Order) error {
	if err := m.check("create order"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(order, time.Now())
}

func (m *MemoryRepository) UpdateOrder(ctx context.Context, order *Order) error {
	if err := m.check("update order"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaceLocked(order, time.Now())
}

func (m *MemoryRepository) AppendAudit(ctx context.Context, entry *AuditLogEntry) error {
	if err := m.check("append audit"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(entry)
	return nil
}

func (m *MemoryRepository) QueryByOrder(ctx context.Context, key OrderKey) ([]*AuditLogEntry, error) {
	if err := m.check("query audit by order"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterAudit(m.audit, func(e *AuditLogEntry) bool { return e.OrderKey() == key }, 0), nil
}

func (m *MemoryRepository) QueryByActor(ctx context.Context, actorId string, limit int) ([]*AuditLogEntry, error) {
	if err := m.check("query audit by actor"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterAudit(m.audit, func(e *AuditLogEntry) bool { return e.ActorId == actorId }, limit), nil
}

func (m *MemoryRepository) AppendComment(ctx context.Context, comment *Comment) error {
	if err := m.check("append comment"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCommentLocked(comment)
	return nil
}

func (m *MemoryRepository) QueryComments(ctx context.Context, key OrderKey) ([]*Comment, error) {
	if err := m.check("query comments"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterComments(m.comments, func(c *Comment) bool { return c.OrderKey() == key }), nil
}

func (m *MemoryRepository) QueryIssueComments(ctx context.Context, productId string) ([]*Comment, error) {
	if err := m.check("query issue comments"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterComments(m.comments, func(c *Comment) bool { return c.ProductId == productId && c.Category.IsIssue() }), nil
}

// Transaction stages writes and applies them together under the store mutex.
// Transactions on different orders do not block each other while fn runs.
func (m *MemoryRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	tx := &memoryTx{base: m, staged: make(map[OrderKey]*Order), created: make(map[OrderKey]bool)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.check("commit"); err != nil {
		return err
	}
	return tx.commit()
}

func (m *MemoryRepository) insertLocked(order *Order, now time.Time) error {
	key := order.Key()
	if _, exists := m.orders[key]; exists {
		return ErrDuplicateOrder
	}
	m.nextOrderId++
	order.ID = m.nextOrderId
	order.CreatedAt = now
	order.UpdatedAt = now
	m.orders[key] = order.Clone()
	return nil
}

func (m *MemoryRepository) replaceLocked(order *Order, now time.Time) error {
	key := order.Key()
	cur, ok := m.orders[key]
	if !ok {
		return &OrderNotFoundError{Key: key}
	}
	order.ID = cur.ID
	order.CreatedAt = cur.CreatedAt
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}
	m.orders[key] = order.Clone()
	return nil
}

func (m *MemoryRepository) appendLocked(entry *AuditLogEntry) {
	m.nextAuditId++
	entry.ID = m.nextAuditId
	c := *entry
	m.audit = append(m.audit, &c)
}

func (m *MemoryRepository) appendCommentLocked(comment *Comment) {
	m.nextComment++
	comment.ID = m.nextComment
	c := *comment
	c.StructuredData = comment.StructuredData.Clone()
	m.comments = append(m.comments, &c)
}

func filterComments(comments []*Comment, keep func(*Comment) bool) []*Comment {
	var out []*Comment
	for _, c := range comments {
		if keep(c) {
			cp := *c
			cp.StructuredData = c.StructuredData.Clone()
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func filterAudit(entries []*AuditLogEntry, keep func(*AuditLogEntry) bool, limit int) []*AuditLogEntry {
	var out []*AuditLogEntry
	for _, e := range entries {
		if keep(e) {
			c := *e
			out = append(out, &c)
		}
	}
	sortAuditDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortAuditDesc(entries []*AuditLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].ID > entries[j].ID
	})
}

type memoryTx struct {
	base     *MemoryRepository
	staged   map[OrderKey]*Order
	order    []OrderKey
	created  map[OrderKey]bool
	audit    []*AuditLogEntry
	comments []*Comment
}

func (t *memoryTx) stage(order *Order) {
	key := order.Key()
	if _, ok := t.staged[key]; !ok {
		t.order = append(t.order, key)
	}
	t.staged[key] = order.Clone()
}

func (t *memoryTx) FindOrder(ctx context.Context, key OrderKey) (*Order, error) {
	if o, ok := t.staged[key]; ok {
		return o.Clone(), nil
	}
	return t.base.FindOrder(ctx, key)
}

func (t *memoryTx) ListOrders(ctx context.Context, productId string) ([]*Order, error) {
	base, err := t.base.ListOrders(ctx, productId)
	if err != nil {
		return nil, err
	}
	byKey := make(map[OrderKey]*Order, len(base))
	for _, o := range base {
		byKey[o.Key()] = o
	}
	for k, o := range t.staged {
		if k.ProductId == productId {
			byKey[k] = o.Clone()
		}
	}
	out := make([]*Order, 0, len(byKey))
	for _, o := range byKey {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WoId < out[j].WoId })
	return out, nil
}

func (t *memoryTx) CreateOrder(ctx context.Context, order *Order) error {
	if err := t.base.check("create order"); err != nil {
		return err
	}
	key := order.Key()
	if _, ok := t.staged[key]; ok {
		return ErrDuplicateOrder
	}
	if _, err := t.base.FindOrder(ctx, key); err == nil {
		return ErrDuplicateOrder
	}
	t.created[key] = true
	t.stage(order)
	return nil
}

func (t *memoryTx) UpdateOrder(ctx context.Context, order *Order) error {
	if err := t.base.check("update order"); err != nil {
		return err
	}
	key := order.Key()
	if _, ok := t.staged[key]; !ok {
		if _, err := t.base.FindOrder(ctx, key); err != nil {
			return err
		}
	}
	t.stage(order)
	return nil
}

func (t *memoryTx) AppendAudit(ctx context.Context, entry *AuditLogEntry) error {
	if err := t.base.check("append audit"); err != nil {
		return err
	}
	c := *entry
	t.audit = append(t.audit, &c)
	return nil
}

func (t *memoryTx) QueryByOrder(ctx context.Context, key OrderKey) ([]*AuditLogEntry, error) {
	out, err := t.base.QueryByOrder(ctx, key)
	if err != nil {
		return nil, err
	}
	out = append(out, filterAudit(t.audit, func(e *AuditLogEntry) bool { return e.OrderKey() == key }, 0)...)
	sortAuditDesc(out)
	return out, nil
}

func (t *memoryTx) QueryByActor(ctx context.Context, actorId string, limit int) ([]*AuditLogEntry, error) {
	out, err := t.base.QueryByActor(ctx, actorId, 0)
	if err != nil {
		return nil, err
	}
	out = append(out, filterAudit(t.audit, func(e *AuditLogEntry) bool { return e.ActorId == actorId }, 0)...)
	sortAuditDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memoryTx) AppendComment(ctx context.Context, comment *Comment) error {
	if err := t.base.check("append comment"); err != nil {
		return err
	}
	t.comments = append(t.comments, comment)
	return nil
}

func (t *memoryTx) QueryComments(ctx context.Context, key OrderKey) ([]*Comment, error) {
	out, err := t.base.QueryComments(ctx, key)
	if err != nil {
		return nil, err
	}
	staged := filterComments(t.comments, func(c *Comment) bool { return c.OrderKey() == key })
	return append(staged, out...), nil
}

func (t *memoryTx) QueryIssueComments(ctx context.Context, productId string) ([]*Comment, error) {
	out, err := t.base.QueryIssueComments(ctx, productId)
	if err != nil {
		return nil, err
	}
	staged := filterComments(t.comments, func(c *Comment) bool { return c.ProductId == productId && c.Category.IsIssue() })
	return append(staged, out...), nil
}

func (t *memoryTx) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return fn(t)
}

func (t *memoryTx) commit() error {
	m := t.base
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range t.order {
		if t.created[key] {
			if _, exists := m.orders[key]; exists {
				return ErrDuplicateOrder
			}
		} else if _, exists := m.orders[key]; !exists {
			return &OrderNotFoundError{Key: key}
		}
	}
	now := time.Now()
	for _, key := range t.order {
		o := t.staged[key]
		if t.created[key] {
			_ = m.insertLocked(o, now)
		} else {
			_ = m.replaceLocked(o, now)
		}
	}
	for _, e := range t.audit {
		m.appendLocked(e)
	}
	for _, c := range t.comments {
		m.appendCommentLocked(c)
	}
	return nil
}
