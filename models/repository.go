package models

import "context"

type OrderStore interface {
	// FindOrder returns *OrderNotFoundError when the key does not resolve.
	FindOrder(ctx context.Context, key OrderKey) (*Order, error)
	ListOrders(ctx context.Context, productId string) ([]*Order, error)
	// CreateOrder returns ErrDuplicateOrder when the key already exists.
	CreateOrder(ctx context.Context, order *Order) error
	// UpdateOrder persists order.UpdatedAt as given; a zero value is stamped with now.
	UpdateOrder(ctx context.Context, order *Order) error
}

type AuditLog interface {
	AppendAudit(ctx context.Context, entry *AuditLogEntry) error
	// QueryByOrder returns entries most recent first.
	QueryByOrder(ctx context.Context, key OrderKey) ([]*AuditLogEntry, error)
	// QueryByActor returns at most limit entries most recent first; limit <= 0 means no limit.
	QueryByActor(ctx context.Context, actorId string, limit int) ([]*AuditLogEntry, error)
}

type CommentLog interface {
	AppendComment(ctx context.Context, comment *Comment) error
	// QueryComments returns an order's comments most recent first.
	QueryComments(ctx context.Context, key OrderKey) ([]*Comment, error)
	// QueryIssueComments returns a product's comments in issue categories, most recent first.
	QueryIssueComments(ctx context.Context, productId string) ([]*Comment, error)
}

type Repository interface {
	OrderStore
	AuditLog
	CommentLog
	// Transaction runs fn against a repository bound to a single commit unit.
	// Writes made through tx all commit when fn returns nil and none do otherwise.
	Transaction(ctx context.Context, fn func(tx Repository) error) error
}

type ProcessDefinitionStore interface {
	// Get returns *ConfigError when the product has no usable definition.
	Get(ctx context.Context, productId string) (*ProcessDefinition, error)
	// Put applies a partial update, creating the definition when absent.
	Put(ctx context.Context, productId string, update ProcessDefinitionUpdate) (*ProcessDefinition, error)
	List(ctx context.Context) ([]*ProcessDefinition, error)
}
