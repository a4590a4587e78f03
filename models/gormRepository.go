package models

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// GormRepository stores orders and audit entries in MySQL.
// Inside Transaction, order reads take a row lock so a read-modify-write is serialized per order.
type GormRepository struct {
	db   *gorm.DB
	inTx bool
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *GormRepository) FindOrder(ctx context.Context, key OrderKey) (*Order, error) {
	var order Order
	q := r.conn(ctx)
	if r.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("product_id = ? AND wo_id = ?", key.ProductId, key.WoId).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &OrderNotFoundError{Key: key}
	}
	if err != nil {
		return nil, storageErr("find order", err)
	}
	return &order, nil
}

func (r *GormRepository) ListOrders(ctx context.Context, productId string) ([]*Order, error) {
	var orders []*Order
	if err := r.conn(ctx).Where("product_id = ?", productId).Order("wo_id").Find(&orders).Error; err != nil {
		return nil, storageErr("list orders", err)
	}
	return orders, nil
}

func (r *GormRepository) CreateOrder(ctx context.Context, order *Order) error {
	err := r.conn(ctx).Create(order).Error
	if isDuplicateKeyErr(err) {
		return ErrDuplicateOrder
	}
	return storageErr("create order", err)
}

// UpdateOrder writes detail fields and step statuses. A zero UpdatedAt is stamped with now.
// Inside a transaction the row was already read FOR UPDATE, so an unchanged row is not a miss.
func (r *GormRepository) UpdateOrder(ctx context.Context, order *Order) error {
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now()
	}
	result := r.conn(ctx).Model(&Order{}).
		Where("product_id = ? AND wo_id = ?", order.ProductId, order.WoId).
		Updates(map[string]interface{}{
			"detail_fields": order.DetailFields,
			"step_statuses": order.StepStatuses,
			"updated_at":    order.UpdatedAt,
		})
	if result.Error != nil {
		return storageErr("update order", result.Error)
	}
	if result.RowsAffected == 0 && !r.inTx {
		return &OrderNotFoundError{Key: order.Key()}
	}
	return nil
}

func (r *GormRepository) AppendAudit(ctx context.Context, entry *AuditLogEntry) error {
	return storageErr("append audit", r.conn(ctx).Create(entry).Error)
}

func (r *GormRepository) QueryByOrder(ctx context.Context, key OrderKey) ([]*AuditLogEntry, error) {
	var entries []*AuditLogEntry
	err := r.conn(ctx).
		Where("product_id = ? AND wo_id = ?", key.ProductId, key.WoId).
		Order("timestamp DESC").Order("id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, storageErr("query audit by order", err)
	}
	return entries, nil
}

func (r *GormRepository) QueryByActor(ctx context.Context, actorId string, limit int) ([]*AuditLogEntry, error) {
	var entries []*AuditLogEntry
	q := r.conn(ctx).Where("actor_id = ?", actorId).Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, storageErr("query audit by actor", err)
	}
	return entries, nil
}

func (r *GormRepository) AppendComment(ctx context.Context, comment *Comment) error {
	return storageErr("append comment", r.conn(ctx).Create(comment).Error)
}

func (r *GormRepository) QueryComments(ctx context.Context, key OrderKey) ([]*Comment, error) {
	var comments []*Comment
	err := r.conn(ctx).
		Where("product_id = ? AND wo_id = ?", key.ProductId, key.WoId).
		Order("created_at DESC").Order("id DESC").
		Find(&comments).Error
	if err != nil {
		return nil, storageErr("query comments", err)
	}
	return comments, nil
}

func (r *GormRepository) QueryIssueComments(ctx context.Context, productId string) ([]*Comment, error) {
	var comments []*Comment
	err := r.conn(ctx).
		Where("product_id = ? AND category IN ?", productId, []CommentCategory{CommentMaterialShortage, CommentEquipmentFailure, CommentQualityIssue}).
		Order("created_at DESC").Order("id DESC").
		Find(&comments).Error
	if err != nil {
		return nil, storageErr("query issue comments", err)
	}
	return comments, nil
}

func (r *GormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	var fnErr error
	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&GormRepository{db: tx, inTx: true})
		return fnErr
	})
	if err != nil && fnErr == nil {
		return storageErr("commit", err)
	}
	return err
}
