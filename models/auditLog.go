package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrAuditImmutable = errors.New("audit log entries are immutable")

// AuditLogEntry records one step transition. Entries are only ever appended.
type AuditLogEntry struct {
	ID               int       `gorm:"primary_key" json:"id"`
	ProductId        string    `gorm:"size:100;not null;index:idx_audit_order" json:"product_id"`
	WoId             string    `gorm:"size:100;not null;index:idx_audit_order" json:"wo_id"`
	Step             string    `gorm:"size:255;not null" json:"step"`
	Action           string    `gorm:"size:255" json:"action"`
	PreviousRawValue string    `gorm:"type:text" json:"previous_raw_value"`
	NewRawValue      string    `gorm:"type:text" json:"new_raw_value"`
	ActorId          string    `gorm:"size:100;not null;index" json:"actor_id"`
	ActorName        string    `gorm:"size:100" json:"actor_name"`
	Timestamp        time.Time `gorm:"index;not null" json:"timestamp"`
	OrderSnapshot    string    `gorm:"type:text" json:"order_snapshot"`
}

func (AuditLogEntry) TableName() string {
	return "audit_log_entries"
}

func (e *AuditLogEntry) OrderKey() OrderKey {
	return OrderKey{ProductId: e.ProductId, WoId: e.WoId}
}

func (e *AuditLogEntry) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditImmutable
}

func (e *AuditLogEntry) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditImmutable
}
