package models

import (
	"strings"
	"time"
)

type CommentCategory string

const (
	CommentMaterialShortage CommentCategory = "MATERIAL_SHORTAGE"
	CommentEquipmentFailure CommentCategory = "EQUIPMENT_FAILURE"
	CommentQualityIssue     CommentCategory = "QUALITY_ISSUE"
	CommentGeneral          CommentCategory = "GENERAL"
)

// ParseCommentCategory accepts any case; blank means GENERAL.
func ParseCommentCategory(s string) (CommentCategory, bool) {
	switch c := CommentCategory(strings.ToUpper(strings.TrimSpace(s))); c {
	case "":
		return CommentGeneral, true
	case CommentMaterialShortage, CommentEquipmentFailure, CommentQualityIssue, CommentGeneral:
		return c, true
	}
	return "", false
}

// TriggeredStatus is the step status a category forces, if any.
func (c CommentCategory) TriggeredStatus() (StepStatus, bool) {
	switch c {
	case CommentMaterialShortage, CommentEquipmentFailure:
		return StepStatusHold, true
	case CommentQualityIssue:
		return QualityHoldStatus(QualityHoldQN), true
	}
	return StepStatus{}, false
}

// IsIssue reports whether comments of this category are listed as open issues.
func (c CommentCategory) IsIssue() bool {
	return c != "" && c != CommentGeneral
}

// Comment is an operator note on one step of one order. Comments are only ever appended.
type Comment struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ProductId       string          `gorm:"size:100;not null;index:idx_comment_order" json:"product_id"`
	WoId            string          `gorm:"size:100;not null;index:idx_comment_order" json:"wo_id"`
	Step            string          `gorm:"size:255;not null" json:"step"`
	Category        CommentCategory `gorm:"size:50;not null;index" json:"category"`
	Content         string          `gorm:"type:text;not null" json:"content"`
	StructuredData  DetailFields    `gorm:"type:text" json:"structured_data"`
	TriggeredStatus string          `gorm:"size:20" json:"triggered_status,omitempty"`
	ActorId         string          `gorm:"size:100;not null" json:"actor_id"`
	ActorName       string          `gorm:"size:100" json:"actor_name"`
	CreatedAt       time.Time       `gorm:"index;not null" json:"created_at"`
}

func (Comment) TableName() string {
	return "order_comments"
}

func (c *Comment) OrderKey() OrderKey {
	return OrderKey{ProductId: c.ProductId, WoId: c.WoId}
}
