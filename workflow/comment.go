package workflow

import (
	"context"
	"strings"

	"github.com/mmdatafocus/wotrack_backend/models"
)

type CommentInput struct {
	Step           string
	Category       string
	Content        string
	StructuredData map[string]string
}

// CommentResult carries the stored comment and the order after it. Audit is set only when
// the category changed the step's status.
type CommentResult struct {
	Comment *models.Comment
	Order   *models.Order
	Audit   *models.AuditLogEntry
}

// AddComment records an operator comment on one step. Material shortage and equipment failure
// put the step on Hold, a quality issue puts it on QN; that change is committed with its audit
// entry in the same transaction as the comment. General comments leave the order untouched.
func (t *Transitioner) AddComment(ctx context.Context, def models.ProcessDefinition, key models.OrderKey, in CommentInput, actor Actor) (*CommentResult, error) {
	category, ok := models.ParseCommentCategory(in.Category)
	if !ok {
		return nil, &models.InvalidCommentError{Reason: "unknown category " + strings.TrimSpace(in.Category)}
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, &models.InvalidCommentError{Reason: "content is required"}
	}
	if err := checkStepTarget(def, key, in.Step, actor, string(category)); err != nil {
		return nil, err
	}

	now := t.now()
	structured := models.DetailFields{"category": string(category)}
	for k, v := range in.StructuredData {
		if k != "category" {
			structured[k] = v
		}
	}
	comment := &models.Comment{
		ProductId:      key.ProductId,
		WoId:           key.WoId,
		Step:           in.Step,
		Category:       category,
		Content:        content,
		StructuredData: structured,
		ActorId:        actor.Id,
		ActorName:      actor.Name,
		CreatedAt:      now,
	}
	var change *stepChange
	if status, ok := category.TriggeredStatus(); ok {
		comment.TriggeredStatus = status.Raw()
		change = &stepChange{step: in.Step, action: string(category), status: status}
	}

	order, entry, err := t.commit(ctx, def, key, actor, now, change, func(tx models.Repository, _ *models.Order) error {
		return tx.AppendComment(ctx, comment)
	})
	if err != nil {
		return nil, err
	}
	return &CommentResult{Comment: comment, Order: order, Audit: entry}, nil
}
