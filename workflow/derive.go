package workflow

import (
	"time"

	"github.com/mmdatafocus/wotrack_backend/models"
)

type OverallStatus string

const (
	OverallPending        OverallStatus = "Pending"
	OverallPlanned        OverallStatus = "Planned"
	OverallWorkInProgress OverallStatus = "WorkInProgress"
	OverallHold           OverallStatus = "Hold"
	OverallQualityHold    OverallStatus = "QualityHold"
	OverallCompleted      OverallStatus = "Completed"
	OverallUnknown        OverallStatus = "Unknown"
)

// StatusSummary is the single human-facing status of an order.
type StatusSummary struct {
	CurrentStep     string                 `json:"current_step"`
	OverallStatus   OverallStatus          `json:"overall_status"`
	QualityHoldKind models.QualityHoldKind `json:"quality_hold_kind,omitempty"`
}

// Derive computes an order's current step and overall status from the definition's steps.
// Every rule scans all steps in definition order:
//  1. the first Hold step wins;
//  2. else the first QualityHold step;
//  3. else the first Pending, Planned or WorkInProgress step, reporting that status;
//  4. else the last step that is not NotApplicable is reported as Completed.
//
// With no applicable step the result is ("", Unknown). Entries for steps outside the
// definition are ignored. Derive does not modify its inputs.
func Derive(order *models.Order, def models.ProcessDefinition) StatusSummary {
	if order == nil || len(def.Steps) == 0 {
		return StatusSummary{OverallStatus: OverallUnknown}
	}
	statuses := order.StepStatuses

	for _, step := range def.Steps {
		if statuses.StatusOf(step).State == models.StepStateHold {
			return StatusSummary{CurrentStep: step, OverallStatus: OverallHold}
		}
	}
	for _, step := range def.Steps {
		if st := statuses.StatusOf(step); st.State == models.StepStateQualityHold {
			return StatusSummary{CurrentStep: step, OverallStatus: OverallQualityHold, QualityHoldKind: st.Kind}
		}
	}
	for _, step := range def.Steps {
		st := statuses.StatusOf(step)
		if st.IsIncomplete() {
			return StatusSummary{CurrentStep: step, OverallStatus: incompleteStatus(st)}
		}
	}
	for i := len(def.Steps) - 1; i >= 0; i-- {
		if statuses.StatusOf(def.Steps[i]).State != models.StepStateNotApplicable {
			return StatusSummary{CurrentStep: def.Steps[i], OverallStatus: OverallCompleted}
		}
	}
	return StatusSummary{OverallStatus: OverallUnknown}
}

func incompleteStatus(st models.StepStatus) OverallStatus {
	switch st.State {
	case models.StepStatePlanned:
		return OverallPlanned
	case models.StepStateWorkInProgress:
		return OverallWorkInProgress
	}
	return OverallPending
}

// ProductSummary counts a product's orders by derived status.
type ProductSummary struct {
	ProductId   string         `json:"product_id"`
	Total       int            `json:"total"`
	Active      int            `json:"active"`
	Pending     int            `json:"pending"`
	Hold        int            `json:"hold"`
	QualityHold int            `json:"quality_hold"`
	Completed   int            `json:"completed"`
	Unknown     int            `json:"unknown"`
	ByStep      map[string]int `json:"by_step"`

	ActiveIssues []ActiveIssue `json:"active_issues"`
}

// Summarize derives every order once and tallies the results; ByStep counts orders not yet completed
// by their current step.
func Summarize(def models.ProcessDefinition, orders []*models.Order) ProductSummary {
	s := ProductSummary{ProductId: def.ProductId, ByStep: make(map[string]int)}
	for _, o := range orders {
		d := Derive(o, def)
		s.Total++
		switch d.OverallStatus {
		case OverallPending:
			s.Pending++
		case OverallPlanned, OverallWorkInProgress:
			s.Active++
		case OverallHold:
			s.Hold++
		case OverallQualityHold:
			s.QualityHold++
		case OverallCompleted:
			s.Completed++
		default:
			s.Unknown++
		}
		if d.OverallStatus != OverallCompleted && d.CurrentStep != "" {
			s.ByStep[d.CurrentStep]++
		}
	}
	return s
}

// ActiveIssue is an issue comment on an order that is not yet completed.
type ActiveIssue struct {
	WoId          string                 `json:"wo_id"`
	Step          string                 `json:"step"`
	Category      models.CommentCategory `json:"category"`
	Content       string                 `json:"content"`
	ActorName     string                 `json:"actor_name"`
	CreatedAt     time.Time              `json:"created_at"`
	CurrentStep   string                 `json:"current_step"`
	OverallStatus OverallStatus          `json:"overall_status"`
}

// ActiveIssues keeps issue-category comments whose order exists and does not derive to
// Completed, preserving the order of comments.
func ActiveIssues(def models.ProcessDefinition, orders []*models.Order, comments []*models.Comment) []ActiveIssue {
	byWo := make(map[string]StatusSummary, len(orders))
	for _, o := range orders {
		byWo[o.WoId] = Derive(o, def)
	}
	out := make([]ActiveIssue, 0)
	for _, c := range comments {
		if !c.Category.IsIssue() || c.ProductId != def.ProductId {
			continue
		}
		d, ok := byWo[c.WoId]
		if !ok || d.OverallStatus == OverallCompleted {
			continue
		}
		out = append(out, ActiveIssue{
			WoId:          c.WoId,
			Step:          c.Step,
			Category:      c.Category,
			Content:       c.Content,
			ActorName:     c.ActorName,
			CreatedAt:     c.CreatedAt,
			CurrentStep:   d.CurrentStep,
			OverallStatus: d.OverallStatus,
		})
	}
	return out
}
