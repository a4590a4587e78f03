package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/wotrack_backend/config"
	"github.com/mmdatafocus/wotrack_backend/models"
	"github.com/sirupsen/logrus"
)

const (
	ActionReset = "Reset"
	ActionDone  = "Done"
)

type Actor struct {
	Id   string
	Name string
}

// Transitioner applies operator step changes. The order update and its audit entry
// commit together or not at all.
type Transitioner struct {
	repo      models.Repository
	locker    OrderLocker
	publisher EventPublisher
	now       func() time.Time
	logger    *logrus.Logger
}

func NewTransitioner(repo models.Repository, locker OrderLocker, publisher EventPublisher) *Transitioner {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &Transitioner{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		now:       func() time.Time { return time.Now().In(config.DisplayLocation()) },
		logger:    config.GetLogger(),
	}
}

func (t *Transitioner) WithClock(now func() time.Time) *Transitioner {
	t.now = now
	return t
}

// ResolveAction maps an operator action to the status it sets. Done is stamped with now.
func ResolveAction(action string, now time.Time) (models.StepStatus, error) {
	a := strings.TrimSpace(action)
	switch {
	case a == "":
		return models.StepStatus{}, &models.InvalidActionError{Action: action, Reason: "action is required"}
	case strings.EqualFold(a, ActionReset):
		return models.StepStatusPending, nil
	case strings.EqualFold(a, ActionDone):
		return models.DoneStatus(now), nil
	}
	return models.ParseStepStatus(a), nil
}

// Transition sets one step of one order and appends exactly one audit entry.
// The audit entry keeps the action as sent; NewRawValue holds the canonical token of the status.
func (t *Transitioner) Transition(ctx context.Context, def models.ProcessDefinition, key models.OrderKey, step string, action string, actor Actor) (*models.Order, error) {
	if err := checkStepTarget(def, key, step, actor, action); err != nil {
		return nil, err
	}
	now := t.now()
	status, err := ResolveAction(action, now)
	if err != nil {
		return nil, err
	}
	updated, _, err := t.commit(ctx, def, key, actor, now, &stepChange{step: step, action: strings.TrimSpace(action), status: status}, nil)
	return updated, err
}

func checkStepTarget(def models.ProcessDefinition, key models.OrderKey, step string, actor Actor, action string) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.ProductId != key.ProductId {
		return &models.ConfigError{ProductId: key.ProductId, Reason: "definition belongs to product " + def.ProductId}
	}
	if !def.HasStep(step) {
		return &models.UnknownStepError{ProductId: key.ProductId, Step: step}
	}
	if strings.TrimSpace(actor.Id) == "" {
		return &models.InvalidActionError{Action: action, Reason: "actor is required"}
	}
	return nil
}

type stepChange struct {
	step   string
	action string
	status models.StepStatus
}

// commit runs one order write under the order lock and in one transaction: the optional step
// change with its audit entry, then within. Status events are published after the commit.
func (t *Transitioner) commit(ctx context.Context, def models.ProcessDefinition, key models.OrderKey, actor Actor, now time.Time, change *stepChange, within func(tx models.Repository, order *models.Order) error) (*models.Order, *models.AuditLogEntry, error) {
	var updated *models.Order
	var entry *models.AuditLogEntry
	err := t.locker.WithOrderLock(ctx, key, func() error {
		return t.repo.Transaction(ctx, func(tx models.Repository) error {
			current, err := tx.FindOrder(ctx, key)
			if err != nil {
				return err
			}
			next := current
			var e *models.AuditLogEntry
			if change != nil {
				previous := current.StepStatuses.StatusOf(change.step)
				next = current.Clone()
				next.EnsureSteps(def)
				next.StepStatuses.Set(change.step, change.status)
				next.UpdatedAt = now
				if err := tx.UpdateOrder(ctx, next); err != nil {
					return err
				}
				e = &models.AuditLogEntry{
					ProductId:        key.ProductId,
					WoId:             key.WoId,
					Step:             change.step,
					Action:           change.action,
					PreviousRawValue: previous.Raw(),
					NewRawValue:      change.status.Raw(),
					ActorId:          actor.Id,
					ActorName:        actor.Name,
					Timestamp:        now,
					OrderSnapshot:    next.Snapshot(),
				}
				if err := tx.AppendAudit(ctx, e); err != nil {
					return err
				}
			}
			if within != nil {
				if err := within(tx, next); err != nil {
					return err
				}
			}
			updated, entry = next, e
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return updated, nil, nil
	}

	t.logger.WithFields(logrus.Fields{
		"order":    key.String(),
		"step":     entry.Step,
		"action":   entry.Action,
		"previous": entry.PreviousRawValue,
		"new":      entry.NewRawValue,
		"actor_id": actor.Id,
	}).Info("step transition committed")

	if err := t.publisher.PublishStatus(ctx, newStatusEvent(updated, def, entry)); err != nil {
		config.LogError(t.logger, "Transitioner", "Transition", "publish status event", key.String(), err)
	}
	return updated, entry, nil
}
