package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/wotrack_backend/config"
	"github.com/mmdatafocus/wotrack_backend/models"
	"github.com/sirupsen/logrus"
)

type ImportMode string

const (
	ImportModeUpdate       ImportMode = "update"
	ImportModeSkipExisting ImportMode = "skip-existing"
)

// ParseImportMode defaults to update when s is blank.
func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ImportModeUpdate:
		return ImportModeUpdate, nil
	case ImportModeSkipExisting:
		return ImportModeSkipExisting, nil
	}
	return "", fmt.Errorf("unknown import mode %q", s)
}

var releaseDateAliases = map[string]bool{
	"wo rel":       true,
	"wo rel.":      true,
	"wo released":  true,
	"release date": true,
}

// ImportRow is one normalized, coerced and validated sheet row.
type ImportRow struct {
	RowNumber int
	Fields    map[string]string
}

func (r ImportRow) WoId() string {
	return strings.TrimSpace(r.Fields[models.ColumnWoId])
}

// ImportOutcome reports how far a batch got. On error it still describes every committed row.
type ImportOutcome struct {
	ProductId            string                   `json:"product_id"`
	Mode                 ImportMode               `json:"mode"`
	SheetName            string                   `json:"sheet_name,omitempty"`
	CreatedWoIds         []string                 `json:"created_wo_ids"`
	UpdatedWoIds         []string                 `json:"updated_wo_ids"`
	SkippedWoIds         []string                 `json:"skipped_wo_ids"`
	DuplicateWoIds       []string                 `json:"duplicate_wo_ids"`
	EmptyRows            int                      `json:"empty_rows"`
	ProcessedRows        int                      `json:"processed_rows"`
	TotalRows            int                      `json:"total_rows"`
	ValidationErrors     []models.ValidationError `json:"validation_errors"`
	ValidationErrorCount int                      `json:"validation_error_count"`
	Headers              []string                 `json:"headers,omitempty"`
	DetectedHeaders      []string                 `json:"detected_headers,omitempty"`
	HeaderMapping        map[string]string        `json:"header_mapping,omitempty"`

	maxErrors int
	seen      map[string]bool
}

func newImportOutcome(productId string, mode ImportMode) *ImportOutcome {
	return &ImportOutcome{
		ProductId: productId,
		Mode:      mode,
		maxErrors: config.MaxImportValidationErrors(),
		seen:      make(map[string]bool),
	}
}

func (o *ImportOutcome) addValidationErrors(errs []models.ValidationError) {
	for _, e := range errs {
		o.ValidationErrorCount++
		if len(o.ValidationErrors) < o.maxErrors {
			o.ValidationErrors = append(o.ValidationErrors, e)
		}
	}
}

type rowResult int

const (
	rowCreated rowResult = iota
	rowUpdated
	rowSkipped
)

// Reconciler merges imported rows into orders. Import only ever rewrites detail fields of
// existing orders; recorded step progress is carried forward untouched.
type Reconciler struct {
	repo   models.Repository
	locker OrderLocker
	now    func() time.Time
	logger *logrus.Logger
}

func NewReconciler(repo models.Repository, locker OrderLocker) *Reconciler {
	return &Reconciler{
		repo:   repo,
		locker: locker,
		now:    func() time.Time { return time.Now().In(config.DisplayLocation()) },
		logger: config.GetLogger(),
	}
}

// WithClock replaces the wall clock used for Done and release stamps.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Reconcile applies rows in order. Each row commits on its own; a storage failure or
// cancellation stops the batch and returns the outcome so far with the error.
func (r *Reconciler) Reconcile(ctx context.Context, def models.ProcessDefinition, rows []ImportRow, mode ImportMode) (*ImportOutcome, error) {
	outcome := newImportOutcome(def.ProductId, mode)
	outcome.TotalRows = len(rows)
	if err := r.reconcileInto(ctx, def, rows, mode, outcome); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (r *Reconciler) reconcileInto(ctx context.Context, def models.ProcessDefinition, rows []ImportRow, mode ImportMode, outcome *ImportOutcome) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if mode != ImportModeUpdate && mode != ImportModeSkipExisting {
		return fmt.Errorf("unknown import mode %q", mode)
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		woId := row.WoId()
		if woId == "" {
			outcome.EmptyRows++
			continue
		}
		if outcome.seen[woId] {
			if !containsString(outcome.DuplicateWoIds, woId) {
				outcome.DuplicateWoIds = append(outcome.DuplicateWoIds, woId)
			}
		}
		outcome.seen[woId] = true

		result, err := r.reconcileRow(ctx, def, row, woId, mode)
		if err != nil {
			config.LogError(r.logger, "Reconciler", "Reconcile", fmt.Sprintf("row %d", row.RowNumber), woId, err)
			return err
		}
		switch result {
		case rowCreated:
			outcome.CreatedWoIds = append(outcome.CreatedWoIds, woId)
		case rowUpdated:
			outcome.UpdatedWoIds = append(outcome.UpdatedWoIds, woId)
		case rowSkipped:
			outcome.SkippedWoIds = append(outcome.SkippedWoIds, woId)
		}
		outcome.ProcessedRows++
	}
	return nil
}

func (r *Reconciler) reconcileRow(ctx context.Context, def models.ProcessDefinition, row ImportRow, woId string, mode ImportMode) (rowResult, error) {
	key := models.OrderKey{ProductId: def.ProductId, WoId: woId}
	details, releaseKey := selectDetailFields(def, row.Fields)
	details[models.ColumnWoId] = woId

	var result rowResult
	err := r.locker.WithOrderLock(ctx, key, func() error {
		return r.repo.Transaction(ctx, func(tx models.Repository) error {
			existing, err := tx.FindOrder(ctx, key)
			var notFound *models.OrderNotFoundError
			if errors.As(err, &notFound) {
				order := r.newOrder(def, key, details, releaseKey)
				err = tx.CreateOrder(ctx, order)
				if err == nil {
					result = rowCreated
					return nil
				}
				if !errors.Is(err, models.ErrDuplicateOrder) {
					return err
				}
				// created concurrently by another instance; treat it as existing
				if existing, err = tx.FindOrder(ctx, key); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}

			if mode == ImportModeSkipExisting {
				result = rowSkipped
				return nil
			}
			next := existing.Clone()
			next.DetailFields = mergeDetails(existing.DetailFields, details, releaseKey, r.stamp())
			next.EnsureSteps(def)
			next.UpdatedAt = r.now()
			if err := tx.UpdateOrder(ctx, next); err != nil {
				return err
			}
			result = rowUpdated
			return nil
		})
	})
	return result, err
}

func (r *Reconciler) stamp() string {
	return models.FormatDisplayTime(r.now())
}

// newOrder marks the first step Done at import time; every other step starts Pending.
func (r *Reconciler) newOrder(def models.ProcessDefinition, key models.OrderKey, details models.DetailFields, releaseKey string) *models.Order {
	now := r.now()
	order := &models.Order{
		ProductId:    key.ProductId,
		WoId:         key.WoId,
		DetailFields: mergeDetails(nil, details, releaseKey, models.FormatDisplayTime(now)),
		StepStatuses: make(models.StepStatuses, 0, len(def.Steps)),
	}
	for i, step := range def.Steps {
		status := models.StepStatusPending
		if i == 0 {
			status = models.DoneStatus(now)
		}
		order.StepStatuses = append(order.StepStatuses, models.StepEntry{Step: step, Status: status})
	}
	return order
}

// mergeDetails replaces existing details with incoming ones. The release column keeps an
// existing value when the sheet leaves it empty, and is stamped when both are empty.
func mergeDetails(existing, incoming models.DetailFields, releaseKey, stamp string) models.DetailFields {
	out := incoming.Clone()
	if out == nil {
		out = models.DetailFields{}
	}
	if releaseKey == "" || strings.TrimSpace(out[releaseKey]) != "" {
		return out
	}
	if prev := strings.TrimSpace(existing[releaseKey]); prev != "" {
		out[releaseKey] = prev
		return out
	}
	out[releaseKey] = stamp
	return out
}

// selectDetailFields keeps WO ID, declared detail columns, customer/qty/ecd columns and the
// release column. Step columns in the sheet are ignored.
func selectDetailFields(def models.ProcessDefinition, fields map[string]string) (models.DetailFields, string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	releaseKey := ""
	for _, k := range keys {
		if releaseDateAliases[strings.ToLower(k)] && !def.IsStepColumn(k) {
			releaseKey = k
			break
		}
	}
	if releaseKey == "" {
		for _, c := range def.DetailColumns {
			if releaseDateAliases[strings.ToLower(strings.TrimSpace(c))] {
				releaseKey = c
				break
			}
		}
	}

	details := make(models.DetailFields)
	for _, k := range keys {
		if def.IsStepColumn(k) {
			continue
		}
		lower := strings.ToLower(k)
		if k == models.ColumnWoId || def.IsDetailColumn(k) || k == releaseKey ||
			strings.Contains(lower, "customer") || strings.Contains(lower, "qty") || strings.Contains(lower, "ecd") {
			details[k] = fields[k]
		}
	}
	return details, releaseKey
}

// ImportWorkbook runs the whole import: read the sheet, normalize headers, check required
// columns, coerce and validate each row, then reconcile the valid rows.
func (r *Reconciler) ImportWorkbook(ctx context.Context, def models.ProcessDefinition, workbook io.Reader, mode ImportMode) (*ImportOutcome, error) {
	outcome := newImportOutcome(def.ProductId, mode)
	if err := def.Validate(); err != nil {
		return outcome, err
	}
	grid, err := ReadWorkbook(workbook)
	if err != nil {
		return outcome, err
	}
	outcome.SheetName = grid.SheetName
	outcome.TotalRows = len(grid.Rows)
	outcome.DetectedHeaders = DetectHeaders(grid.Headers)

	normalized, mapping := NormalizeHeaders(grid.Headers, def.Aliases())
	outcome.HeaderMapping = mapping
	for _, h := range normalized {
		if h != "" {
			outcome.Headers = append(outcome.Headers, h)
		}
	}
	if err := RequireColumns(normalized, def.Required()); err != nil {
		return outcome, err
	}

	rows := make([]ImportRow, 0, len(grid.Rows))
	for i, cells := range grid.Rows {
		row := ImportRow{RowNumber: SheetRowNumber(i), Fields: CoerceRow(normalized, cells)}
		if row.WoId() != "" {
			if errs := ValidateRow(row.RowNumber, row.Fields, def.ValidationRules); len(errs) > 0 {
				outcome.addValidationErrors(errs)
				continue
			}
		}
		rows = append(rows, row)
	}

	err = r.reconcileInto(ctx, def, rows, mode, outcome)
	r.logger.WithFields(logrus.Fields{
		"product_id":        def.ProductId,
		"sheet":             grid.SheetName,
		"mode":              mode,
		"created":           len(outcome.CreatedWoIds),
		"updated":           len(outcome.UpdatedWoIds),
		"skipped":           len(outcome.SkippedWoIds),
		"validation_errors": outcome.ValidationErrorCount,
	}).Info("workbook import finished")
	return outcome, err
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
