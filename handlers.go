package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/wotrack_backend/config"
	"github.com/mmdatafocus/wotrack_backend/models"
	"github.com/mmdatafocus/wotrack_backend/utils"
	"github.com/mmdatafocus/wotrack_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	maxWorkbookBytes  int64 = 20 << 20
	defaultAuditLimit       = 50
	maxAuditLimit           = 500
	xlsxContentType         = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

type handlers struct {
	ref    *serviceRef
	logger *logrus.Logger
}

type transitionRequest struct {
	Step   string `json:"step" binding:"required"`
	Action string `json:"action" binding:"required"`
}

type commentRequest struct {
	Step           string            `json:"step" binding:"required"`
	Category       string            `json:"category"`
	Content        string            `json:"content" binding:"required"`
	StructuredData map[string]string `json:"structured_data"`
}

type orderView struct {
	ID              int                    `json:"id"`
	ProductId       string                 `json:"product_id"`
	WoId            string                 `json:"wo_id"`
	DetailFields    models.DetailFields    `json:"detail_fields"`
	Steps           map[string]string      `json:"steps"`
	StepStatuses    models.StepStatuses    `json:"step_statuses"`
	CurrentStep     string                 `json:"current_step"`
	OverallStatus   workflow.OverallStatus `json:"overall_status"`
	QualityHoldKind models.QualityHoldKind `json:"quality_hold_kind,omitempty"`
	UpdatedAt       string                 `json:"updated_at"`
}

func newOrderView(o *models.Order, def models.ProcessDefinition) orderView {
	summary := workflow.Derive(o, def)
	return orderView{
		ID:              o.ID,
		ProductId:       o.ProductId,
		WoId:            o.WoId,
		DetailFields:    o.DetailFields,
		Steps:           o.StepStatuses.RawValues(),
		StepStatuses:    o.StepStatuses,
		CurrentStep:     summary.CurrentStep,
		OverallStatus:   summary.OverallStatus,
		QualityHoldKind: summary.QualityHoldKind,
		UpdatedAt:       models.FormatDisplayTime(o.UpdatedAt.In(config.DisplayLocation())),
	}
}

// errorStatus maps error kinds onto HTTP status codes.
func errorStatus(err error) int {
	var missingColumns *models.MissingRequiredColumnsError
	var notFound *models.OrderNotFoundError
	var configErr *models.ConfigError
	var unknownStep *models.UnknownStepError
	var invalidAction *models.InvalidActionError
	var invalidComment *models.InvalidCommentError
	switch {
	case errors.As(err, &missingColumns),
		errors.As(err, &unknownStep),
		errors.As(err, &invalidAction),
		errors.As(err, &invalidComment),
		errors.Is(err, workflow.ErrSheetTooShort),
		errors.Is(err, workflow.ErrUnreadableWorkbook):
		return http.StatusBadRequest
	case errors.As(err, &notFound), errors.Is(err, models.ErrNoProcessDefinition):
		return http.StatusNotFound
	case errors.As(err, &configErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrOrderLockNotObtained):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func (h *handlers) writeError(c *gin.Context, funcName string, err error, extra gin.H) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		correlationId, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(h.logger, "handlers.go", funcName, c.Request.URL.Path, correlationId, err)
	}
	body := gin.H{"error": err.Error()}
	var missingColumns *models.MissingRequiredColumnsError
	if errors.As(err, &missingColumns) {
		body["missing"] = missingColumns.Missing
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

func (h *handlers) definition(c *gin.Context) (*models.ProcessDefinition, bool) {
	def, err := h.ref.get().definitions.Get(c.Request.Context(), c.Param("productId"))
	if err != nil {
		h.writeError(c, "definition", err, nil)
		return nil, false
	}
	return def, true
}

func (h *handlers) actor(c *gin.Context) workflow.Actor {
	ctx := c.Request.Context()
	id, _ := utils.GetActorIdFromContext(ctx)
	name, _ := utils.GetActorNameFromContext(ctx)
	return workflow.Actor{Id: id, Name: name}
}

func readUpload(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: file is required", workflow.ErrUnreadableWorkbook)
	}
	if fh.Size > maxWorkbookBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", workflow.ErrUnreadableWorkbook, maxWorkbookBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxWorkbookBytes))
}

func (h *handlers) listDefinitions(c *gin.Context) {
	defs, err := h.ref.get().definitions.List(c.Request.Context())
	if err != nil {
		h.writeError(c, "listDefinitions", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": defs})
}

func (h *handlers) getDefinition(c *gin.Context) {
	def, ok := h.definition(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, def)
}

func (h *handlers) putDefinition(c *gin.Context) {
	var update models.ProcessDefinitionUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
		return
	}
	def, err := h.ref.get().definitions.Put(c.Request.Context(), c.Param("productId"), update)
	if err != nil {
		h.writeError(c, "putDefinition", err, nil)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (h *handlers) downloadTemplate(c *gin.Context) {
	def, ok := h.definition(c)
	if !ok {
		return
	}
	buf, err := workflow.BuildTemplate(*def)
	if err != nil {
		h.writeError(c, "downloadTemplate", err, nil)
		return
	}
	name := def.Name
	if name == "" {
		name = def.ProductId
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_template.xlsx"`, unsafeFileChars.ReplaceAllString(name, "_")))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *handlers) detectHeaders(c *gin.Context) {
	data, err := readUpload(c)
	if err != nil {
		h.writeError(c, "detectHeaders", err, nil)
		return
	}
	grid, err := workflow.ReadWorkbook(bytes.NewReader(data))
	if errors.Is(err, workflow.ErrSheetTooShort) {
		c.JSON(http.StatusOK, gin.H{"headers": []string{}})
		return
	}
	if err != nil {
		h.writeError(c, "detectHeaders", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"headers":    utils.UniqueSlice(workflow.DetectHeaders(grid.Headers)),
		"sheet_name": grid.SheetName,
	})
}

func (h *handlers) importWorkbook(c *gin.Context) {
	svc := h.ref.get()
	ctx, span := tracer.Start(c.Request.Context(), "importWorkbook")
	defer span.End()
	productId := c.Param("productId")
	span.SetAttributes(attribute.String("product_id", productId))

	mode, err := workflow.ParseImportMode(c.PostForm("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	def, ok := h.definition(c)
	if !ok {
		return
	}
	data, err := readUpload(c)
	if err != nil {
		h.writeError(c, "importWorkbook", err, nil)
		return
	}

	var archiveURL string
	if bucket := config.UploadArchiveBucket(); bucket != "" {
		objectKey := fmt.Sprintf("imports/%s/%s.xlsx", productId, uuid.NewString())
		if err := utils.ArchiveWorkbookToGCS(ctx, bucket, objectKey, data); err != nil {
			config.LogError(h.logger, "handlers.go", "importWorkbook", "archive workbook", objectKey, err)
		} else if utils.SignedArchiveURLsEnabled() {
			signed, _, err := utils.SignArchiveDownload(ctx, bucket, objectKey)
			if err != nil {
				config.LogError(h.logger, "handlers.go", "importWorkbook", "sign archive url", objectKey, err)
			}
			archiveURL = signed
		} else {
			archiveURL = utils.BuildObjectAccessURL(objectKey)
		}
	}

	outcome, err := svc.reconciler.ImportWorkbook(ctx, *def, bytes.NewReader(data), mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.writeError(c, "importWorkbook", err, gin.H{"outcome": outcome})
		return
	}
	span.SetAttributes(
		attribute.Int("created", len(outcome.CreatedWoIds)),
		attribute.Int("updated", len(outcome.UpdatedWoIds)),
		attribute.Int("validation_errors", outcome.ValidationErrorCount),
	)
	c.JSON(http.StatusOK, gin.H{"outcome": outcome, "archive_url": archiveURL})
}

func (h *handlers) listOrders(c *gin.Context) {
	def, ok := h.definition(c)
	if !ok {
		return
	}
	orders, err := h.ref.get().repo.ListOrders(c.Request.Context(), def.ProductId)
	if err != nil {
		h.writeError(c, "listOrders", err, nil)
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, newOrderView(o, *def))
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":         views,
		"steps":          def.Steps,
		"detail_columns": def.DetailColumns,
	})
}

func (h *handlers) productSummary(c *gin.Context) {
	def, ok := h.definition(c)
	if !ok {
		return
	}
	repo := h.ref.get().repo
	orders, err := repo.ListOrders(c.Request.Context(), def.ProductId)
	if err != nil {
		h.writeError(c, "productSummary", err, nil)
		return
	}
	comments, err := repo.QueryIssueComments(c.Request.Context(), def.ProductId)
	if err != nil {
		h.writeError(c, "productSummary", err, nil)
		return
	}
	summary := workflow.Summarize(*def, orders)
	summary.ActiveIssues = workflow.ActiveIssues(*def, orders, comments)
	c.JSON(http.StatusOK, summary)
}

func (h *handlers) transitionStep(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "transitionStep")
	defer span.End()

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
		return
	}
	def, ok := h.definition(c)
	if !ok {
		return
	}
	key := models.OrderKey{ProductId: def.ProductId, WoId: c.Param("woId")}
	span.SetAttributes(
		attribute.String("order", key.String()),
		attribute.String("step", req.Step),
	)

	order, err := h.ref.get().transitioner.Transition(ctx, *def, key, req.Step, req.Action, h.actor(c))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.writeError(c, "transitionStep", err, nil)
		return
	}
	c.JSON(http.StatusOK, newOrderView(order, *def))
}

func (h *handlers) addComment(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "addComment")
	defer span.End()

	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
		return
	}
	def, ok := h.definition(c)
	if !ok {
		return
	}
	key := models.OrderKey{ProductId: def.ProductId, WoId: c.Param("woId")}
	span.SetAttributes(
		attribute.String("order", key.String()),
		attribute.String("step", req.Step),
		attribute.String("category", req.Category),
	)

	result, err := h.ref.get().transitioner.AddComment(ctx, *def, key, workflow.CommentInput{
		Step:           req.Step,
		Category:       req.Category,
		Content:        req.Content,
		StructuredData: req.StructuredData,
	}, h.actor(c))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.writeError(c, "addComment", err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"comment": result.Comment,
		"order":   newOrderView(result.Order, *def),
	})
}

func (h *handlers) listComments(c *gin.Context) {
	key := models.OrderKey{ProductId: c.Param("productId"), WoId: c.Param("woId")}
	comments, err := h.ref.get().repo.QueryComments(c.Request.Context(), key)
	if err != nil {
		h.writeError(c, "listComments", err, nil)
		return
	}
	if comments == nil {
		comments = []*models.Comment{}
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

func (h *handlers) orderAudit(c *gin.Context) {
	key := models.OrderKey{ProductId: c.Param("productId"), WoId: c.Param("woId")}
	entries, err := h.ref.get().repo.QueryByOrder(c.Request.Context(), key)
	if err != nil {
		h.writeError(c, "orderAudit", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *handlers) actorAudit(c *gin.Context) {
	limit := defaultAuditLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	entries, err := h.ref.get().repo.QueryByActor(c.Request.Context(), c.Param("actorId"), limit)
	if err != nil {
		h.writeError(c, "actorAudit", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
