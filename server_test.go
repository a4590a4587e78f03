package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/wotrack_backend/config"
	"github.com/mmdatafocus/wotrack_backend/models"
	"github.com/mmdatafocus/wotrack_backend/utils"
	"github.com/mmdatafocus/wotrack_backend/workflow"
	"github.com/xuri/excelize/v2"
)

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: &models.MissingRequiredColumnsError{Missing: []string{"WO ID"}}, want: http.StatusBadRequest},
		{err: &models.UnknownStepError{Step: "Paint"}, want: http.StatusBadRequest},
		{err: &models.InvalidActionError{Action: ""}, want: http.StatusBadRequest},
		{err: &models.InvalidCommentError{Reason: "content is required"}, want: http.StatusBadRequest},
		{err: fmt.Errorf("%w: zip", workflow.ErrUnreadableWorkbook), want: http.StatusBadRequest},
		{err: workflow.ErrSheetTooShort, want: http.StatusBadRequest},
		{err: &models.OrderNotFoundError{}, want: http.StatusNotFound},
		{err: &models.ConfigError{ProductId: "X", Reason: "not configured", Err: models.ErrNoProcessDefinition}, want: http.StatusNotFound},
		{err: &models.ConfigError{ProductId: "X", Reason: "invalid definition"}, want: http.StatusUnprocessableEntity},
		{err: workflow.ErrOrderLockNotObtained, want: http.StatusConflict},
		{err: context.DeadlineExceeded, want: http.StatusRequestTimeout},
		{err: &models.StorageError{Op: "commit", Err: errors.New("down")}, want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := errorStatus(tc.err); got != tc.want {
			t.Errorf("errorStatus(%v)=%d, want %d", tc.err, got, tc.want)
		}
	}
}

type apiClient struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func (a apiClient) do(method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	a.t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a apiClient) upload(path string, workbook []byte, mode string) *httptest.ResponseRecorder {
	a.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("mode", mode)
	part, err := mw.CreateFormFile("file", "schedule.xlsx")
	if err != nil {
		a.t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write(workbook)
	_ = mw.Close()
	return a.do(http.MethodPost, path, &body, mw.FormDataContentType())
}

func scheduleBytes(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]interface{}{
		{"Cable Tray - Production Schedule"},
		{"WO ID", "PN", "Cut", "Assembly", "QC", "Packing", "Receipt"},
		{"6000785969", "PN-1", "", "", "", "", ""},
	}
	for i, row := range rows {
		r := row
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func TestAPIImportTransitionAudit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ref := &serviceRef{}
	router := newRouter(config.GetLogger(), ref)

	adminToken, _ := utils.JwtGenerate("u-1", "Admin", utils.RoleAdmin)
	operatorToken, _ := utils.JwtGenerate("u-2", "Operator", utils.RoleUser)
	admin := apiClient{t: t, router: router, token: adminToken}
	operator := apiClient{t: t, router: router, token: operatorToken}

	if w := admin.do(http.MethodGet, "/api/products", nil, ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("before ready status=%d", w.Code)
	}

	definitions := models.NewMemoryProcessDefinitionStore(models.ProcessDefinition{
		ProductId:     "CT",
		Name:          "Cable Tray",
		Steps:         []string{"Cut", "Assembly", "QC", "Packing", "Receipt"},
		DetailColumns: []string{models.ColumnWoId, "PN"},
	})
	ref.set(newServices(models.NewMemoryRepository(), definitions, workflow.NewKeyedMutex(), workflow.NoopPublisher{}))

	if w := operator.upload("/api/products/CT/import", scheduleBytes(t), "update"); w.Code != http.StatusForbidden {
		t.Fatalf("operator import status=%d", w.Code)
	}
	w := admin.upload("/api/products/CT/import", scheduleBytes(t), "update")
	if w.Code != http.StatusOK {
		t.Fatalf("import status=%d body=%s", w.Code, w.Body.String())
	}
	var imported struct {
		Outcome workflow.ImportOutcome `json:"outcome"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &imported); err != nil {
		t.Fatalf("decode import: %v", err)
	}
	if len(imported.Outcome.CreatedWoIds) != 1 || imported.Outcome.CreatedWoIds[0] != "6000785969" {
		t.Fatalf("outcome=%+v", imported.Outcome)
	}

	if w := admin.upload("/api/products/ZZ/import", scheduleBytes(t), "update"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown product status=%d", w.Code)
	}

	patch := bytes.NewBufferString(`{"step":"Assembly","action":"Hold"}`)
	w = operator.do(http.MethodPatch, "/api/products/CT/orders/6000785969/steps", patch, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("transition status=%d body=%s", w.Code, w.Body.String())
	}
	var view orderView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if view.CurrentStep != "Assembly" || view.OverallStatus != workflow.OverallHold || view.Steps["Assembly"] != "Hold" {
		t.Fatalf("view=%+v", view)
	}

	bad := bytes.NewBufferString(`{"step":"Paint","action":"Done"}`)
	if w := operator.do(http.MethodPatch, "/api/products/CT/orders/6000785969/steps", bad, "application/json"); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown step status=%d", w.Code)
	}
	missing := bytes.NewBufferString(`{"step":"Cut","action":"Done"}`)
	if w := operator.do(http.MethodPatch, "/api/products/CT/orders/404/steps", missing, "application/json"); w.Code != http.StatusNotFound {
		t.Fatalf("missing order status=%d", w.Code)
	}

	w = operator.do(http.MethodGet, "/api/products/CT/orders/6000785969/audit", nil, "")
	var audit struct {
		Entries []models.AuditLogEntry `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &audit); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(audit.Entries) != 1 || audit.Entries[0].ActorId != "u-2" || audit.Entries[0].NewRawValue != "Hold" {
		t.Fatalf("audit=%+v", audit.Entries)
	}

	if w := operator.do(http.MethodGet, "/api/audit/actors/u-2", nil, ""); w.Code != http.StatusForbidden {
		t.Fatalf("operator actor audit status=%d", w.Code)
	}
	if w := admin.do(http.MethodGet, "/api/audit/actors/u-2?limit=0", nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d", w.Code)
	}

	w = operator.do(http.MethodGet, "/api/products/CT/summary", nil, "")
	var summary workflow.ProductSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Total != 1 || summary.Hold != 1 || len(summary.ActiveIssues) != 0 {
		t.Fatalf("summary=%+v", summary)
	}

	issue := bytes.NewBufferString(`{"step":"QC","category":"QUALITY_ISSUE","content":"Measurements out of tolerance"}`)
	w = operator.do(http.MethodPost, "/api/products/CT/orders/6000785969/comments", issue, "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("comment status=%d body=%s", w.Code, w.Body.String())
	}
	var commented struct {
		Comment models.Comment `json:"comment"`
		Order   orderView      `json:"order"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &commented); err != nil {
		t.Fatalf("decode comment: %v", err)
	}
	if commented.Comment.TriggeredStatus != "QN" || commented.Order.Steps["QC"] != "QN" || commented.Comment.ActorId != "u-2" {
		t.Fatalf("comment=%+v order=%+v", commented.Comment, commented.Order)
	}
	unknown := bytes.NewBufferString(`{"step":"QC","category":"WEATHER","content":"rain"}`)
	if w := operator.do(http.MethodPost, "/api/products/CT/orders/6000785969/comments", unknown, "application/json"); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown category status=%d", w.Code)
	}

	w = operator.do(http.MethodGet, "/api/products/CT/orders/6000785969/comments", nil, "")
	var comments struct {
		Comments []models.Comment `json:"comments"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &comments); err != nil {
		t.Fatalf("decode comments: %v", err)
	}
	if len(comments.Comments) != 1 || comments.Comments[0].Category != models.CommentQualityIssue {
		t.Fatalf("comments=%+v", comments.Comments)
	}

	w = operator.do(http.MethodGet, "/api/products/CT/summary", nil, "")
	summary = workflow.ProductSummary{}
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary.ActiveIssues) != 1 || summary.ActiveIssues[0].Step != "QC" || summary.ActiveIssues[0].OverallStatus != workflow.OverallHold {
		t.Fatalf("active issues=%+v", summary.ActiveIssues)
	}

	w = admin.do(http.MethodGet, "/api/products/CT/template", nil, "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != xlsxContentType {
		t.Fatalf("template status=%d type=%q", w.Code, w.Header().Get("Content-Type"))
	}
}
