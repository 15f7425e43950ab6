package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ppmcore/internal/ai"
	"ppmcore/internal/audit"
	"ppmcore/internal/authz"
	"ppmcore/internal/cache"
	"ppmcore/internal/config"
	"ppmcore/internal/finance"
	"ppmcore/internal/helpchat"
	"ppmcore/internal/importer"
	"ppmcore/internal/schedule"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
	"ppmcore/internal/variance"
)

type stubEngine struct{}

func (stubEngine) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (s stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = s.Embed(ctx, texts[i])
	}
	return out, nil
}

func (stubEngine) Dimensions() int { return 4 }
func (stubEngine) Name() string    { return "stub" }

type stubChat struct{ fail bool }

func (c stubChat) Complete(context.Context, string, string) (*ai.Completion, error) {
	if c.fail {
		return nil, errors.New("unreachable")
	}
	return &ai.Completion{Text: "stub answer", InputTokens: 10, OutputTokens: 5}, nil
}

func (stubChat) ModelID() string { return "stub-model" }

// deadlineChat records whether the call context carried a deadline.
type deadlineChat struct{ sawDeadline *bool }

func (c deadlineChat) Complete(ctx context.Context, _, _ string) (*ai.Completion, error) {
	_, ok := ctx.Deadline()
	*c.sawDeadline = ok
	return &ai.Completion{Text: "bounded answer", InputTokens: 1, OutputTokens: 1}, nil
}

func (deadlineChat) ModelID() string { return "deadline-model" }

func newTestServer(t *testing.T) (*Server, *store.PPMStore) {
	t.Helper()
	return newTestServerWith(t, config.DefaultConfig(), stubChat{})
}

func newTestServerWith(t *testing.T, cfg *config.Config, chat ai.ChatClient) (*Server, *store.PPMStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c := cache.New(1000, nil)
	ctx := context.Background()

	az := authz.New(st, c, 300*time.Second)
	require.NoError(t, az.EnsureDefaultRoles(ctx))
	require.NoError(t, az.AssignRole(ctx, "admin-user", "role-admin"))

	rag := ai.NewRAGService(st, stubEngine{}, chat, c, 5*time.Minute, 10*time.Minute)
	help := helpchat.New(st, stubEngine{}, chat, c, nil, 5*time.Minute, 10*time.Minute)

	svc := Services{
		Store:    st,
		Importer: importer.New(st, cfg),
		Variance: variance.New(st),
		Authz:    az,
		RAG:      rag,
		Feedback: ai.NewFeedbackService(st),
		ABTests:  ai.NewABTestService(st),
		Schedule: schedule.New(st),
		Finance:  finance.New(st),
		Audit:    audit.New(st),
		Help:     help,
	}
	return New(cfg, svc, c, zap.NewNop()), st
}

func newProject(name string) *types.Project {
	return &types.Project{
		PortfolioID: "pf-1",
		Name:        name,
		Status:      types.ProjectActive,
		Health:      types.HealthGreen,
	}
}

func bearerFor(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"email":   userID + "@example.com",
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return "Bearer " + signed
}

func doRequest(t *testing.T, s *Server, method, path, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func errCategory(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Category string `json:"category"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Category
}

func TestHealthRequiresNoAuth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingTokenUnauthenticated(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/dashboard", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", errCategory(t, rec))
}

func TestMalformedTokenUnauthenticated(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/dashboard", "Bearer not.a.token", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPermissionGateForbidsViewer(t *testing.T) {
	s, _ := newTestServer(t)

	// unassigned users fall back to viewer, which cannot import
	body, contentType := multipartUpload(t, "fi_doc_no,amount\nFI-1,100\n")
	rec := doRequest(t, s, http.MethodPost, "/api/imports/actuals", bearerFor(t, "viewer-user"), body, contentType)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errCategory(t, rec))
}

func multipartUpload(t *testing.T, csv string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "upload.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("format", "csv"))
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestImportUploadCSV(t *testing.T) {
	s, _ := newTestServer(t)

	body, contentType := multipartUpload(t,
		"fi_doc_no,amount,project_nr,posting_date\nFI-1,100.50,P-100,2026-01-10\nFI-2,200,P-100,2026-01-11\n")
	rec := doRequest(t, s, http.MethodPost, "/api/imports/actuals", bearerFor(t, "admin-user"), body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		Total        int    `json:"total"`
		SuccessCount int    `json:"success_count"`
		Status       string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, "completed", result.Status)
}

func TestImportRejectsUnknownType(t *testing.T) {
	s, _ := newTestServer(t)
	body, contentType := multipartUpload(t, "a,b\n1,2\n")
	rec := doRequest(t, s, http.MethodPost, "/api/imports/budgets", bearerFor(t, "admin-user"), body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errCategory(t, rec))
}

func TestImportRateLimit(t *testing.T) {
	s, _ := newTestServer(t)
	token := bearerFor(t, "admin-user")

	var last *httptest.ResponseRecorder
	for i := 0; i < rateImport+1; i++ {
		body, contentType := multipartUpload(t, "fi_doc_no,amount\nFI-RL,1\n")
		last = doRequest(t, s, http.MethodPost, "/api/imports/actuals", token, body, contentType)
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "rate_limit_exceeded", errCategory(t, last))
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
}

func TestImportRunsUnderConfiguredDeadline(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Import.Timeout = "1ns" // expired before the dedupe phase runs
	s, _ := newTestServerWith(t, cfg, stubChat{})

	body, contentType := multipartUpload(t, "fi_doc_no,amount\nFI-TO,100\n")
	rec := doRequest(t, s, http.MethodPost, "/api/imports/actuals", bearerFor(t, "admin-user"), body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		SuccessCount int    `json:"success_count"`
		Status       string `json:"status"`
		Errors       []struct {
			Field string `json:"field"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, "failed", result.Status)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "timeout", result.Errors[0].Field)
}

func TestAIQueryCarriesDeadline(t *testing.T) {
	saw := false
	s, _ := newTestServerWith(t, config.DefaultConfig(), deadlineChat{sawDeadline: &saw})

	payload := bytes.NewBufferString(`{"query": "how is the portfolio doing?"}`)
	rec := doRequest(t, s, http.MethodPost, "/api/ai/query", bearerFor(t, "admin-user"), payload, "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, saw, "model calls must run under the configured deadline")
}

func TestErrorShapeNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/finance/projects/missing/budget", bearerFor(t, "admin-user"), nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["category"])
	assert.Contains(t, body["message"], "not found")
}

func TestAIQueryEndToEnd(t *testing.T) {
	s, _ := newTestServer(t)

	payload := bytes.NewBufferString(`{"query": "what is the portfolio status?"}`)
	rec := doRequest(t, s, http.MethodPost, "/api/ai/query", bearerFor(t, "admin-user"), payload, "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "stub answer", body["response"])
}

func TestDashboardSnapshotCached(t *testing.T) {
	s, st := newTestServer(t)
	token := bearerFor(t, "admin-user")

	rec := doRequest(t, s, http.MethodGet, "/api/dashboard", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	first := rec.Body.String()

	// facts change, but the snapshot is served from cache within the TTL
	_, err := st.CreateProject(context.Background(), newProject("Later Project"))
	require.NoError(t, err)

	rec = doRequest(t, s, http.MethodGet, "/api/dashboard", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first, rec.Body.String())
}

func TestRoleAdminEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	token := bearerFor(t, "admin-user")

	payload := bytes.NewBufferString(`{"name": "auditors", "permissions": ["financial_read", "admin_audit"]}`)
	rec := doRequest(t, s, http.MethodPost, "/api/admin/roles", token, payload, "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var role struct {
		ID string `json:"ID"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &role))
	require.NotEmpty(t, role.ID)

	payload = bytes.NewBufferString(`{"user_id": "audit-user"}`)
	rec = doRequest(t, s, http.MethodPost, "/api/admin/roles/"+role.ID+"/assign", token, payload, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	// the assigned user can now read the audit stream
	rec = doRequest(t, s, http.MethodGet, "/api/admin/audit", bearerFor(t, "audit-user"), nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// role changes were themselves audited
	rec = doRequest(t, s, http.MethodGet, "/api/admin/audit?event_type=role_change", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "role_change"))
}
