package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-hr-approval-chains/internal/auth"
	"github.com/pesio-ai/be-hr-approval-chains/internal/logger"
)

func newTestMux() *http.ServeMux {
	chains, resolver := newServices()
	mux := http.NewServeMux()
	NewHTTPHandler(chains, resolver, logger.Nop()).Register(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, actor *auth.Actor, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if actor != nil {
		req = req.WithContext(auth.WithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

var twoLevelBody = map[string]any{
	"request_type":  "leave-application",
	"approval_flow": "multi-level",
	"approval_levels": []map[string]any{
		{"level": 1, "approver_type": "specific-employee", "specific_employee_id": "E1"},
		{"level": 2, "approver_type": "department-head", "department_head_mode": "auto"},
	},
}

func TestHTTP_GetUnconfiguredReturnsAutoApprovedDefault(t *testing.T) {
	mux := newTestMux()

	rec := do(t, mux, &viewer, http.MethodGet, "/api/v1/approval-chains/get?request_type=loan", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "auto-approved", body["approval_flow"])
	assert.Equal(t, false, body["configured"])
	assert.Equal(t, []any{}, body["approval_levels"])
}

func TestHTTP_SaveThenGet(t *testing.T) {
	mux := newTestMux()

	rec := do(t, mux, &hrAdmin, http.MethodPost, "/api/v1/approval-chains", twoLevelBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode(t, rec)
	assert.Equal(t, float64(1), saved["version"])
	assert.Equal(t, true, saved["configured"])

	rec = do(t, mux, &viewer, http.MethodGet, "/api/v1/approval-chains/get?request_type=leave-application", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, "multi-level", got["approval_flow"])
	levels := got["approval_levels"].([]any)
	require.Len(t, levels, 2)
	assert.Equal(t, "E1", levels[0].(map[string]any)["specific_employee_id"])
	assert.Equal(t, "department-head", levels[1].(map[string]any)["approver_type"])

	rec = do(t, mux, &viewer, http.MethodGet, "/api/v1/approval-chains/types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"leave-application"}, decode(t, rec)["request_types"])
}

func TestHTTP_ValidationErrorIs422WithViolations(t *testing.T) {
	mux := newTestMux()

	rec := do(t, mux, &hrAdmin, http.MethodPost, "/api/v1/approval-chains", map[string]any{
		"request_type":  "loan",
		"approval_flow": "multi-level",
		"approval_levels": []map[string]any{
			{"level": 1, "approver_type": "specific-employee", "specific_employee_id": "E1"},
			{"level": 3, "approver_type": "specific-employee", "specific_employee_id": "E3"},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "VALIDATION", body["code"])
	assert.NotEmpty(t, body["violations"])
}

func TestHTTP_UnknownRequestTypeIs400(t *testing.T) {
	mux := newTestMux()

	rec := do(t, mux, &viewer, http.MethodGet, "/api/v1/approval-chains/get?request_type=overtime", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "request_type", decode(t, rec)["field"])
}

func TestHTTP_PermissionsAndAuthentication(t *testing.T) {
	mux := newTestMux()

	rec := do(t, mux, &viewer, http.MethodPost, "/api/v1/approval-chains", twoLevelBody)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, mux, nil, http.MethodGet, "/api/v1/approval-chains/types", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, mux, &viewer, http.MethodPut, "/api/v1/approval-chains", twoLevelBody)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTP_Resolve(t *testing.T) {
	mux := newTestMux()

	rec := do(t, mux, &hrAdmin, http.MethodPost, "/api/v1/approval-chains", twoLevelBody)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, mux, &viewer, http.MethodPost, "/api/v1/approval-chains/resolve", map[string]any{
		"request_type":          "leave-application",
		"requester_employee_id": "E7",
		"department_id":         "dept-a",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, false, body["auto_approved"])
	chain := body["chain"].([]any)
	require.Len(t, chain, 2)
	assert.Equal(t, "E1", chain[0].(map[string]any)["approver_employee_id"])
	assert.Equal(t, "E2", chain[1].(map[string]any)["approver_employee_id"])

	rec = do(t, mux, &viewer, http.MethodPost, "/api/v1/approval-chains/resolve", map[string]any{
		"request_type":          "leave-application",
		"requester_employee_id": "E7",
		"department_id":         "dept-without-head",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "UNRESOLVED_APPROVER", body["code"])
	assert.Equal(t, float64(2), body["level"])
	assert.Equal(t, "no-department-head", body["reason"])
	assert.Equal(t, "dept-without-head", body["department_id"])
}

func TestHTTP_HistoryResetAndAudit(t *testing.T) {
	mux := newTestMux()

	for range 2 {
		rec := do(t, mux, &hrAdmin, http.MethodPost, "/api/v1/approval-chains", twoLevelBody)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, mux, &viewer, http.MethodGet, "/api/v1/approval-chains/history?request_type=leave-application", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["versions"], 1)

	rec = do(t, mux, &hrAdmin, http.MethodDelete, "/api/v1/approval-chains/reset?request_type=leave-application", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, mux, &hrAdmin, http.MethodDelete, "/api/v1/approval-chains/reset?request_type=leave-application", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, mux, &hrAdmin, http.MethodGet, "/api/v1/approval-chains/audit?request_type=leave-application", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["entries"], 3)

	rec = do(t, mux, &viewer, http.MethodGet, "/api/v1/approval-chains/audit?request_type=leave-application", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHTTP_OversizedBodyIsRejected(t *testing.T) {
	mux := newTestMux()

	huge := map[string]any{
		"request_type":  "loan",
		"approval_flow": "multi-level",
		"padding":       strings.Repeat("x", maxBodyBytes),
	}
	for _, target := range []string{"/api/v1/approval-chains", "/api/v1/approval-chains/resolve"} {
		rec := do(t, mux, &hrAdmin, http.MethodPost, target, huge)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		body := decode(t, rec)
		assert.Equal(t, "body", body["field"])
		assert.Contains(t, body["error"], "exceeds")
	}

	rec := do(t, mux, &hrAdmin, http.MethodGet, "/api/v1/approval-chains/types", nil)
	assert.Equal(t, []any{}, decode(t, rec)["request_types"], "nothing was saved")
}
