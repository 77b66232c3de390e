package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-hr-approval-chains/internal/auth"
	"github.com/pesio-ai/be-hr-approval-chains/internal/errors"
	"github.com/pesio-ai/be-hr-approval-chains/internal/logger"
	"github.com/pesio-ai/be-hr-approval-chains/internal/repository"
	"github.com/pesio-ai/be-hr-approval-chains/internal/service"
)

// maxBodyBytes caps request bodies; a full chain of MaxApprovalLevels levels
// fits comfortably.
const maxBodyBytes = 64 << 10

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	chains   *service.ApprovalChainService
	resolver *service.ApproverResolver
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(chains *service.ApprovalChainService, resolver *service.ApproverResolver, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		chains:   chains,
		resolver: resolver,
		log:      log.Component("http_handler"),
	}
}

// Register mounts the approval chain routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/approval-chains", h.SaveConfiguration)
	mux.HandleFunc("/api/v1/approval-chains/get", h.GetConfiguration)
	mux.HandleFunc("/api/v1/approval-chains/types", h.ListConfiguredTypes)
	mux.HandleFunc("/api/v1/approval-chains/history", h.GetHistory)
	mux.HandleFunc("/api/v1/approval-chains/audit", h.GetAuditTrail)
	mux.HandleFunc("/api/v1/approval-chains/reset", h.ResetConfiguration)
	mux.HandleFunc("/api/v1/approval-chains/resolve", h.ResolveApprovers)
}

// SaveConfigurationRequest is the full chain submitted by the admin UI.
// The level list always replaces the stored one.
type SaveConfigurationRequest struct {
	RequestType    string                           `json:"request_type"`
	ApprovalFlow   repository.ApprovalFlow          `json:"approval_flow"`
	ApprovalLevels []repository.ApprovalLevelConfig `json:"approval_levels"`
}

// ResolveRequest asks for the concrete approver chain of one request instance.
type ResolveRequest struct {
	RequestType string `json:"request_type"`
	service.RequestContext
}

// GetConfiguration handles GET /api/v1/approval-chains/get?request_type=
func (h *HTTPHandler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	requestType, err := repository.ParseRequestType(r.URL.Query().Get("request_type"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	cfg, err := h.chains.GetConfiguration(r.Context(), actor, requestType)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if cfg == nil {
		h.respondJSON(w, http.StatusOK, map[string]interface{}{
			"request_type":    requestType,
			"approval_flow":   repository.ApprovalFlowAutoApproved,
			"approval_levels": []repository.ApprovalLevelConfig{},
			"configured":      false,
		})
		return
	}
	h.respondJSON(w, http.StatusOK, configurationResponse{cfg, true})
}

type configurationResponse struct {
	*repository.ApprovalChainConfiguration
	Configured bool `json:"configured"`
}

// SaveConfiguration handles POST /api/v1/approval-chains
func (h *HTTPHandler) SaveConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req SaveConfigurationRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	requestType, err := repository.ParseRequestType(req.RequestType)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	cfg, err := h.chains.SaveConfiguration(r.Context(), actor, requestType, req.ApprovalFlow, req.ApprovalLevels)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, configurationResponse{cfg, true})
}

// ListConfiguredTypes handles GET /api/v1/approval-chains/types
func (h *HTTPHandler) ListConfiguredTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	types, err := h.chains.ListRequestTypesWithConfiguration(r.Context(), actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"request_types": types,
	})
}

// GetHistory handles GET /api/v1/approval-chains/history?request_type=&limit=
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	requestType, err := repository.ParseRequestType(r.URL.Query().Get("request_type"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := h.chains.GetConfigurationHistory(r.Context(), actor, requestType, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"request_type": requestType,
		"versions":     history,
	})
}

// GetAuditTrail handles GET /api/v1/approval-chains/audit?request_type=
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	requestType, err := repository.ParseRequestType(r.URL.Query().Get("request_type"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	entries, err := h.chains.GetAuditTrail(r.Context(), actor, requestType)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"request_type": requestType,
		"entries":      entries,
	})
}

// ResetConfiguration handles DELETE /api/v1/approval-chains/reset?request_type=
func (h *HTTPHandler) ResetConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	requestType, err := repository.ParseRequestType(r.URL.Query().Get("request_type"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.chains.ResetConfiguration(r.Context(), actor, requestType); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveApprovers handles POST /api/v1/approval-chains/resolve
func (h *HTTPHandler) ResolveApprovers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req ResolveRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	requestType, err := repository.ParseRequestType(req.RequestType)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resolution, err := h.resolver.ResolveForRequest(r.Context(), actor, requestType, req.RequestContext)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resolution)
}

func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		h.respondError(w, r, errors.New(errors.ErrCodeUnauthorized, "authentication required"))
		return auth.Actor{}, false
	}
	return actor, true
}

type errorResponse struct {
	Error           string                      `json:"error"`
	Code            errors.Code                 `json:"code"`
	Field           string                      `json:"field,omitempty"`
	Violations      []repository.FieldViolation `json:"violations,omitempty"`
	Level           int                         `json:"level,omitempty"`
	Reason          service.UnresolvedReason    `json:"reason,omitempty"`
	DepartmentID    string                      `json:"department_id,omitempty"`
	SubDepartmentID string                      `json:"sub_department_id,omitempty"`
	EmployeeID      string                      `json:"employee_id,omitempty"`
}

// respondError maps typed errors to status codes. Internal errors are logged
// and never echoed to the caller.
func (h *HTTPHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	resp := errorResponse{Error: err.Error(), Code: code}

	var status int
	switch code {
	case errors.ErrCodeValidation:
		status = http.StatusUnprocessableEntity
		var verr *repository.ValidationError
		if errors.As(err, &verr) {
			resp.Violations = verr.Violations
		}
	case errors.ErrCodeUnresolvedApprover:
		status = http.StatusConflict
		var uerr *service.UnresolvedApproverError
		if errors.As(err, &uerr) {
			resp.Level = uerr.Level
			resp.Reason = uerr.Reason
			resp.DepartmentID = uerr.DepartmentID
			resp.SubDepartmentID = uerr.SubDepartmentID
			resp.EmployeeID = uerr.EmployeeID
		}
	case errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
		var appErr *errors.AppError
		if errors.As(err, &appErr) {
			resp.Field = appErr.Field
		}
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeConflict:
		status = http.StatusConflict
	case errors.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		status = http.StatusForbidden
	default:
		status = http.StatusInternalServerError
		h.log.Error().Err(err).
			Str("request_id", logger.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
		resp.Error = "internal server error"
		resp.Code = errors.ErrCodeInternal
	}

	h.respondJSON(w, status, resp)
}

func (h *HTTPHandler) methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.InvalidInput("body", fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes))
		}
		return errors.InvalidInput("body", "invalid request body")
	}
	return nil
}

func (h *HTTPHandler) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response")
	}
}
