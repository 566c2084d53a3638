// Package httptransport provides HTTP handlers.
package httptransport

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"admissiongate/internal/gateway/core"
)

const defaultMaxBodyBytes = 1 << 20

type httpErrorResponse struct {
	Error string `json:"error"`
}

func (t *HTTPTransport) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/admit", t.handleAdmit)
	mux.HandleFunc("/v1/complete", t.handleComplete)
	mux.HandleFunc("/v1/admin/overrides", t.handleOverrides)
	mux.HandleFunc("/v1/admin/rules", t.handleRules)
	mux.HandleFunc("/v1/status", t.handleStatus)
	mux.HandleFunc("/healthz", t.handleHealth)
	mux.HandleFunc("/readyz", t.handleReady)
	mux.HandleFunc("/metrics", t.handlePrometheus)
	mux.HandleFunc("/metricsz", t.handleMetricsSnapshot)
}

func (t *HTTPTransport) handleAdmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	defer func() {
		if t.metrics != nil {
			t.metrics.ObserveLatency("httpAdmit", time.Since(start), t.region)
		}
	}()
	var httpReq httpAdmitRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if httpReq.PrincipalID == "" || httpReq.Resource == "" {
		t.writeError(w, r, http.StatusBadRequest, core.ErrInvalidInput)
		return
	}
	decision, err := t.admission.Admit(r.Context(), toAdmissionRequest(httpReq))
	if err != nil {
		switch core.CodeOf(err) {
		case core.CodeInvalidInput, core.CodeInvalidContext:
			t.writeError(w, r, http.StatusBadRequest, err)
		default:
			t.writeError(w, r, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, fromAdmissionDecision(decision))
}

func (t *HTTPTransport) handleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var httpReq httpCompleteRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if httpReq.LeaseID == "" {
		t.writeError(w, r, http.StatusBadRequest, core.ErrInvalidInput)
		return
	}
	latency := time.Duration(httpReq.LatencyMS) * time.Millisecond
	if err := t.admission.Complete(r.Context(), httpReq.LeaseID, httpReq.Success, latency); err != nil {
		switch core.CodeOf(err) {
		case core.CodeNotFound:
			t.writeError(w, r, http.StatusNotFound, err)
		default:
			t.writeError(w, r, http.StatusInternalServerError, err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *HTTPTransport) handleOverrides(w http.ResponseWriter, r *http.Request) {
	if !t.authorizeAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodPost:
		t.handleCreateOverride(w, r)
	case http.MethodGet:
		t.handleListOverrides(w, r)
	case http.MethodDelete:
		t.handleExpireOverride(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (t *HTTPTransport) handleCreateOverride(w http.ResponseWriter, r *http.Request) {
	var httpReq httpOverrideRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if httpReq.TTLSeconds <= 0 || httpReq.IssuedBy == "" {
		t.writeError(w, r, http.StatusBadRequest, core.ErrInvalidInput)
		return
	}
	created, err := t.admin.CreateOverride(r.Context(), toOverride(httpReq, time.Now()))
	if err != nil {
		t.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fromOverride(created))
}

func (t *HTTPTransport) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := t.admin.ListOverrides(r.Context())
	if err != nil {
		t.writeAdminError(w, r, err)
		return
	}
	resp := make([]httpOverrideResponse, len(overrides))
	for i, ov := range overrides {
		resp[i] = fromOverride(ov)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (t *HTTPTransport) handleExpireOverride(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		t.writeError(w, r, http.StatusBadRequest, core.ErrInvalidInput)
		return
	}
	if err := t.admin.ExpireOverride(r.Context(), id); err != nil {
		t.writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *HTTPTransport) handleRules(w http.ResponseWriter, r *http.Request) {
	if !t.authorizeAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut:
		t.handleUpsertRule(w, r)
	case http.MethodGet:
		t.handleListRules(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (t *HTTPTransport) handleUpsertRule(w http.ResponseWriter, r *http.Request) {
	var httpReq httpRuleRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	rule, ok := toRule(httpReq)
	if !ok || rule.ResourcePattern == "" || rule.BaseQuota <= 0 || rule.Window <= 0 {
		t.writeError(w, r, http.StatusBadRequest, core.ErrInvalidInput)
		return
	}
	if err := t.admin.UpsertRule(r.Context(), rule); err != nil {
		t.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromRule(rule))
}

func (t *HTTPTransport) handleListRules(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	principalID := query.Get("principalID")
	tierLabel := query.Get("tier")
	tier, ok := core.ParseTier(tierLabel)
	if principalID == "" && !ok {
		t.writeError(w, r, http.StatusBadRequest, core.ErrInvalidInput)
		return
	}
	rules, err := t.admin.ListRules(r.Context(), tier, principalID)
	if err != nil {
		t.writeAdminError(w, r, err)
		return
	}
	resp := make([]httpRuleResponse, len(rules))
	for i, rule := range rules {
		resp[i] = fromRule(rule)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (t *HTTPTransport) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.status == nil {
		writeJSON(w, http.StatusOK, map[string]string{})
		return
	}
	writeJSON(w, http.StatusOK, t.status())
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (t *HTTPTransport) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.appReady != nil && t.appReady() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (t *HTTPTransport) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.promHandler == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	t.promHandler.ServeHTTP(w, r)
}

func (t *HTTPTransport) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.metrics == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, t.metrics.Snapshot())
}

func (t *HTTPTransport) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return core.ErrInvalidInput
	}
	maxBytes := t.maxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return core.ErrInvalidInput
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return core.ErrInvalidInput
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (t *HTTPTransport) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if t != nil {
		t.logRequestError(r, status, err)
	}
	writeJSON(w, status, httpErrorResponse{Error: err.Error()})
}

func (t *HTTPTransport) writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForCode(core.CodeOf(err))
	t.writeError(w, r, status, err)
}

func statusForCode(code core.ErrorCode) int {
	switch code {
	case core.CodeInvalidInput, core.CodeInvalidContext:
		return http.StatusBadRequest
	case core.CodeConflict:
		return http.StatusConflict
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeUnauthorized:
		return http.StatusUnauthorized
	case core.CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (t *HTTPTransport) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	if t == nil || !t.enableAuth {
		return true
	}
	expected := "Bearer " + t.adminToken
	if r.Header.Get("Authorization") != expected {
		t.writeError(w, r, http.StatusUnauthorized, core.Wrap(core.CodeUnauthorized, "unauthorized", nil))
		return false
	}
	return true
}

func (t *HTTPTransport) logRequestError(r *http.Request, status int, err error) {
	if t == nil || t.logger == nil || r == nil || err == nil {
		return
	}
	fields := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"error":  err.Error(),
	}
	if status >= http.StatusInternalServerError {
		t.logger.Error("http request error", fields)
		return
	}
	t.logger.Info("http request error", fields)
}
