package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"admissiongate/internal/gateway/core"
)

type fakeAdmission struct {
	decision    *core.AdmissionDecision
	admitErr    error
	completeErr error
	lastReq     *core.AdmissionRequest
	lastLease   string
}

func (s *fakeAdmission) Admit(_ context.Context, req *core.AdmissionRequest) (*core.AdmissionDecision, error) {
	s.lastReq = req
	if s.admitErr != nil {
		return nil, s.admitErr
	}
	return s.decision, nil
}

func (s *fakeAdmission) Complete(_ context.Context, leaseID string, _ bool, _ time.Duration) error {
	s.lastLease = leaseID
	return s.completeErr
}

type fakeAdmin struct {
	created    *core.Override
	overrides  []*core.Override
	rules      []*core.RateLimitRule
	createErr  error
	expireErr  error
	expiredID  string
	upserted   *core.RateLimitRule
	listedTier core.Tier
}

func (s *fakeAdmin) CreateOverride(_ context.Context, ov *core.Override) (*core.Override, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = ov
	ov.ID = "ov-1"
	return ov, nil
}

func (s *fakeAdmin) ExpireOverride(_ context.Context, id string) error {
	s.expiredID = id
	return s.expireErr
}

func (s *fakeAdmin) ListOverrides(context.Context) ([]*core.Override, error) {
	return s.overrides, nil
}

func (s *fakeAdmin) UpsertRule(_ context.Context, rule *core.RateLimitRule) error {
	s.upserted = rule
	return nil
}

func (s *fakeAdmin) ListRules(_ context.Context, tier core.Tier, _ string) ([]*core.RateLimitRule, error) {
	s.listedTier = tier
	return s.rules, nil
}

type transportFixture struct {
	transport *HTTPTransport
	admission *fakeAdmission
	admin     *fakeAdmin
	handler   http.Handler
}

func newTransportFixture(t *testing.T, cfg HTTPTransportConfig, ready func() bool) *transportFixture {
	t.Helper()

	transport := NewHTTPTransport(":0", ready)
	admission := &fakeAdmission{decision: &core.AdmissionDecision{
		Allowed:  true,
		Priority: core.PriorityNormal,
		Upstream: "search",
		LeaseID:  "lease-1",
		Limit:    100,
	}}
	admin := &fakeAdmin{}
	if err := transport.ServeAdmission(admission); err != nil {
		t.Fatalf("serve admission: %v", err)
	}
	if err := transport.ServeAdmin(admin); err != nil {
		t.Fatalf("serve admin: %v", err)
	}
	transport.Configure(cfg)
	handler, err := transport.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return &transportFixture{transport: transport, admission: admission, admin: admin, handler: handler}
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHTTPTransport_Admit(t *testing.T) {
	t.Parallel()

	f := newTransportFixture(t, HTTPTransportConfig{}, nil)
	rec := doJSON(t, f.handler, http.MethodPost, "/v1/admit", `{
		"requestID": "r1",
		"principalID": "tenant-1",
		"resource": "/v1/search",
		"context": {"eventID": "launch", "eventDate": "2026-06-15"}
	}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var resp httpAdmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Allowed || resp.Upstream != "search" || resp.LeaseID != "lease-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if f.admission.lastReq.Context.EventID != "launch" {
		t.Fatalf("event context not forwarded: %+v", f.admission.lastReq)
	}
}

func TestHTTPTransport_AdmitValidation(t *testing.T) {
	t.Parallel()

	f := newTransportFixture(t, HTTPTransportConfig{}, nil)
	cases := []struct {
		name string
		body string
	}{
		{"missing principal", `{"resource": "/v1/search"}`},
		{"missing resource", `{"principalID": "tenant-1"}`},
		{"unknown field", `{"principalID": "p", "resource": "/v1/x", "bogus": true}`},
		{"trailing garbage", `{"principalID": "p", "resource": "/v1/x"}{}`},
		{"not json", `nonsense`},
	}
	for _, tc := range cases {
		rec := doJSON(t, f.handler, http.MethodPost, "/v1/admit", tc.body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rec.Code)
		}
	}

	rec := doJSON(t, f.handler, http.MethodGet, "/v1/admit", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestHTTPTransport_AdmitRetryAfterRoundsUp(t *testing.T) {
	t.Parallel()

	f := newTransportFixture(t, HTTPTransportConfig{}, nil)
	f.admission.decision = &core.AdmissionDecision{
		Allowed:    false,
		Priority:   core.PriorityNormal,
		Reason:     core.ReasonQuotaExceeded,
		RetryAfter: 200 * time.Millisecond,
	}
	rec := doJSON(t, f.handler, http.MethodPost, "/v1/admit", `{"principalID": "p", "resource": "/v1/x"}`, nil)
	var resp httpAdmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RetryAfterSeconds != 1 {
		t.Fatalf("sub-second retry hints round up to 1, got %d", resp.RetryAfterSeconds)
	}
}

func TestHTTPTransport_Complete(t *testing.T) {
	t.Parallel()

	f := newTransportFixture(t, HTTPTransportConfig{}, nil)
	rec := doJSON(t, f.handler, http.MethodPost, "/v1/complete", `{"leaseID": "lease-1", "success": true, "latencyMS": 20}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.admission.lastLease != "lease-1" {
		t.Fatalf("lease not forwarded, got %q", f.admission.lastLease)
	}

	f.admission.completeErr = core.ErrNotFound
	rec = doJSON(t, f.handler, http.MethodPost, "/v1/complete", `{"leaseID": "ghost"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown lease, got %d", rec.Code)
	}

	rec = doJSON(t, f.handler, http.MethodPost, "/v1/complete", `{"success": true}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing lease, got %d", rec.Code)
	}
}

func TestHTTPTransport_AdminAuth(t *testing.T) {
	t.Parallel()

	f := newTransportFixture(t, HTTPTransportConfig{EnableAuth: true, AdminToken: "secret"}, nil)

	rec := doJSON(t, f.handler, http.MethodGet, "/v1/admin/overrides", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doJSON(t, f.handler, http.MethodGet, "/v1/admin/overrides", "", map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
	rec = doJSON(t, f.handler, http.MethodGet, "/v1/admin/overrides", "", map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestHTTPTransport_OverrideLifecycle(t *testing.T) {
	t.Parallel()

	f := newTransportFixture(t, HTTPTransportConfig{}, nil)

	rec := doJSON(t, f.handler, http.MethodPost, "/v1/admin/overrides", `{
		"principalID": "tenant-1",
		"quotaMultiplier": 2,
		"priorityFloor": "high",
		"ttlSeconds": 600,
		"issuedBy": "oncall"
	}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created httpOverrideResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID != "ov-1" || created.PriorityFloor != "high" {
		t.Fatalf("unexpected override response %+v", created)
	}
	if f.admin.created.Effect.PriorityCeiling != core.PriorityNone {
		t.Fatalf("unset ceiling must stay none, got %v", f.admin.created.Effect.PriorityCeiling)
	}

	rec = doJSON(t, f.handler, http.MethodPost, "/v1/admin/overrides", `{"principalID": "p", "ttlSeconds": 0, "issuedBy": "x"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero ttl, got %d", rec.Code)
	}

	rec = doJSON(t, f.handler, http.MethodDelete, "/v1/admin/overrides?id=ov-1", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if f.admin.expiredID != "ov-1" {
		t.Fatalf("expire not forwarded, got %q", f.admin.expiredID)
	}
	rec = doJSON(t, f.handler, http.MethodDelete, "/v1/admin/overrides", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d", rec.Code)
	}
}

func TestHTTPTransport_Rules(t *testing.T) {
	t.Parallel()

	f := newTransportFixture(t, HTTPTransportConfig{}, nil)

	rec := doJSON(t, f.handler, http.MethodPost, "/v1/admin/rules", `{
		"tier": "premium",
		"resourcePattern": "/v1/photos/*",
		"baseQuota": 500,
		"windowMS": 60000,
		"priorityMultiplier": 2
	}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.admin.upserted == nil || f.admin.upserted.Window != time.Minute {
		t.Fatalf("rule not forwarded: %+v", f.admin.upserted)
	}

	rec = doJSON(t, f.handler, http.MethodPost, "/v1/admin/rules", `{"tier": "platinum", "resourcePattern": "/x", "baseQuota": 1, "windowMS": 1000}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown tier, got %d", rec.Code)
	}

	f.admin.rules = []*core.RateLimitRule{{Tier: core.TierPremium, ResourcePattern: "/v1/*", BaseQuota: 500, Window: time.Minute, PriorityMultiplier: 1}}
	rec = doJSON(t, f.handler, http.MethodGet, "/v1/admin/rules?tier=premium", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.admin.listedTier != core.TierPremium {
		t.Fatalf("tier not forwarded, got %v", f.admin.listedTier)
	}
	rec = doJSON(t, f.handler, http.MethodGet, "/v1/admin/rules", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tier or principal, got %d", rec.Code)
	}
}

func TestHTTPTransport_Readiness(t *testing.T) {
	t.Parallel()

	ready := false
	f := newTransportFixture(t, HTTPTransportConfig{}, func() bool { return ready })

	rec := doJSON(t, f.handler, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", rec.Code)
	}
	ready = true
	rec = doJSON(t, f.handler, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when ready, got %d", rec.Code)
	}
	rec = doJSON(t, f.handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", rec.Code)
	}
}

func TestHTTPTransport_RequiresServices(t *testing.T) {
	t.Parallel()

	transport := NewHTTPTransport(":0", nil)
	if _, err := transport.Handler(); err == nil {
		t.Fatalf("expected error before services are registered")
	}
	if err := transport.ServeAdmission(nil); err == nil {
		t.Fatalf("expected error for nil admission service")
	}
	if err := transport.ServeAdmin(nil); err == nil {
		t.Fatalf("expected error for nil admin service")
	}
}
