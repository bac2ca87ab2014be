package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	mw "ochsettings/internal/middleware"
	"ochsettings/internal/models"
	"ochsettings/internal/realtime"
	"ochsettings/internal/settings"
	"ochsettings/internal/trigger"
)

type fakeService struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*models.UserSettings
	ents     map[uuid.UUID]*models.UserEntitlements
	has      bool
	err      error
	lastHint *bool
}

func newFakeService() *fakeService {
	return &fakeService{rows: map[uuid.UUID]*models.UserSettings{}, ents: map[uuid.UUID]*models.UserEntitlements{}}
}

func (f *fakeService) GetUserSettings(_ context.Context, id uuid.UUID) (*models.UserSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	st, ok := f.rows[id]
	if !ok {
		st = models.DefaultUserSettings(id, time.Now())
		f.rows[id] = st
	}
	return st, nil
}

func (f *fakeService) UpdateUserSettings(_ context.Context, id uuid.UUID, u models.SettingsUpdate, hint *bool) (*models.UserSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.lastHint = hint
	st, ok := f.rows[id]
	if !ok {
		return nil, settings.ErrNotFound
	}
	merged := u.ApplyTo(*st, time.Now())
	has := f.has
	if hint != nil {
		has = *hint
	}
	merged.ProfileCompleteness = settings.CalculateCompleteness(&merged, has)
	f.rows[id] = &merged
	return &merged, nil
}

func (f *fakeService) GetUserEntitlements(_ context.Context, id uuid.UUID) (*models.UserEntitlements, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ents[id], nil
}

func (f *fakeService) HasPortfolioItems(_ context.Context, _ uuid.UUID) (bool, error) {
	return f.has, nil
}

type fakeNotifier struct {
	triggered chan models.SettingsUpdate
	snapshots int
}

func (n *fakeNotifier) Trigger(_ context.Context, _ uuid.UUID, u models.SettingsUpdate) trigger.UpdateType {
	n.triggered <- u
	return trigger.ClassifyUpdate(u.Changes())
}

func (n *fakeNotifier) PublishSnapshot(_ context.Context, _ *models.UserSettings) error {
	n.snapshots++
	return nil
}

func asUser(id uuid.UUID, role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(mw.WithUser(r.Context(), id, role)))
	})
}

func newTestRouter(svc *fakeService, n *fakeNotifier, id uuid.UUID) http.Handler {
	h := NewSettingsHandler(svc, n, zap.NewNop())
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return asUser(id, "", next) })
	r.Get("/api/settings", h.Get)
	r.Patch("/api/settings", h.Update)
	r.Get("/api/settings/entitlements", h.Entitlements)
	r.Get("/api/settings/completeness", h.Completeness)
	r.Get("/api/settings/features", h.Features)
	r.Get("/api/settings/features/{feature}", h.Feature)
	r.Get("/api/settings/recommendations", h.Recommendations)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestGetSettingsReturnsDefaults(t *testing.T) {
	id := uuid.New()
	router := newTestRouter(newFakeService(), &fakeNotifier{}, id)

	rr := do(t, router, http.MethodGet, "/api/settings", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", rr.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["portfolioVisibility"] != "private" || got["aiCoachStyle"] != "motivational" {
		t.Fatalf("unexpected defaults %v", got)
	}
	if _, ok := got["portfolio_visibility"]; ok {
		t.Fatalf("storage names leaked into the response")
	}
}

func TestUpdateSettingsTriggersSideEffects(t *testing.T) {
	id := uuid.New()
	svc := newFakeService()
	n := &fakeNotifier{triggered: make(chan models.SettingsUpdate, 1)}
	svc.has = true
	router := newTestRouter(svc, n, id)
	do(t, router, http.MethodGet, "/api/settings", "")

	rr := do(t, router, http.MethodPatch, "/api/settings", `{"avatarUploaded":true,"bioCompleted":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", rr.Code, rr.Body.String())
	}
	var got models.UserSettings
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ProfileCompleteness != 45 {
		t.Fatalf("completeness: want=45 got=%d", got.ProfileCompleteness)
	}
	if svc.lastHint != nil {
		t.Fatalf("portfolio state must come from storage, got hint %v", *svc.lastHint)
	}
	if n.snapshots != 1 {
		t.Fatalf("snapshots: want=1 got=%d", n.snapshots)
	}
	select {
	case u := <-n.triggered:
		if u.AvatarUploaded == nil || !*u.AvatarUploaded {
			t.Fatalf("trigger received wrong update %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatalf("dispatcher was not triggered")
	}
}

func TestUpdateSettingsStatusMapping(t *testing.T) {
	id := uuid.New()
	svc := newFakeService()
	router := newTestRouter(svc, &fakeNotifier{triggered: make(chan models.SettingsUpdate, 1)}, id)

	cases := []struct {
		name   string
		body   string
		path   string
		status int
	}{
		{"no row yet", `{"name":"A"}`, "/api/settings", http.StatusNotFound},
		{"unknown field", `{"profileCompleteness":100}`, "/api/settings", http.StatusBadRequest},
		{"bad enum", `{"aiCoachStyle":"gentle"}`, "/api/settings", http.StatusBadRequest},
	}
	for _, c := range cases {
		if rr := do(t, router, http.MethodPatch, c.path, c.body); rr.Code != c.status {
			t.Fatalf("%s: want=%d got=%d", c.name, c.status, rr.Code)
		}
	}

	svc.err = settings.ErrStoreUnavailable
	if rr := do(t, router, http.MethodGet, "/api/settings", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("store unavailable: want=503 got=%d", rr.Code)
	}
	svc.err = errors.New("boom")
	if rr := do(t, router, http.MethodGet, "/api/settings", ""); rr.Code != http.StatusInternalServerError {
		t.Fatalf("generic error: want=500 got=%d", rr.Code)
	}
}

func TestUpdateSettingsIgnoresPortfolioQueryParam(t *testing.T) {
	id := uuid.New()
	svc := newFakeService()
	router := newTestRouter(svc, &fakeNotifier{triggered: make(chan models.SettingsUpdate, 1)}, id)
	do(t, router, http.MethodGet, "/api/settings", "")

	rr := do(t, router, http.MethodPatch, "/api/settings?hasPortfolioItems=true", `{"languagePreference":"sw"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", rr.Code)
	}
	var got models.UserSettings
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if svc.lastHint != nil {
		t.Fatalf("query parameter reached the service as hint %v", *svc.lastHint)
	}
	if got.ProfileCompleteness != 0 {
		t.Fatalf("completeness: want=0 got=%d", got.ProfileCompleteness)
	}
}

func TestUpdateSettingsRejectsOversizedBody(t *testing.T) {
	id := uuid.New()
	svc := newFakeService()
	router := newTestRouter(svc, &fakeNotifier{triggered: make(chan models.SettingsUpdate, 1)}, id)
	do(t, router, http.MethodGet, "/api/settings", "")

	var b strings.Builder
	b.WriteString(`{"activeSessions":[`)
	for i := 0; i < 2000; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(`{"id":"` + uuid.NewString() + `","device":"Firefox on Linux"}`)
	}
	b.WriteString(`]}`)

	rr := do(t, router, http.MethodPatch, "/api/settings", b.String())
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status: want=413 got=%d", rr.Code)
	}
	if len(svc.rows[id].ActiveSessions.V) != 0 {
		t.Fatalf("oversized update should not be stored")
	}
}

func TestEntitlementsNullWhenAbsent(t *testing.T) {
	router := newTestRouter(newFakeService(), &fakeNotifier{}, uuid.New())
	rr := do(t, router, http.MethodGet, "/api/settings/entitlements", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "null" {
		t.Fatalf("want 200 null, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestCompletenessEndpoint(t *testing.T) {
	svc := newFakeService()
	svc.has = true
	router := newTestRouter(svc, &fakeNotifier{}, uuid.New())

	rr := do(t, router, http.MethodGet, "/api/settings/completeness", "")
	var got CompletenessDTO
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Score != 10 {
		t.Fatalf("score: want=10 got=%d", got.Score)
	}
	for _, s := range got.NextSteps {
		if s.Field == "portfolioItems" {
			t.Fatalf("portfolio step should be satisfied")
		}
	}
	if len(got.NextSteps) == 0 || got.NextSteps[0].Field != "avatarUploaded" {
		t.Fatalf("unexpected next steps %+v", got.NextSteps)
	}
}

func TestFeatureEndpoints(t *testing.T) {
	id := uuid.New()
	svc := newFakeService()
	svc.ents[id] = &models.UserEntitlements{UserID: id, Tier: models.TierProfessional, AICoachFullAccess: true}
	router := newTestRouter(svc, &fakeNotifier{}, id)

	rr := do(t, router, http.MethodGet, "/api/settings/features", "")
	var all FeatureGatesDTO
	if err := json.Unmarshal(rr.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all.Features) != len(settings.Features) {
		t.Fatalf("gates: want=%d got=%d", len(settings.Features), len(all.Features))
	}

	rr = do(t, router, http.MethodGet, "/api/settings/features/ai_coach_full", "")
	var gate settings.FeatureGate
	if err := json.Unmarshal(rr.Body.Bytes(), &gate); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !gate.Enabled || gate.UpgradeRequired {
		t.Fatalf("ai_coach_full access flag should enable the gate: %+v", gate)
	}

	rr = do(t, router, http.MethodGet, "/api/settings/features/mentor_access", "")
	gate = settings.FeatureGate{}
	if err := json.Unmarshal(rr.Body.Bytes(), &gate); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gate.Enabled || gate.UpgradeRequired {
		t.Fatalf("professional tier without the mentor flag: want disabled, no upgrade, got %+v", gate)
	}

	rr = do(t, router, http.MethodGet, "/api/settings/features/teleport", "")
	gate = settings.FeatureGate{}
	if err := json.Unmarshal(rr.Body.Bytes(), &gate); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gate.Enabled || gate.Reason != "Unknown feature" {
		t.Fatalf("unknown feature: %+v", gate)
	}

	rr = do(t, router, http.MethodGet, "/api/settings/recommendations", "")
	var recs RecommendationsDTO
	if err := json.Unmarshal(rr.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if recs.Recommendations == nil {
		t.Fatalf("recommendations should encode as a list")
	}
}

type fakeRecomputer struct {
	score int
	err   error
	calls int
}

func (f *fakeRecomputer) RecomputeCompleteness(_ context.Context, _ uuid.UUID) (int, error) {
	f.calls++
	return f.score, f.err
}

func TestCoordinate(t *testing.T) {
	rec := &fakeRecomputer{score: 35}
	h := NewCoordinateHandler(rec, "s3cret", zap.NewNop())
	id := uuid.New()

	post := func(secret, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, trigger.CoordinatePath, strings.NewReader(body))
		if secret != "" {
			req.Header.Set(trigger.SecretHeader, secret)
		}
		rr := httptest.NewRecorder()
		h.Coordinate(rr, req)
		return rr
	}

	if rr := post("", `{}`); rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: want=401 got=%d", rr.Code)
	}
	if rr := post("s3cret", `{"userId":"`+id.String()+`","type":"teleport"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown type: want=400 got=%d", rr.Code)
	}
	if rr := post("s3cret", `{"type":"general"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing user: want=400 got=%d", rr.Code)
	}

	rr := post("s3cret", `{"userId":"`+id.String()+`","type":"privacy","changes":{"portfolio_visibility":"public"}}`)
	if rr.Code != http.StatusAccepted || rec.calls != 0 {
		t.Fatalf("privacy: want=202 without recompute, got %d calls=%d", rr.Code, rec.calls)
	}

	rr = post("s3cret", `{"userId":"`+id.String()+`","type":"profile_completeness","changes":{"avatar_uploaded":true}}`)
	if rr.Code != http.StatusAccepted || rec.calls != 1 {
		t.Fatalf("completeness: want=202 with recompute, got %d calls=%d", rr.Code, rec.calls)
	}
	var ack coordinateAck
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack.Score == nil || *ack.Score != 35 {
		t.Fatalf("ack score: %+v", ack)
	}

	rec.err = settings.ErrNotFound
	if rr := post("s3cret", `{"userId":"`+id.String()+`","type":"profile_completeness"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("recompute on missing row: want=404 got=%d", rr.Code)
	}
}

func TestCoordinateRefusesWithoutConfiguredSecret(t *testing.T) {
	rec := &fakeRecomputer{score: 35}
	h := NewCoordinateHandler(rec, "", zap.NewNop())
	body := `{"userId":"` + uuid.NewString() + `","type":"profile_completeness"}`

	for _, secret := range []string{"", "guess"} {
		req := httptest.NewRequest(http.MethodPost, trigger.CoordinatePath, strings.NewReader(body))
		if secret != "" {
			req.Header.Set(trigger.SecretHeader, secret)
		}
		rr := httptest.NewRecorder()
		h.Coordinate(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("secret %q: want=401 got=%d", secret, rr.Code)
		}
	}
	if rec.calls != 0 {
		t.Fatalf("recompute ran for an unauthenticated caller")
	}
}

type fakeOverview struct{ out *models.SettingsOverview }

func (f fakeOverview) Overview(context.Context) (*models.SettingsOverview, error) { return f.out, nil }

func TestAdminOverview(t *testing.T) {
	h := NewAdminHandler(fakeOverview{out: &models.SettingsOverview{TotalSettings: 3, TierCounts: map[string]int{"free": 3}}}, zap.NewNop())
	r := chi.NewRouter()
	r.With(mw.RequireAdmin).Get("/api/admin/settings/overview", h.Overview)

	rr := httptest.NewRecorder()
	asUser(uuid.New(), "", r).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/admin/settings/overview", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin: want=403 got=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	asUser(uuid.New(), mw.RoleAdmin, r).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/admin/settings/overview", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("admin: want=200 got=%d", rr.Code)
	}
	var got models.SettingsOverview
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalSettings != 3 || got.TierCounts["free"] != 3 {
		t.Fatalf("unexpected overview %+v", got)
	}
}

func TestStreamDeliversChanges(t *testing.T) {
	log := zap.NewNop()
	hub := realtime.NewHub(log)
	bus := realtime.NewLocalBus(log)
	ent := &models.UserEntitlements{Tier: models.TierStarter}
	svc := newFakeService()
	id := uuid.New()
	svc.ents[id] = ent
	p := realtime.NewPropagator(hub, bus, svc, log)

	srv := httptest.NewServer(asUser(id, "", http.HandlerFunc(NewStreamHandler(p, []string{"*"}, log).Stream)))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var ready StreamFrame
	if err := conn.ReadJSON(&ready); err != nil || ready.Type != frameReady {
		t.Fatalf("want ready frame, got %+v err=%v", ready, err)
	}

	msg, _ := realtime.NewMessage(realtime.EventSettingsChanged, realtime.ChangeEvent{UserID: id, Type: "privacy"})
	if err := bus.Publish(context.Background(), realtime.SettingsMasterChannel(id), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	var change StreamFrame
	if err := conn.ReadJSON(&change); err != nil {
		t.Fatalf("read: %v", err)
	}
	if change.Type != frameSettingsChange || change.Change == nil || change.Change.Source != "broadcast" {
		t.Fatalf("unexpected frame %+v", change)
	}

	hub.Dispatch(realtime.RowChange{Table: "user_entitlements", Op: "UPDATE", UserID: id})
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var f StreamFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Type != frameEntitlementsChange || f.Entitlements == nil || f.Entitlements.Tier != models.TierStarter {
		t.Fatalf("unexpected frame %+v", f)
	}
}
