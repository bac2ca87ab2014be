package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var testSecret = []byte("test-secret")

func signed(t *testing.T, claims jwt.MapClaims, secret []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestRequireAuth(t *testing.T) {
	id := uuid.New()
	var gotID uuid.UUID
	var gotAdmin bool
	h := NewAuthMiddleware(testSecret).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = UserIDFrom(r.Context())
		gotAdmin = IsAdmin(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	exp := time.Now().Add(time.Hour).Unix()
	cases := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"valid", "Bearer " + signed(t, jwt.MapClaims{"sub": id.String(), "exp": exp}, testSecret), "", http.StatusNoContent},
		{"query fallback", "", signed(t, jwt.MapClaims{"sub": id.String(), "exp": exp}, testSecret), http.StatusNoContent},
		{"wrong secret", "Bearer " + signed(t, jwt.MapClaims{"sub": id.String(), "exp": exp}, []byte("other")), "", http.StatusUnauthorized},
		{"numeric sub", "Bearer " + signed(t, jwt.MapClaims{"sub": 42, "exp": exp}, testSecret), "", http.StatusUnauthorized},
		{"expired", "Bearer " + signed(t, jwt.MapClaims{"sub": id.String(), "exp": time.Now().Add(-time.Hour).Unix()}, testSecret), "", http.StatusUnauthorized},
	}
	for _, c := range cases {
		gotID = uuid.Nil
		req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		if c.query != "" {
			q := req.URL.Query()
			q.Set("access_token", c.query)
			req.URL.RawQuery = q.Encode()
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != c.status {
			t.Fatalf("%s: status want=%d got=%d", c.name, c.status, rr.Code)
		}
		if c.status == http.StatusNoContent && gotID != id {
			t.Fatalf("%s: user id want=%s got=%s", c.name, id, gotID)
		}
	}
	if gotAdmin {
		t.Fatalf("token without role claim should not be admin")
	}
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/settings/overview", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(WithUser(req.Context(), uuid.New(), "")))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin: want=403 got=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(WithUser(req.Context(), uuid.New(), RoleAdmin)))
	if rr.Code != http.StatusOK {
		t.Fatalf("admin: want=200 got=%d", rr.Code)
	}
}
