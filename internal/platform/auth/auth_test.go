package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func runWithAuth(t *testing.T, mw echo.MiddlewareFunc, header string) (Principal, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var got Principal
	err := mw(func(c echo.Context) error {
		got, _ = PrincipalFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})(c)
	return got, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runWithAuth(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		_, err := runWithAuth(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), header)
		expectStatus(t, err, http.StatusUnauthorized)
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "admissions-test"}
	id := uuid.New()
	now := time.Now()
	token, err := cfg.IssueToken(Principal{ID: id, Name: "Dr. Aye", Roles: []string{RoleDoctor}}, "main", time.Hour, now)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	p, err := runWithAuth(t, JWTMiddleware(cfg), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != id || p.Name != "Dr. Aye" || !p.HasRole(RoleDoctor) {
		t.Errorf("unexpected principal: %+v", p)
	}
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	issuer := JWTConfig{SigningKey: []byte("another-key")}
	token, _ := issuer.IssueToken(Principal{ID: uuid.New()}, "", time.Hour, time.Now())

	_, err := runWithAuth(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Expired(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey}
	token, _ := cfg.IssueToken(Principal{ID: uuid.New()}, "", time.Minute, time.Now().Add(-time.Hour))

	_, err := runWithAuth(t, JWTMiddleware(cfg), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_NonUUIDSubject(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "dev-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = runWithAuth(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RejectsHMACWithoutKey(t *testing.T) {
	token, _ := JWTConfig{SigningKey: testSigningKey}.IssueToken(Principal{ID: uuid.New()}, "", time.Hour, time.Now())
	_, err := runWithAuth(t, JWTMiddleware(JWTConfig{}), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Dev-Roles", "doctor,nurse")
	req.Header.Set("X-Dev-Name", "Dr. Dev")
	c := e.NewContext(req, httptest.NewRecorder())

	var p Principal
	err := DevAuthMiddleware()(func(c echo.Context) error {
		p, _ = PrincipalFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != DevUserID {
		t.Errorf("expected dev user id, got %s", p.ID)
	}
	if !p.HasRole(RoleDoctor) || !p.HasRole(RoleNurse) || p.HasRole(RoleAdmin) {
		t.Errorf("unexpected roles: %v", p.Roles)
	}
	if p.Name != "Dr. Dev" {
		t.Errorf("expected Dr. Dev, got %s", p.Name)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  int
	}{
		{"matching role", []string{RoleDoctor}, http.StatusOK},
		{"admin override", []string{RoleAdmin}, http.StatusOK},
		{"wrong role", []string{RoleClerk}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithPrincipal(req.Context(), Principal{ID: uuid.New(), Roles: tt.roles}))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole(RoleDoctor, RoleNurse)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})(c)
			if tt.want == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			expectStatus(t, err, tt.want)
		})
	}
}

func TestRequireRole_Unauthenticated(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	err := RequireRole(RoleDoctor)(func(c echo.Context) error { return nil })(c)
	expectStatus(t, err, http.StatusUnauthorized)
}
