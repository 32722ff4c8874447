package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

func TestExtractFacilityID_Priority(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Facility-ID", "header")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if fid := extractFacilityID(c, "default"); fid != "header" {
		t.Errorf("expected header, got %s", fid)
	}

	c.Set("jwt_facility_id", "jwt")
	if fid := extractFacilityID(c, "default"); fid != "jwt" {
		t.Errorf("expected jwt to win over header, got %s", fid)
	}
}

func TestExtractFacilityID_Default(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.Set("jwt_facility_id", "")

	if fid := extractFacilityID(c, "main"); fid != "main" {
		t.Errorf("expected main, got %s", fid)
	}
}

func TestFacilityIDPattern(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"main", true},
		{"ward_7", true},
		{"A1", true},
		{"", false},
		{"a-b", false},
		{"a b", false},
		{"x;DROP TABLE admission", false},
	}
	for _, tt := range tests {
		if got := facilityIDPattern.MatchString(tt.input); got != tt.valid {
			t.Errorf("facilityIDPattern.MatchString(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestCreateFacilitySchema_InvalidID(t *testing.T) {
	if err := CreateFacilitySchema(context.Background(), nil, "bad-id", nil); err == nil {
		t.Error("expected error for invalid facility ID")
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx")
	}
	if FacilityFromContext(ctx) != "" {
		t.Error("expected empty facility")
	}

	ctx = context.WithValue(ctx, DBTxKey, "not-a-tx")
	if TxFromContext(ctx) != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

type fakeTx struct{ pgx.Tx }

func TestInTx_ReusesExistingTx(t *testing.T) {
	// A nil pool proves no new transaction is opened.
	m := NewTxManager(nil)
	ctx := ContextWithTx(context.Background(), fakeTx{})

	called := false
	err := m.InTx(ctx, func(ctx context.Context) error {
		called = true
		if TxFromContext(ctx) == nil {
			t.Error("expected tx in nested context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected closure to run")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "40001"}, true},
		{fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), true},
		{&pgconn.PgError{Code: "23505"}, false},
		{errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "admission_number_key"})
	if !IsUniqueViolation(err, "admission_number_key") {
		t.Error("expected named constraint to match")
	}
	if !IsUniqueViolation(err, "") {
		t.Error("expected empty constraint to match any unique violation")
	}
	if IsUniqueViolation(err, "patient_national_id_key") {
		t.Error("expected other constraint not to match")
	}
}

func TestLoadMigrations_Ordering(t *testing.T) {
	fsys := fstest.MapFS{
		"010_late.sql":  {Data: []byte("SELECT 10;")},
		"001_core.sql":  {Data: []byte("SELECT 1;")},
		"002_next.sql":  {Data: []byte("SELECT 2;")},
		"readme.sql":    {Data: []byte("-- no prefix")},
		"notes.txt":     {Data: []byte("ignored")},
		"abc_bad.sql":   {Data: []byte("-- non-numeric")},
		"sub/003_x.sql": {Data: []byte("SELECT 3;")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	want := []int{1, 2, 10}
	if len(migrations) != len(want) {
		t.Fatalf("expected %d migrations, got %d", len(want), len(migrations))
	}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := NewMigrator(nil, fsys).LoadMigrations(); err == nil {
		t.Error("expected duplicate version error")
	}
}

func TestMigrationVersion(t *testing.T) {
	tests := []struct {
		name    string
		version int
		ok      bool
	}{
		{"001_core.sql", 1, true},
		{"042_add_index.sql", 42, true},
		{"000_zero.sql", 0, false},
		{"001_core.txt", 0, false},
		{"core.sql", 0, false},
		{"x1_core.sql", 0, false},
	}
	for _, tt := range tests {
		v, ok := migrationVersion(tt.name)
		if v != tt.version || ok != tt.ok {
			t.Errorf("migrationVersion(%q) = %d, %v; want %d, %v", tt.name, v, ok, tt.version, tt.ok)
		}
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	if err := HealthHandler(stubPinger{}, "memory")(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["status"] != "healthy" || body["store"] != "memory" {
		t.Errorf("unexpected body: %v", body)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	_ = HealthHandler(stubPinger{err: errors.New("down")}, "postgres")(c)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
