package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(roles ...string) context.Context {
	return context.WithValue(context.Background(), UserRolesKey, roles)
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		name  string
		has   []string
		want  []string
		allow bool
	}{
		{"exact match", []string{RoleStaff}, []string{RoleStaff}, true},
		{"one of many", []string{RoleDoctor}, []string{RoleStaff, RoleDoctor}, true},
		{"admin holds all", []string{RoleAdmin}, []string{RoleStaff}, true},
		{"missing", []string{RolePatient}, []string{RoleStaff}, false},
		{"no roles", nil, []string{RolePatient}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasRole(contextWithRoles(tt.has...), tt.want...); got != tt.allow {
				t.Errorf("HasRole(%v, %v) = %v, want %v", tt.has, tt.want, got, tt.allow)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(contextWithRoles(RoleStaff))
	rec := httptest.NewRecorder()
	if err := RequireRole(RoleStaff)(okHandler)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("expected staff to pass, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil).WithContext(contextWithRoles(RolePatient))
	rec = httptest.NewRecorder()
	err := RequireRole(RoleStaff, RoleDoctor)(okHandler)(e.NewContext(req, rec))
	assertStatus(t, err, http.StatusForbidden)
}
