package services

import (
	"errors"
	"testing"

	"github.com/storefront/api/internal/platform/auth"
)

func TestAccessPolicyRoles(t *testing.T) {
	cases := []struct {
		name     string
		identity *auth.Identity
		admin    bool
		staff    bool
		customer bool
	}{
		{name: "anonymous"},
		{name: "no uid", identity: &auth.Identity{Roles: []string{auth.RoleAdmin}}},
		{name: "customer", identity: customer("c"), customer: true},
		{name: "staff", identity: staff("s"), staff: true},
		{name: "admin", identity: admin("a"), admin: true, staff: true, customer: true},
		{name: "mixed case", identity: &auth.Identity{UID: "x", Roles: []string{" Staff "}}, staff: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policy := NewAccessPolicy(tc.identity)
			if policy.IsAdmin() != tc.admin || policy.IsStaff() != tc.staff || policy.IsCustomer() != tc.customer {
				t.Fatalf("unexpected roles admin=%v staff=%v customer=%v", policy.IsAdmin(), policy.IsStaff(), policy.IsCustomer())
			}
		})
	}
}

func TestAccessPolicyRequireOwnerOrAdmin(t *testing.T) {
	if err := NewAccessPolicy(nil).RequireOwnerOrAdmin("c"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if err := NewAccessPolicy(customer("c")).RequireOwnerOrAdmin("c"); err != nil {
		t.Fatalf("expected owner to pass, got %v", err)
	}
	if err := NewAccessPolicy(customer("c")).RequireOwnerOrAdmin("d"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := NewAccessPolicy(customer("c")).RequireOwnerOrAdmin(""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected blank owner to be forbidden, got %v", err)
	}
	if err := NewAccessPolicy(admin("a")).RequireOwnerOrAdmin("d"); err != nil {
		t.Fatalf("expected admin to pass, got %v", err)
	}
}

func TestAccessPolicyRequireRole(t *testing.T) {
	if err := NewAccessPolicy(customer("c")).RequireStaff(); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := NewAccessPolicy(staff("s")).RequireAdmin(); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := NewAccessPolicy(nil).RequireCustomer(); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if err := NewAccessPolicy(admin("a")).RequireCustomer(); err != nil {
		t.Fatalf("expected admin to hold customer capability, got %v", err)
	}
}
