package services

import (
	"fmt"
	"strings"

	"github.com/storefront/api/internal/platform/auth"
)

// AccessPolicy answers role and ownership questions about the calling principal. Admins pass every
// role check; staff and customer checks are not nested otherwise.
type AccessPolicy struct {
	identity *auth.Identity
}

// NewAccessPolicy wraps identity. A nil identity is treated as anonymous.
func NewAccessPolicy(identity *auth.Identity) AccessPolicy {
	return AccessPolicy{identity: identity}
}

// SubjectID returns the principal's uid, or empty when anonymous.
func (p AccessPolicy) SubjectID() string {
	if p.identity == nil {
		return ""
	}
	return strings.TrimSpace(p.identity.UID)
}

func (p AccessPolicy) IsAdmin() bool {
	return p.SubjectID() != "" && p.identity.HasRole(auth.RoleAdmin)
}

func (p AccessPolicy) IsStaff() bool {
	return p.SubjectID() != "" && p.identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin)
}

func (p AccessPolicy) IsCustomer() bool {
	return p.SubjectID() != "" && p.identity.HasAnyRole(auth.RoleCustomer, auth.RoleAdmin)
}

// Authenticated fails with ErrUnauthenticated for anonymous principals.
func (p AccessPolicy) Authenticated() error {
	if p.SubjectID() == "" {
		return ErrUnauthenticated
	}
	return nil
}

// RequireOwnerOrAdmin passes when the principal is ownerID or holds the admin role.
func (p AccessPolicy) RequireOwnerOrAdmin(ownerID string) error {
	if err := p.Authenticated(); err != nil {
		return err
	}
	if p.IsAdmin() {
		return nil
	}
	if owner := strings.TrimSpace(ownerID); owner != "" && owner == p.SubjectID() {
		return nil
	}
	return fmt.Errorf("%w: resource belongs to another principal", ErrForbidden)
}

func (p AccessPolicy) RequireAdmin() error {
	return p.require(p.IsAdmin(), auth.RoleAdmin)
}

func (p AccessPolicy) RequireStaff() error {
	return p.require(p.IsStaff(), auth.RoleStaff)
}

func (p AccessPolicy) RequireCustomer() error {
	return p.require(p.IsCustomer(), auth.RoleCustomer)
}

func (p AccessPolicy) require(ok bool, role string) error {
	if err := p.Authenticated(); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s role required", ErrForbidden, role)
	}
	return nil
}
