package rbac

import (
	"errors"

	"qrtrust/internal/domain"
)

const (
	DefaultAdminRole  = "qrtrust_admin"
	DefaultAdminScope = "admin:*"

	PermissionIssue     = "products:issue"
	PermissionReadToken = "products:read"
	PermissionReadScans = "scans:read"
)

type AuthzError struct {
	Code string
	Err  error
}

func (e *AuthzError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code
}

func (e *AuthzError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Authorizer checks issuer API permissions against token scopes. The admin
// role or admin scope grants everything.
type Authorizer struct {
	adminRole  string
	adminScope string
}

func NewAuthorizer() *Authorizer {
	return &Authorizer{
		adminRole:  DefaultAdminRole,
		adminScope: DefaultAdminScope,
	}
}

func (a *Authorizer) Require(principal domain.Principal, permission string) error {
	if principal.Subject == "" {
		return domain.ErrUnauthorized
	}
	if permission == "" {
		return nil
	}
	if a.hasAdmin(principal) {
		return nil
	}
	if !hasScope(principal, permission) {
		return &AuthzError{Code: "MISSING_SCOPE", Err: domain.ErrForbidden}
	}
	return nil
}

func (a *Authorizer) hasAdmin(principal domain.Principal) bool {
	for _, r := range principal.Roles {
		if r == a.adminRole {
			return true
		}
	}
	return hasScope(principal, a.adminScope)
}

func hasScope(principal domain.Principal, scope string) bool {
	for _, s := range principal.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func IsAuthzError(err error) (*AuthzError, bool) {
	var authz *AuthzError
	if errors.As(err, &authz) {
		return authz, true
	}
	return nil, false
}
