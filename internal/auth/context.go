package auth

import (
	"context"
	"strings"
)

type ctxKey string

const (
	principalKey ctxKey = "auth_principal"
	rolesKey     ctxKey = "auth_roles"
)

// ContextWithPrincipal stores the caller identity in the context.
func ContextWithPrincipal(ctx context.Context, principal string, roles []string) context.Context {
	ctx = context.WithValue(ctx, principalKey, strings.TrimSpace(principal))
	if len(roles) > 0 {
		ctx = context.WithValue(ctx, rolesKey, dedupeRoles(roles))
	}
	return ctx
}

// PrincipalFromContext extracts the authenticated principal from context.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(principalKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// RolesFromContext returns the roles stored in context (deduplicated and lower-cased).
func RolesFromContext(ctx context.Context) []string {
	v, ok := ctx.Value(rolesKey).([]string)
	if !ok || len(v) == 0 {
		return nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out
}

// HasRole checks whether the context carries the specified role.
func HasRole(ctx context.Context, role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range RolesFromContext(ctx) {
		if r == role {
			return true
		}
	}
	return false
}
