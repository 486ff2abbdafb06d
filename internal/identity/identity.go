// Package identity resolves human-readable user names to tenant-scoped
// identities. The relay never creates identities; accounts are owned by the
// CRUD subsystem and only looked up here.
package identity

import (
	"context"
	"strings"
)

type Identity struct {
	ID       int64
	TenantID int64
	Name     string
}

// NormalizeName trims and lower-cases a user name. All name comparisons in
// the relay happen on normalized names.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

type Resolver interface {
	// ResolveName returns the identity for a normalized name within a tenant.
	// The second return is false when no such user exists.
	ResolveName(ctx context.Context, tenantID int64, name string) (Identity, bool, error)
}
