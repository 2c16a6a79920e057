// Package tenant holds the operator-on-behalf authorization check. The
// export pipeline consumes tenant identity, it never resolves it; this is
// the one gate deciding whether an elevated caller may name a tenant
// explicitly.
package tenant

import (
	"fmt"

	"github.com/google/uuid"
)

// Authorizer decides whether a platform operator may act on behalf of a
// tenant. Implementations must fail closed.
type Authorizer interface {
	CanActFor(operatorID string, tenantID uuid.UUID) bool
}

// StaticAuthorizer is a config-backed grants table.
type StaticAuthorizer struct {
	grants map[string]map[uuid.UUID]struct{}
}

// NewStaticAuthorizer builds the table from operator id -> tenant id
// strings. Unparseable tenant ids are configuration errors, not silent
// denials, so they are reported at startup.
func NewStaticAuthorizer(grants map[string][]string) (*StaticAuthorizer, error) {
	table := make(map[string]map[uuid.UUID]struct{}, len(grants))
	for operatorID, tenants := range grants {
		set := make(map[uuid.UUID]struct{}, len(tenants))
		for _, raw := range tenants {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("operator %s: tenant %q: %w", operatorID, raw, err)
			}
			set[id] = struct{}{}
		}
		table[operatorID] = set
	}
	return &StaticAuthorizer{grants: table}, nil
}

func (a *StaticAuthorizer) CanActFor(operatorID string, tenantID uuid.UUID) bool {
	set, ok := a.grants[operatorID]
	if !ok {
		return false
	}
	_, ok = set[tenantID]
	return ok
}
