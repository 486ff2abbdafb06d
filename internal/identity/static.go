package identity

import (
	"context"
	"strconv"
	"sync"
)

// Static is an in-memory resolver for tests and single-box runs.
type Static struct {
	mu    sync.RWMutex
	users map[string]Identity // tenantID|name -> identity
}

func NewStatic() *Static {
	return &Static{users: make(map[string]Identity)}
}

func (s *Static) Add(id Identity) {
	id.Name = NormalizeName(id.Name)
	s.mu.Lock()
	s.users[staticKey(id.TenantID, id.Name)] = id
	s.mu.Unlock()
}

func (s *Static) ResolveName(_ context.Context, tenantID int64, name string) (Identity, bool, error) {
	s.mu.RLock()
	id, ok := s.users[staticKey(tenantID, NormalizeName(name))]
	s.mu.RUnlock()
	return id, ok, nil
}

func staticKey(tenantID int64, name string) string {
	return strconv.FormatInt(tenantID, 10) + "|" + name
}
