package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crlink-unfurler/internal/store"
)

type installKey struct {
	team       string
	enterprise string
}

// InstallationStore implements store.InstallationRepository in memory.
type InstallationStore struct {
	mu   sync.RWMutex
	rows map[installKey]store.Installation
}

// NewInstallationStore creates an empty store.
func NewInstallationStore() *InstallationStore {
	return &InstallationStore{rows: make(map[installKey]store.Installation)}
}

// GetInstallation returns store.ErrNotFound when no row matches.
func (s *InstallationStore) GetInstallation(_ context.Context, teamID, enterpriseID string) (store.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.rows[installKey{teamID, enterpriseID}]
	if !ok {
		return store.Installation{}, store.ErrNotFound
	}
	return inst, nil
}

// StoreInstallation inserts or replaces the row.
func (s *InstallationStore) StoreInstallation(_ context.Context, inst store.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[installKey{inst.TeamID, inst.EnterpriseID}] = inst
	return nil
}
