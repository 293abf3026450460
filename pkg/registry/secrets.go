package registry

import (
	"sync"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/secrets"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// SecretStore holds environment secrets. Values are encrypted on write and
// never returned in plaintext; Reveal exists for in-process consumers only.
type SecretStore struct {
	mu      sync.RWMutex
	clk     clock.Clock
	cipher  *secrets.Cipher
	records map[string]*types.EnvironmentSecret
	byName  map[string]map[string]string // ownerID -> name -> id
}

// NewSecretStore builds a store encrypting with cipher.
func NewSecretStore(clk clock.Clock, cipher *secrets.Cipher) *SecretStore {
	return &SecretStore{
		clk:     clk,
		cipher:  cipher,
		records: make(map[string]*types.EnvironmentSecret),
		byName:  make(map[string]map[string]string),
	}
}

// Set encrypts plaintext and stores it under (owner, name). Writes without a
// cipher are rejected: the core never persists plaintext.
func (s *SecretStore) Set(ownerID, name, plaintext string) (*types.EnvironmentSecret, error) {
	if s.cipher == nil {
		return nil, types.NewError(types.ErrInternal, "secret store has no cipher configured")
	}
	if ownerID == "" || name == "" {
		return nil, types.NewError(types.ErrBadInput, "secret owner and name are required")
	}

	encrypted, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, err, "failed to encrypt secret %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.byName[ownerID]
	if owned == nil {
		owned = make(map[string]string)
		s.byName[ownerID] = owned
	}

	id, exists := owned[name]
	if !exists {
		id = clock.NewID()
		owned[name] = id
	}

	record := &types.EnvironmentSecret{
		ID:        id,
		OwnerID:   ownerID,
		Name:      name,
		Value:     encrypted,
		CreatedAt: s.clk.Now(),
	}
	s.records[id] = record

	// Returned copy carries no value at all.
	out := *record
	out.Value = ""
	return &out, nil
}

// Names lists the secret names an owner holds.
func (s *SecretStore) Names(ownerID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name := range s.byName[ownerID] {
		names = append(names, name)
	}
	return names
}

// Reveal decrypts a secret for in-process use (worker environment assembly).
func (s *SecretStore) Reveal(ownerID, name string) (string, error) {
	s.mu.RLock()
	id, ok := s.byName[ownerID][name]
	var record *types.EnvironmentSecret
	if ok {
		record = s.records[id]
	}
	s.mu.RUnlock()

	if record == nil {
		return "", types.NewError(types.ErrNotFound, "secret %q not found", name)
	}
	plaintext, err := s.cipher.Decrypt(record.Value)
	if err != nil {
		return "", types.WrapError(types.ErrInternal, err, "failed to decrypt secret %q", name)
	}
	return plaintext, nil
}

// Delete removes a secret.
func (s *SecretStore) Delete(ownerID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[ownerID][name]
	if !ok {
		return types.NewError(types.ErrNotFound, "secret %q not found", name)
	}
	delete(s.records, id)
	delete(s.byName[ownerID], name)
	return nil
}
