// Package auth maps API keys to platform account addresses.
//
// Every escrow operation is attributed to a party (buyer, seller, arbiter, or
// owner) by address. Callers register an address once and receive a secret
// key; presenting the key on later requests authenticates them as that
// address. Read endpoints stay open, mutations require a key.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Kaydot97/DecentralizedEscrow/internal/idgen"
)

var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid or expired API key")
	ErrKeyNotFound   = errors.New("API key not found")
)

// keyPrefix marks raw escrow platform keys. The prefix lets clients and log
// scrubbers recognize a secret without consulting the server.
const keyPrefix = "esk_"

// APIKey is the stored metadata for an issued key. The raw secret is never
// persisted, only its SHA-256 hash.
type APIKey struct {
	ID          string     `json:"id"`
	Hash        string     `json:"-"`
	AccountAddr string     `json:"accountAddr"`
	Name        string     `json:"name"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastUsed    time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Revoked     bool       `json:"revoked"`
}

// Store persists API keys.
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	GetByAccount(ctx context.Context, addr string) ([]*APIKey, error)
	Update(ctx context.Context, key *APIKey) error
}

// Manager issues and validates API keys.
type Manager struct {
	store Store
}

// NewManager creates a new auth manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// IssueKey creates a new API key bound to an account address.
// The raw key is returned once and cannot be recovered afterwards.
// A zero ttl issues a non-expiring key.
func (m *Manager) IssueKey(ctx context.Context, accountAddr, name string, ttl time.Duration) (rawKey string, key *APIKey, err error) {
	rawKey = keyPrefix + idgen.Hex(32)

	key = &APIKey{
		ID:          idgen.WithPrefix("key_"),
		Hash:        hashKey(rawKey),
		AccountAddr: strings.ToLower(accountAddr),
		Name:        name,
		CreatedAt:   time.Now(),
	}
	if ttl > 0 {
		exp := key.CreatedAt.Add(ttl)
		key.ExpiresAt = &exp
	}

	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return rawKey, key, nil
}

// ValidateKey checks a raw key and returns its metadata.
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}

	rawKey = strings.TrimPrefix(rawKey, "Bearer ")
	rawKey = strings.TrimSpace(rawKey)

	if !strings.HasPrefix(rawKey, keyPrefix) {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}

	if key.Revoked {
		return nil, ErrInvalidAPIKey
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrInvalidAPIKey
	}

	// Record usage off the request path; staleness here is harmless.
	go func() {
		key.LastUsed = time.Now()
		_ = m.store.Update(context.Background(), key)
	}()

	return key, nil
}

// ListKeys returns all keys issued for an account.
func (m *Manager) ListKeys(ctx context.Context, accountAddr string) ([]*APIKey, error) {
	return m.store.GetByAccount(ctx, strings.ToLower(accountAddr))
}

// RevokeKey revokes a key by ID. Only keys belonging to accountAddr are
// considered, so a caller cannot revoke another account's key.
func (m *Manager) RevokeKey(ctx context.Context, keyID, accountAddr string) error {
	keys, err := m.store.GetByAccount(ctx, strings.ToLower(accountAddr))
	if err != nil {
		return err
	}

	for _, k := range keys {
		if k.ID == keyID {
			k.Revoked = true
			return m.store.Update(ctx, k)
		}
	}
	return ErrKeyNotFound
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory key store for demo/development mode.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey // by ID
}

// NewMemoryStore creates a new in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*APIKey)}
}

func (s *MemoryStore) Create(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) GetByAccount(ctx context.Context, addr string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*APIKey
	for _, k := range s.keys {
		if k.AccountAddr == addr {
			cp := *k
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) Update(ctx context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; !ok {
		return ErrKeyNotFound
	}
	cp := *key
	s.keys[cp.ID] = &cp
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
