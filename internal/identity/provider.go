package identity

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// NeighborIDKey is the fixed storage key of the neighbor token.
	NeighborIDKey = "neighborId"

	opGetOrCreate = "identity.get_or_create_neighbor_id"
)

var noOpLogger = zap.NewNop()

type ProviderConfig struct {
	Storage Storage
	// Generator returns a fresh token. Defaults to a random UUID.
	Generator func() (string, error)
	Logger    *zap.Logger
}

// Provider hands out the persistent anonymous neighbor id for one client.
type Provider struct {
	storage   Storage
	generator func() (string, error)
	logger    *zap.Logger

	mu     sync.Mutex
	cached string
}

func NewProvider(cfg ProviderConfig) *Provider {
	generator := cfg.Generator
	if generator == nil {
		generator = newToken
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Provider{storage: cfg.Storage, generator: generator, logger: logger}
}

// GetOrCreateNeighborID returns the stored neighbor id, creating and persisting one on first use.
// It returns "" when storage cannot be used; that call's token is never persisted and the
// next call tries again.
func (p *Provider) GetOrCreateNeighborID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != "" {
		return p.cached
	}
	if p.storage == nil {
		return ""
	}

	stored, err := p.storage.Load(NeighborIDKey)
	if err != nil {
		p.warn("load_failed", err)
		return ""
	}
	if stored = strings.TrimSpace(stored); stored != "" {
		p.cached = stored
		return stored
	}

	token, err := p.generator()
	if err != nil || strings.TrimSpace(token) == "" {
		p.warn("generate_failed", err)
		return ""
	}
	if err := p.storage.Store(NeighborIDKey, token); err != nil {
		p.warn("store_failed", err)
		return ""
	}
	p.cached = token
	return token
}

func (p *Provider) warn(reason string, err error) {
	p.logger.Warn("neighbor id unavailable",
		zap.String("operation", opGetOrCreate),
		zap.String("reason", reason),
		zap.Error(err))
}

func newToken() (string, error) {
	token, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return token.String(), nil
}
