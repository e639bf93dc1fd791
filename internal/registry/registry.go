// Package registry maps provider roles and names to constructors and caches
// one live instance per (role, name). Providers are registered explicitly by
// the composition root; nothing registers itself via import side effects.
package registry

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragd/internal/config"
	"github.com/kailas-cloud/ragd/internal/domain"
)

// Role identifies a provider capability.
type Role string

// Provider roles.
const (
	RoleLLM         Role = "llm"
	RoleEmbeddings  Role = "embeddings"
	RoleVectorStore Role = "vectorstore"
	RoleRetrieval   Role = "retrieval"
	RoleChat        Role = "chat"
)

// Constructor signatures per role. Retrieval and chat constructors receive
// their dependencies already resolved.
type (
	LLMConstructor         func(ctx context.Context, cfg config.LLMConfig) (domain.LLMProvider, error)
	EmbeddingsConstructor  func(ctx context.Context, cfg config.EmbeddingsConfig) (domain.EmbeddingsService, error)
	VectorStoreConstructor func(ctx context.Context, cfg config.VectorStoreConfig) (domain.VectorStore, error)
	RetrievalConstructor   func(ctx context.Context, store domain.VectorStore,
		embeddings domain.EmbeddingsService, cfg config.RetrievalConfig) (domain.RetrievalStrategy, error)
	ChatConstructor func(ctx context.Context, llm domain.LLMProvider,
		retrieval domain.RetrievalStrategy, cfg config.ChatConfig) (domain.ChatService, error)
)

type instanceKey struct {
	role Role
	name string
}

// construction tracks an in-flight build so concurrent Get calls for the
// same key construct at most once.
type construction struct {
	done     chan struct{}
	instance any
	err      error
}

// Registry owns the constructor maps and the singleton cache. All access to
// the maps goes through mu; construction itself runs outside the lock so a
// slow provider build never blocks unrelated keys.
type Registry struct {
	cfg    config.Config
	logger *zap.Logger

	mu         sync.Mutex
	llms       map[string]LLMConstructor
	embedders  map[string]EmbeddingsConstructor
	stores     map[string]VectorStoreConstructor
	strategies map[string]RetrievalConstructor
	chats      map[string]ChatConstructor
	instances  map[instanceKey]any
	inflight   map[instanceKey]*construction
}

// New creates an empty registry bound to the given configuration.
func New(cfg config.Config, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:        cfg,
		logger:     logger,
		llms:       make(map[string]LLMConstructor),
		embedders:  make(map[string]EmbeddingsConstructor),
		stores:     make(map[string]VectorStoreConstructor),
		strategies: make(map[string]RetrievalConstructor),
		chats:      make(map[string]ChatConstructor),
		instances:  make(map[instanceKey]any),
		inflight:   make(map[instanceKey]*construction),
	}
}

// RegisterLLM registers an LLM provider constructor, overwriting any prior
// registration under the same name.
func (r *Registry) RegisterLLM(name string, c LLMConstructor) {
	r.mu.Lock()
	r.llms[name] = c
	r.mu.Unlock()
	r.logger.Info("registered provider", zap.String("role", string(RoleLLM)), zap.String("name", name))
}

// RegisterEmbeddings registers an embeddings service constructor.
func (r *Registry) RegisterEmbeddings(name string, c EmbeddingsConstructor) {
	r.mu.Lock()
	r.embedders[name] = c
	r.mu.Unlock()
	r.logger.Info("registered provider", zap.String("role", string(RoleEmbeddings)), zap.String("name", name))
}

// RegisterVectorStore registers a vector store constructor.
func (r *Registry) RegisterVectorStore(name string, c VectorStoreConstructor) {
	r.mu.Lock()
	r.stores[name] = c
	r.mu.Unlock()
	r.logger.Info("registered provider", zap.String("role", string(RoleVectorStore)), zap.String("name", name))
}

// RegisterRetrieval registers a retrieval strategy constructor.
func (r *Registry) RegisterRetrieval(name string, c RetrievalConstructor) {
	r.mu.Lock()
	r.strategies[name] = c
	r.mu.Unlock()
	r.logger.Info("registered provider", zap.String("role", string(RoleRetrieval)), zap.String("name", name))
}

// RegisterChat registers a chat service constructor.
func (r *Registry) RegisterChat(name string, c ChatConstructor) {
	r.mu.Lock()
	r.chats[name] = c
	r.mu.Unlock()
	r.logger.Info("registered provider", zap.String("role", string(RoleChat)), zap.String("name", name))
}

// CreateLLM builds a fresh LLM provider, bypassing the singleton cache.
// An empty name selects the configured default.
func (r *Registry) CreateLLM(ctx context.Context, name string) (domain.LLMProvider, error) {
	name = orDefault(name, r.cfg.LLM.Provider)
	r.mu.Lock()
	ctor, ok := r.llms[name]
	available := keysOf(r.llms)
	r.mu.Unlock()
	if !ok {
		return nil, domain.NewUnknownProvider(string(RoleLLM), name, available)
	}
	inst, err := ctor(ctx, r.cfg.LLM)
	if err != nil {
		return nil, constructionErr(RoleLLM, name, err)
	}
	r.logger.Info("created provider", zap.String("role", string(RoleLLM)), zap.String("name", name))
	return inst, nil
}

// CreateEmbeddings builds a fresh embeddings service, bypassing the cache.
func (r *Registry) CreateEmbeddings(ctx context.Context, name string) (domain.EmbeddingsService, error) {
	name = orDefault(name, r.cfg.Embeddings.Provider)
	r.mu.Lock()
	ctor, ok := r.embedders[name]
	available := keysOf(r.embedders)
	r.mu.Unlock()
	if !ok {
		return nil, domain.NewUnknownProvider(string(RoleEmbeddings), name, available)
	}
	inst, err := ctor(ctx, r.cfg.Embeddings)
	if err != nil {
		return nil, constructionErr(RoleEmbeddings, name, err)
	}
	r.logger.Info("created provider", zap.String("role", string(RoleEmbeddings)), zap.String("name", name))
	return inst, nil
}

// CreateVectorStore builds a fresh vector store, bypassing the cache.
func (r *Registry) CreateVectorStore(ctx context.Context, name string) (domain.VectorStore, error) {
	name = orDefault(name, r.cfg.VectorStore.Provider)
	r.mu.Lock()
	ctor, ok := r.stores[name]
	available := keysOf(r.stores)
	r.mu.Unlock()
	if !ok {
		return nil, domain.NewUnknownProvider(string(RoleVectorStore), name, available)
	}
	inst, err := ctor(ctx, r.cfg.VectorStore)
	if err != nil {
		return nil, constructionErr(RoleVectorStore, name, err)
	}
	r.logger.Info("created provider", zap.String("role", string(RoleVectorStore)), zap.String("name", name))
	return inst, nil
}

// CreateRetrieval builds a fresh retrieval strategy. Nil dependencies are
// resolved through the registry's own Get using the configured defaults.
func (r *Registry) CreateRetrieval(
	ctx context.Context,
	name string,
	store domain.VectorStore,
	embeddings domain.EmbeddingsService,
) (domain.RetrievalStrategy, error) {
	name = orDefault(name, r.cfg.Retrieval.Strategy)
	r.mu.Lock()
	ctor, ok := r.strategies[name]
	available := keysOf(r.strategies)
	r.mu.Unlock()
	if !ok {
		return nil, domain.NewUnknownProvider(string(RoleRetrieval), name, available)
	}

	var err error
	if store == nil {
		if store, err = r.GetVectorStore(ctx, ""); err != nil {
			return nil, fmt.Errorf("resolve vector store for %s %q: %w", RoleRetrieval, name, err)
		}
	}
	if embeddings == nil {
		if embeddings, err = r.GetEmbeddings(ctx, ""); err != nil {
			return nil, fmt.Errorf("resolve embeddings for %s %q: %w", RoleRetrieval, name, err)
		}
	}

	inst, err := ctor(ctx, store, embeddings, r.cfg.Retrieval)
	if err != nil {
		return nil, constructionErr(RoleRetrieval, name, err)
	}
	r.logger.Info("created provider", zap.String("role", string(RoleRetrieval)), zap.String("name", name))
	return inst, nil
}

// CreateChat builds a fresh chat service. Nil dependencies are resolved
// through the registry's own Get using the configured defaults.
func (r *Registry) CreateChat(
	ctx context.Context,
	name string,
	llm domain.LLMProvider,
	retrieval domain.RetrievalStrategy,
) (domain.ChatService, error) {
	name = orDefault(name, r.cfg.Chat.Service)
	r.mu.Lock()
	ctor, ok := r.chats[name]
	available := keysOf(r.chats)
	r.mu.Unlock()
	if !ok {
		return nil, domain.NewUnknownProvider(string(RoleChat), name, available)
	}

	var err error
	if llm == nil {
		if llm, err = r.GetLLM(ctx, ""); err != nil {
			return nil, fmt.Errorf("resolve llm for %s %q: %w", RoleChat, name, err)
		}
	}
	if retrieval == nil {
		if retrieval, err = r.GetRetrieval(ctx, ""); err != nil {
			return nil, fmt.Errorf("resolve retrieval for %s %q: %w", RoleChat, name, err)
		}
	}

	inst, err := ctor(ctx, llm, retrieval, r.cfg.Chat)
	if err != nil {
		return nil, constructionErr(RoleChat, name, err)
	}
	r.logger.Info("created provider", zap.String("role", string(RoleChat)), zap.String("name", name))
	return inst, nil
}

// GetLLM returns the cached LLM singleton, constructing it on first use.
func (r *Registry) GetLLM(ctx context.Context, name string) (domain.LLMProvider, error) {
	name = orDefault(name, r.cfg.LLM.Provider)
	return getInstance(ctx, r, RoleLLM, name, func(ctx context.Context) (domain.LLMProvider, error) {
		return r.CreateLLM(ctx, name)
	})
}

// GetEmbeddings returns the cached embeddings singleton.
func (r *Registry) GetEmbeddings(ctx context.Context, name string) (domain.EmbeddingsService, error) {
	name = orDefault(name, r.cfg.Embeddings.Provider)
	return getInstance(ctx, r, RoleEmbeddings, name, func(ctx context.Context) (domain.EmbeddingsService, error) {
		return r.CreateEmbeddings(ctx, name)
	})
}

// GetVectorStore returns the cached vector store singleton.
func (r *Registry) GetVectorStore(ctx context.Context, name string) (domain.VectorStore, error) {
	name = orDefault(name, r.cfg.VectorStore.Provider)
	return getInstance(ctx, r, RoleVectorStore, name, func(ctx context.Context) (domain.VectorStore, error) {
		return r.CreateVectorStore(ctx, name)
	})
}

// GetRetrieval returns the cached retrieval strategy singleton. Its vector
// store and embeddings dependencies are resolved via Get with the configured
// default names.
func (r *Registry) GetRetrieval(ctx context.Context, name string) (domain.RetrievalStrategy, error) {
	name = orDefault(name, r.cfg.Retrieval.Strategy)
	return getInstance(ctx, r, RoleRetrieval, name, func(ctx context.Context) (domain.RetrievalStrategy, error) {
		return r.CreateRetrieval(ctx, name, nil, nil)
	})
}

// GetChat returns the cached chat service singleton, transitively
// constructing its LLM and retrieval dependencies as needed.
func (r *Registry) GetChat(ctx context.Context, name string) (domain.ChatService, error) {
	name = orDefault(name, r.cfg.Chat.Service)
	return getInstance(ctx, r, RoleChat, name, func(ctx context.Context) (domain.ChatService, error) {
		return r.CreateChat(ctx, name, nil, nil)
	})
}

// Clear discards all cached singletons, closing any that hold external
// connections. Registrations survive; subsequent Get calls rebuild. Used at
// shutdown and test teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	old := r.instances
	r.instances = make(map[instanceKey]any)
	r.mu.Unlock()

	for key, inst := range old {
		closer, ok := inst.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			r.logger.Warn("failed to close provider",
				zap.String("role", string(key.role)),
				zap.String("name", key.name),
				zap.Error(err),
			)
		}
	}
	r.logger.Info("cleared provider instances")
}

// Available returns the registered names per role, sorted. Introspection
// only; no side effects.
func (r *Registry) Available() map[Role][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[Role][]string{
		RoleLLM:         keysOf(r.llms),
		RoleEmbeddings:  keysOf(r.embedders),
		RoleVectorStore: keysOf(r.stores),
		RoleRetrieval:   keysOf(r.strategies),
		RoleChat:        keysOf(r.chats),
	}
}

// getInstance implements the singleton contract: at most one construction
// per key, losers of the race receive the winner's instance, and the cache
// slot is only populated after a fully successful build. If the winner
// fails, waiters retry construction themselves so a transient failure does
// not poison the slot.
func getInstance[T any](
	ctx context.Context,
	r *Registry,
	role Role,
	name string,
	build func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	key := instanceKey{role: role, name: name}

	if pathContains(ctx, key) {
		return zero, fmt.Errorf("resolving %s %q: %w", role, name, domain.ErrSelfReference)
	}
	ctx = withPathKey(ctx, key)

	for {
		r.mu.Lock()
		if inst, ok := r.instances[key]; ok {
			r.mu.Unlock()
			return inst.(T), nil
		}
		if c, ok := r.inflight[key]; ok {
			r.mu.Unlock()
			select {
			case <-c.done:
			case <-ctx.Done():
				return zero, fmt.Errorf("waiting for %s %q: %w", role, name, ctx.Err())
			}
			if c.err == nil {
				return c.instance.(T), nil
			}
			// Winner failed; loop and attempt construction ourselves.
			continue
		}
		c := &construction{done: make(chan struct{})}
		r.inflight[key] = c
		r.mu.Unlock()

		inst, err := build(ctx)

		r.mu.Lock()
		delete(r.inflight, key)
		if err == nil {
			r.instances[key] = inst
		}
		r.mu.Unlock()

		c.instance, c.err = inst, err
		close(c.done)

		if err != nil {
			return zero, err
		}
		return inst, nil
	}
}

// resolutionPath tracks the chain of (role, name) keys currently being
// constructed on this call path, for self-reference detection.
type pathCtxKey struct{}

func withPathKey(ctx context.Context, key instanceKey) context.Context {
	path, _ := ctx.Value(pathCtxKey{}).([]instanceKey)
	next := make([]instanceKey, len(path)+1)
	copy(next, path)
	next[len(path)] = key
	return context.WithValue(ctx, pathCtxKey{}, next)
}

func pathContains(ctx context.Context, key instanceKey) bool {
	path, _ := ctx.Value(pathCtxKey{}).([]instanceKey)
	for _, k := range path {
		if k == key {
			return true
		}
	}
	return false
}

func constructionErr(role Role, name string, err error) error {
	return fmt.Errorf("construct %s %q: %w: %w", role, name, domain.ErrConstruction, err)
}

func orDefault(name, def string) string {
	if name == "" {
		return def
	}
	return name
}

func keysOf[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
