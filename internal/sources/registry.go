package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/docs"
	"go.uber.org/zap"
)

// Deps are shared by every adapter the registry creates.
type Deps struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
	// Docs is the documentation engine; when nil the registry creates and
	// owns one.
	Docs *docs.Engine
}

// Factory creates one adapter kind.
type Factory struct {
	// Missing names the first required setting that is absent, or "".
	Missing func(cfg *config.Config) string
	Enabled func(cfg *config.Config) bool
	New     func(cfg *config.Config, deps Deps) (Adapter, error)
}

var factories = map[string]Factory{
	NameJira: {
		Enabled: func(c *config.Config) bool { return c.Sources.Jira.Enabled },
		Missing: func(c *config.Config) string {
			j := c.Sources.Jira
			switch {
			case j.BaseURL == "":
				return "base_url"
			case j.Email == "":
				return "email"
			case !j.APIToken.IsSet():
				return "api_token"
			}
			return ""
		},
		New: func(c *config.Config, d Deps) (Adapter, error) {
			return NewJira(c.Sources.Jira, d.Logger, d.HTTPClient), nil
		},
	},
	NameFireflies: {
		Enabled: func(c *config.Config) bool { return c.Sources.Fireflies.Enabled },
		Missing: func(c *config.Config) string {
			if !c.Sources.Fireflies.APIKey.IsSet() {
				return "api_key"
			}
			return ""
		},
		New: func(c *config.Config, d Deps) (Adapter, error) {
			return NewFireflies(c.Sources.Fireflies, d.Logger, d.HTTPClient, ""), nil
		},
	},
	NameSlack: {
		Enabled: func(c *config.Config) bool { return c.Sources.Slack.Enabled },
		Missing: func(c *config.Config) string {
			if !c.Sources.Slack.BotToken.IsSet() {
				return "bot_token"
			}
			return ""
		},
		New: func(c *config.Config, d Deps) (Adapter, error) {
			return NewSlack(c.Sources.Slack, d.Logger, d.HTTPClient, ""), nil
		},
	},
	NameGmail: {
		Enabled: func(c *config.Config) bool { return c.Sources.Gmail.Enabled },
		Missing: func(c *config.Config) string {
			if c.Sources.Gmail.CredentialsPath == "" {
				return "credentials_path"
			}
			return ""
		},
		New: func(c *config.Config, d Deps) (Adapter, error) {
			return NewGmail(c.Sources.Gmail, d.Logger, d.HTTPClient, ""), nil
		},
	},
	NameGitHub: {
		Enabled: func(c *config.Config) bool { return c.Sources.GitHub.Enabled },
		Missing: func(c *config.Config) string {
			switch {
			case !c.Sources.GitHub.Token.IsSet():
				return "token"
			case len(c.Sources.GitHub.Repos) == 0:
				return "repos"
			}
			return ""
		},
		New: func(c *config.Config, d Deps) (Adapter, error) {
			return NewGitHub(c.Sources.GitHub, d.Logger, d.HTTPClient)
		},
	},
	NameLocalDocs: {
		Enabled: func(c *config.Config) bool { return c.Sources.Docs.Enabled },
		Missing: func(*config.Config) string { return "" },
		New: func(c *config.Config, d Deps) (Adapter, error) {
			return NewLocalDocs(c.Sources.Docs, d.Docs, d.Logger), nil
		},
	},
}

// loadOrder keeps Active deterministic.
var loadOrder = []string{NameJira, NameFireflies, NameSlack, NameGmail, NameGitHub, NameLocalDocs}

// Registry holds the adapters instantiated from configuration.
type Registry struct {
	deps      Deps
	factories map[string]Factory
	logger    *zap.Logger

	mu        sync.RWMutex
	adapters  map[string]Adapter
	order     []string
	ownedDocs *docs.Engine
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFactory registers or replaces the factory for name.
func WithFactory(name string, f Factory) RegistryOption {
	return func(r *Registry) { r.factories[name] = f }
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps, opts ...RegistryOption) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r := &Registry{
		deps:      deps,
		factories: make(map[string]Factory, len(factories)),
		logger:    deps.Logger.Named("sources"),
		adapters:  make(map[string]Adapter),
	}
	for k, v := range factories {
		r.factories[k] = v
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) names() []string {
	known := make(map[string]bool, len(loadOrder))
	names := append([]string{}, loadOrder...)
	for _, n := range loadOrder {
		known[n] = true
	}
	var extra []string
	for n := range r.factories {
		if !known[n] {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// Load instantiates every enabled adapter whose required settings are
// present. Adapters missing settings are skipped with a debug log.
func (r *Registry) Load(cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	deps := r.deps
	for _, name := range r.names() {
		f, ok := r.factories[name]
		if !ok {
			continue
		}
		if !f.Enabled(cfg) {
			r.logger.Debug("source disabled", zap.String("source", name))
			continue
		}
		if missing := f.Missing(cfg); missing != "" {
			r.logger.Debug("source skipped, missing setting",
				zap.String("source", name), zap.String("setting", missing))
			continue
		}
		if name == NameLocalDocs && deps.Docs == nil {
			if r.ownedDocs == nil {
				r.ownedDocs = docs.NewEngine(cfg.Sources.Docs, deps.Logger)
			}
			deps.Docs = r.ownedDocs
		}
		a, err := f.New(cfg, deps)
		if err != nil {
			return fmt.Errorf("creating %s adapter: %w", name, err)
		}
		if old, dup := r.adapters[name]; dup {
			if err := old.Close(); err != nil {
				r.logger.Warn("closing replaced source", zap.String("source", name), zap.Error(err))
			}
		} else {
			r.order = append(r.order, name)
		}
		r.adapters[name] = a
		r.logger.Debug("source loaded", zap.String("source", name))
	}
	return nil
}

// Register adds an adapter directly.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.adapters[a.Name()]; !dup {
		r.order = append(r.order, a.Name())
	}
	r.adapters[a.Name()] = a
}

// Get returns the named adapter.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Active returns the loaded adapters in load order.
func (r *Registry) Active() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.adapters[n])
	}
	return out
}

// Primary returns the ticket source, or nil when none is loaded.
func (r *Registry) Primary() TicketSource {
	for _, a := range r.Active() {
		if ts, ok := a.(TicketSource); ok {
			return ts
		}
	}
	return nil
}

// MaxConcurrentFetches bounds how many adapters are queried at once.
const MaxConcurrentFetches = 4

// Secondary returns every active adapter other than the primary.
func (r *Registry) Secondary() []Adapter {
	primary := r.Primary()
	var out []Adapter
	for _, a := range r.Active() {
		if primary != nil && a.Name() == primary.Name() {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Docs returns the documentation engine, if local docs are active.
func (r *Registry) Docs() *docs.Engine {
	a, ok := r.Get(NameLocalDocs)
	if !ok {
		return nil
	}
	if ld, ok := a.(*LocalDocs); ok {
		return ld.Engine()
	}
	return nil
}

// HealthCheckAll checks every active adapter concurrently.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]bool {
	active := r.Active()
	out := make(map[string]bool, len(active))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, a := range active {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			ok := a.HealthCheck(ctx)
			mu.Lock()
			out[a.Name()] = ok
			mu.Unlock()
		}(a)
	}
	wg.Wait()
	return out
}

// CloseAll closes every adapter and the owned docs engine.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, n := range r.order {
		if err := r.adapters[n].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", n, err))
		}
	}
	if r.ownedDocs != nil {
		if err := r.ownedDocs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing docs engine: %w", err))
		}
		r.ownedDocs = nil
	}
	clear(r.adapters)
	r.order = nil
	return errors.Join(errs...)
}
