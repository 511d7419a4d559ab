package credential

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/constant"
)

// ModelInfo describes one model advertised through the gateway.
type ModelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

// Router holds the credential pool grouped by provider format and picks a
// credential per attempt according to the configured strategy. All state is
// guarded by a single lock; Pick returns clones.
type Router struct {
	mu          sync.RWMutex
	credentials map[constant.Format][]*Credential
	cursors     map[string]uint64
	strategy    string
}

// NewRouter creates an empty router using the given pick strategy.
func NewRouter(strategy string) *Router {
	return &Router{
		credentials: make(map[constant.Format][]*Credential),
		cursors:     make(map[string]uint64),
		strategy:    strategy,
	}
}

// Pick selects the next available credential for the provider and model,
// skipping IDs listed in tried. It returns nil when no candidate remains.
func (r *Router) Pick(provider constant.Format, model string, tried map[string]struct{}) *Credential {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.credentials[provider]
	candidates := make([]*Credential, 0, len(entries))
	for _, cred := range entries {
		if _, skip := tried[cred.ID]; skip {
			continue
		}
		if cred.IsAvailable() && cred.SupportsModel(model) {
			candidates = append(candidates, cred)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	if r.strategy == config.StrategyFillFirst {
		return candidates[0].Clone()
	}
	key := provider.String() + ":" + model
	index := r.cursors[key]
	r.cursors[key] = index + 1
	return candidates[index%uint64(len(candidates))].Clone()
}

// MarkUnavailable puts the credential with the given ID into cooldown for
// the given duration.
func (r *Router) MarkUnavailable(credID string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	until := time.Now().Add(d)
	for _, entries := range r.credentials {
		for _, cred := range entries {
			if cred.ID == credID {
				cred.CooldownUntil = until
				log.Debugf("credential %s cooling down for %s", cred.DisplayName(), d)
			}
		}
	}
}

// UpdateFromConfig rebuilds the pool from the configuration. Cooldown state
// carries over to entries with the same API key within the same format, so a
// reload does not resurrect rate-limited credentials.
func (r *Router) UpdateFromConfig(cfg *config.Config) {
	next := make(map[constant.Format][]*Credential)
	total := 0
	for format, entries := range cfg.ProviderEntries() {
		for _, entry := range entries {
			next[format] = append(next[format], FromEntry(entry, format))
			total++
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for format, entries := range next {
		old := r.credentials[format]
		if len(old) == 0 {
			continue
		}
		for _, cred := range entries {
			for _, prev := range old {
				if prev.APIKey == cred.APIKey {
					cred.CooldownUntil = prev.CooldownUntil
					break
				}
			}
		}
	}
	r.credentials = next
	r.strategy = cfg.Routing.Strategy
	log.Debugf("credential router updated: %d credentials", total)
}

// AllModels lists the models advertised by available credentials, aliased
// names preferred, deduplicated by id.
func (r *Router) AllModels() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []ModelInfo
	seen := make(map[string]struct{})
	for _, format := range constant.Formats() {
		for _, cred := range r.credentials[format] {
			if !cred.IsAvailable() {
				continue
			}
			for _, m := range cred.Models {
				id := m.ID
				if m.Alias != "" {
					id = m.Alias
				}
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				models = append(models, ModelInfo{ID: id, Provider: format.String()})
			}
		}
	}
	return models
}

// ModelHasPrefix reports whether any available prefixed credential serves
// the model. Used to reject unprefixed names when force-model-prefix is on.
func (r *Router) ModelHasPrefix(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entries := range r.credentials {
		for _, cred := range entries {
			if cred.Prefix != "" && cred.IsAvailable() && cred.SupportsModel(model) {
				return true
			}
		}
	}
	return false
}

// ResolveProviders returns the provider formats that can serve the model, in
// stable resolution order.
func (r *Router) ResolveProviders(model string) []constant.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var formats []constant.Format
	for _, format := range constant.Formats() {
		for _, cred := range r.credentials[format] {
			if cred.IsAvailable() && cred.SupportsModel(model) {
				formats = append(formats, format)
				break
			}
		}
	}
	return formats
}

// CredentialByID returns a clone of the credential with the given ID, or nil.
func (r *Router) CredentialByID(credID string) *Credential {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entries := range r.credentials {
		for _, cred := range entries {
			if cred.ID == credID {
				return cred.Clone()
			}
		}
	}
	return nil
}

// Snapshot summarizes pool state for logs and management endpoints.
func (r *Router) Snapshot() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.credentials))
	for format, entries := range r.credentials {
		available := 0
		for _, cred := range entries {
			if cred.IsAvailable() {
				available++
			}
		}
		out[format.String()] = available
	}
	return out
}
