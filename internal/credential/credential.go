// Package credential maintains the pool of upstream provider credentials and
// routes each request to one of them. Credentials are built from the
// configuration, carry per-entry routing metadata (model lists, aliases,
// prefixes, exclusions), and track transient cooldown state that survives
// configuration reloads.
package credential

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/glob"
	"github.com/modelgate/modelgate/internal/util"
)

// Credential is one upstream API key together with its routing metadata and
// runtime cooldown state. The router owns the canonical copies; Pick hands
// out clones so executors never observe concurrent mutation.
type Credential struct {
	// ID uniquely identifies the credential for the lifetime of the process.
	ID string

	// Format is the provider family this credential authenticates against.
	Format constant.Format

	// APIKey is the upstream secret.
	APIKey string

	// BaseURL overrides the provider's default endpoint when set.
	BaseURL string

	// ProxyURL overrides the global proxy. Nil inherits the global proxy; an
	// empty string forces a direct connection.
	ProxyURL *string

	// Prefix, when set, is stripped from inbound model names before
	// matching.
	Prefix string

	// Models lists the served model ids and optional aliases. Empty serves
	// everything not excluded.
	Models []config.ModelMapping

	// ExcludedModels are glob patterns rejecting otherwise-matching models.
	ExcludedModels []string

	// Headers are static headers added to every upstream request.
	Headers map[string]string

	// Disabled removes the credential from routing.
	Disabled bool

	// Name is the operator-assigned label used in logs and debug headers.
	Name string

	// Cloak is set for Claude credentials only.
	Cloak *config.CloakConfig

	// WireAPI selects the upstream body shape for OpenAI-compatible entries.
	WireAPI constant.WireAPI

	// CooldownUntil is the time before which the credential is skipped.
	// Zero means no cooldown. Guarded by the owning router's lock.
	CooldownUntil time.Time
}

// FromEntry builds a runtime credential from one configuration entry. Each
// call mints a fresh ID; identity across reloads is keyed by API key instead.
func FromEntry(entry config.ProviderKeyEntry, format constant.Format) *Credential {
	cred := &Credential{
		ID:             uuid.NewString(),
		Format:         format,
		APIKey:         entry.APIKey,
		BaseURL:        entry.BaseURL,
		ProxyURL:       entry.ProxyURL,
		Prefix:         entry.Prefix,
		Models:         entry.Models,
		ExcludedModels: entry.ExcludedModels,
		Headers:        entry.Headers,
		Disabled:       entry.Disabled,
		Name:           entry.Name,
		WireAPI:        entry.WireAPI,
	}
	if format == constant.Claude {
		cloak := entry.Cloak
		cred.Cloak = &cloak
	}
	return cred
}

// Clone returns a copy safe to use outside the router's lock.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cred := *c
	return &cred
}

// StripPrefix removes the credential's prefix from a model name. A model
// that does not carry the prefix is returned unchanged so prefix-less
// lookups keep working against prefixed entries.
func (c *Credential) StripPrefix(model string) string {
	if c.Prefix == "" {
		return model
	}
	return strings.TrimPrefix(model, c.Prefix)
}

// SupportsModel reports whether this credential can serve the given inbound
// model name. The prefix is stripped first; an empty model list serves
// everything that is not excluded; otherwise the effective name must glob-
// match a model id or alias.
func (c *Credential) SupportsModel(model string) bool {
	effective := c.StripPrefix(model)
	if len(c.Models) == 0 {
		return !c.isModelExcluded(effective)
	}
	found := false
	for _, m := range c.Models {
		if glob.Match(m.ID, effective) || (m.Alias != "" && glob.Match(m.Alias, effective)) {
			found = true
			break
		}
	}
	return found && !c.isModelExcluded(effective)
}

// ResolveModelID maps a possibly-aliased inbound model name to the id the
// provider understands. Unknown names pass through after prefix stripping.
func (c *Credential) ResolveModelID(model string) string {
	effective := c.StripPrefix(model)
	for _, m := range c.Models {
		if m.Alias == effective {
			return m.ID
		}
		if m.ID == effective {
			return m.ID
		}
	}
	return effective
}

func (c *Credential) isModelExcluded(model string) bool {
	for _, pattern := range c.ExcludedModels {
		if glob.Match(pattern, model) {
			return true
		}
	}
	return false
}

// IsAvailable reports whether the credential may serve a request right now.
func (c *Credential) IsAvailable() bool {
	if c.Disabled {
		return false
	}
	if !c.CooldownUntil.IsZero() && time.Now().Before(c.CooldownUntil) {
		return false
	}
	return true
}

// BaseURLOrDefault returns the configured endpoint or the provider default,
// without a trailing slash.
func (c *Credential) BaseURLOrDefault(def string) string {
	base := c.BaseURL
	if base == "" {
		base = def
	}
	return strings.TrimRight(base, "/")
}

// DisplayName returns the operator label, falling back to the masked key.
func (c *Credential) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return util.HideAPIKey(c.APIKey)
}
