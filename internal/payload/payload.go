// Package payload applies the configured request-body rules after
// translation and before dispatch. Rules run in three phases: defaults set
// dotted-path parameters only where the body has none, overrides always set,
// and filters delete. Each rule carries glob model matchers with an optional
// protocol restriction.
package payload

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/glob"
)

// Apply runs the default, override, and filter phases against body and
// returns the rewritten JSON. The body is returned unchanged when no rule
// matches model and protocol.
func Apply(body []byte, rules config.PayloadConfig, model string, protocol constant.Format) []byte {
	for _, rule := range rules.Default {
		if !matchesRule(rule.Models, model, protocol) {
			continue
		}
		for path, value := range rule.Params {
			if gjson.GetBytes(body, path).Exists() {
				continue
			}
			if out, err := sjson.SetBytes(body, path, value); err == nil {
				body = out
			}
		}
	}

	for _, rule := range rules.Override {
		if !matchesRule(rule.Models, model, protocol) {
			continue
		}
		for path, value := range rule.Params {
			if out, err := sjson.SetBytes(body, path, value); err == nil {
				body = out
			}
		}
	}

	for _, rule := range rules.Filter {
		if !matchesRule(rule.Models, model, protocol) {
			continue
		}
		for _, path := range rule.Params {
			if out, err := sjson.DeleteBytes(body, path); err == nil {
				body = out
			}
		}
	}

	return body
}

// matchesRule reports whether any matcher accepts the model name and, when
// the matcher names a protocol, the target protocol (case-insensitive).
func matchesRule(matchers []config.ModelMatcher, model string, protocol constant.Format) bool {
	for _, m := range matchers {
		if !glob.Match(m.Name, model) {
			continue
		}
		if m.Protocol != "" && !strings.EqualFold(m.Protocol, protocol.String()) {
			continue
		}
		return true
	}
	return false
}
