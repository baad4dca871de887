package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Policy keys as stored in an agent's configuration.
const (
	KeyAllowedDomains     = "allowed_domains"
	KeyMaxQuerySize       = "max_query_size"
	KeyRequireApprovalFor = "require_approval_for"
	KeyBlockPII           = "block_pii"
	KeyBlockSecrets       = "block_secrets"
)

// DefaultMaxQuerySize is the max_query_size applied when not overridden.
const DefaultMaxQuerySize = 1000

// DefaultRequireApprovalFor returns the operations that need approval when
// not overridden.
func DefaultRequireApprovalFor() []string {
	return []string{"delete", "update", "export"}
}

// PackConfig overrides the default policy pack. The zero value yields the
// defaults.
type PackConfig struct {
	// AllowedDomains restricts outbound domains. Nil omits the policy; an
	// empty non-nil slice is sent as an empty list.
	AllowedDomains []string `json:"allowed_domains"`
	// MaxQuerySize defaults to DefaultMaxQuerySize. Null omits the policy.
	MaxQuerySize Optional[int] `json:"max_query_size"`
	// RequireApprovalFor defaults to DefaultRequireApprovalFor. Null omits
	// the policy; a value is used verbatim.
	RequireApprovalFor Optional[[]string] `json:"require_approval_for"`
	// BlockPII defaults to true.
	BlockPII *bool `json:"block_pii"`
	// BlockSecrets defaults to true.
	BlockSecrets *bool `json:"block_secrets"`
}

// Validate rejects override values the service would refuse.
func (c PackConfig) Validate() error {
	var errs []error
	if n, ok := c.MaxQuerySize.Get(); ok && n <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyMaxQuerySize, n))
	}
	for i, d := range c.AllowedDomains {
		if strings.TrimSpace(d) == "" {
			errs = append(errs, fmt.Errorf("%s[%d] is empty", KeyAllowedDomains, i))
		}
	}
	if ops, ok := c.RequireApprovalFor.Get(); ok {
		for i, op := range ops {
			if strings.TrimSpace(op) == "" {
				errs = append(errs, fmt.Errorf("%s[%d] is empty", KeyRequireApprovalFor, i))
			}
		}
	}
	return errors.Join(errs...)
}

// Pack is a built policy pack. It encodes as {"policies": {...}}, the
// shape Config.Update expects.
type Pack struct {
	Policies map[string]any
}

// BuildDefaultPolicies merges cfg over the default pack. It never fails
// and never mutates cfg.
func BuildDefaultPolicies(cfg PackConfig) Pack {
	policies := make(map[string]any, 5)

	if cfg.AllowedDomains != nil {
		policies[KeyAllowedDomains] = append([]string{}, cfg.AllowedDomains...)
	}
	if n, ok := cfg.MaxQuerySize.Or(DefaultMaxQuerySize); ok {
		policies[KeyMaxQuerySize] = n
	}
	if ops, ok := cfg.RequireApprovalFor.Or(DefaultRequireApprovalFor()); ok {
		if ops == nil {
			ops = []string{}
		}
		policies[KeyRequireApprovalFor] = append([]string{}, ops...)
	}
	policies[KeyBlockPII] = boolOr(cfg.BlockPII, true)
	policies[KeyBlockSecrets] = boolOr(cfg.BlockSecrets, true)

	return Pack{Policies: policies}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Map returns the pack as {"policies": {...}}. Slices are copied so the
// result can be modified freely.
func (p Pack) Map() map[string]any {
	policies := make(map[string]any, len(p.Policies))
	for k, v := range p.Policies {
		if s, ok := v.([]string); ok {
			v = append([]string{}, s...)
		}
		policies[k] = v
	}
	return map[string]any{"policies": policies}
}

// MarshalJSON encodes the pack as {"policies": {...}}.
func (p Pack) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Map())
}

// MarshalYAML encodes the pack with the same shape as MarshalJSON.
func (p Pack) MarshalYAML() (any, error) {
	return p.Map(), nil
}
