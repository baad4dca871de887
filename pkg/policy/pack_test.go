package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"pgregory.net/rapid"
)

func TestBuildDefaultPolicies_Defaults(t *testing.T) {
	pack := BuildDefaultPolicies(PackConfig{})

	assert.Equal(t, map[string]any{
		"policies": map[string]any{
			"max_query_size":       1000,
			"require_approval_for": []string{"delete", "update", "export"},
			"block_pii":            true,
			"block_secrets":        true,
		},
	}, pack.Map())

	_, hasDomains := pack.Policies[KeyAllowedDomains]
	assert.False(t, hasDomains)
}

func TestBuildDefaultPolicies_Overrides(t *testing.T) {
	tests := []struct {
		name  string
		cfg   PackConfig
		check func(t *testing.T, p map[string]any)
	}{
		{
			name: "null max query size omitted",
			cfg:  PackConfig{MaxQuerySize: Null[int]()},
			check: func(t *testing.T, p map[string]any) {
				assert.NotContains(t, p, KeyMaxQuerySize)
				assert.Len(t, p, 3)
			},
		},
		{
			name: "explicit max query size",
			cfg:  PackConfig{MaxQuerySize: Some(250)},
			check: func(t *testing.T, p map[string]any) {
				assert.Equal(t, 250, p[KeyMaxQuerySize])
			},
		},
		{
			name: "block secrets disabled",
			cfg:  PackConfig{BlockSecrets: Bool(false)},
			check: func(t *testing.T, p map[string]any) {
				assert.Equal(t, false, p[KeyBlockSecrets])
				assert.Equal(t, true, p[KeyBlockPII])
			},
		},
		{
			name: "empty allowed domains kept",
			cfg:  PackConfig{AllowedDomains: []string{}},
			check: func(t *testing.T, p map[string]any) {
				assert.Equal(t, []string{}, p[KeyAllowedDomains])
			},
		},
		{
			name: "allowed domains",
			cfg:  PackConfig{AllowedDomains: []string{"api.example.com"}},
			check: func(t *testing.T, p map[string]any) {
				assert.Equal(t, []string{"api.example.com"}, p[KeyAllowedDomains])
			},
		},
		{
			name: "null approval list omitted",
			cfg:  PackConfig{RequireApprovalFor: Null[[]string]()},
			check: func(t *testing.T, p map[string]any) {
				assert.NotContains(t, p, KeyRequireApprovalFor)
			},
		},
		{
			name: "empty approval list verbatim",
			cfg:  PackConfig{RequireApprovalFor: Some([]string{})},
			check: func(t *testing.T, p map[string]any) {
				assert.Equal(t, []string{}, p[KeyRequireApprovalFor])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pack := BuildDefaultPolicies(tt.cfg)
			tt.check(t, pack.Policies)
		})
	}
}

func TestBuildDefaultPolicies_DoesNotAlias(t *testing.T) {
	domains := []string{"a.example"}
	pack := BuildDefaultPolicies(PackConfig{AllowedDomains: domains})
	domains[0] = "mutated"
	assert.Equal(t, []string{"a.example"}, pack.Policies[KeyAllowedDomains])

	m := pack.Map()
	m["policies"].(map[string]any)[KeyAllowedDomains].([]string)[0] = "changed"
	assert.Equal(t, []string{"a.example"}, pack.Policies[KeyAllowedDomains])
}

func TestPack_MarshalJSON(t *testing.T) {
	pack := BuildDefaultPolicies(PackConfig{MaxQuerySize: Null[int](), AllowedDomains: []string{}})

	data, err := json.Marshal(pack)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"policies": {
			"allowed_domains": [],
			"require_approval_for": ["delete", "update", "export"],
			"block_pii": true,
			"block_secrets": true
		}
	}`, string(data))
}

func TestPack_MarshalYAML(t *testing.T) {
	data, err := yaml.Marshal(BuildDefaultPolicies(PackConfig{}))
	require.NoError(t, err)

	var back map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, 1000, back["policies"][KeyMaxQuerySize])
}

func TestOptional(t *testing.T) {
	var unset Optional[int]
	assert.True(t, unset.IsUnset())
	v, ok := unset.Or(5)
	assert.True(t, ok)
	assert.Equal(t, 5, v)

	null := Null[int]()
	assert.True(t, null.IsNull())
	_, ok = null.Or(5)
	assert.False(t, ok)

	some := Some(9)
	v, ok = some.Get()
	assert.True(t, ok)
	assert.Equal(t, 9, v)
	assert.Equal(t, "9", some.String())
}

func TestPackConfig_Validate(t *testing.T) {
	assert.NoError(t, PackConfig{}.Validate())
	assert.Error(t, PackConfig{MaxQuerySize: Some(0)}.Validate())
	assert.Error(t, PackConfig{AllowedDomains: []string{" "}}.Validate())
	assert.Error(t, PackConfig{RequireApprovalFor: Some([]string{""})}.Validate())
}

func TestBuildDefaultPolicies_Properties(t *testing.T) {
	optInt := rapid.Custom(func(t *rapid.T) Optional[int] {
		switch rapid.IntRange(0, 2).Draw(t, "state") {
		case 0:
			return Optional[int]{}
		case 1:
			return Null[int]()
		default:
			return Some(rapid.IntRange(1, 1<<20).Draw(t, "n"))
		}
	})
	optBool := rapid.Custom(func(t *rapid.T) *bool {
		if rapid.Bool().Draw(t, "set") {
			return Bool(rapid.Bool().Draw(t, "value"))
		}
		return nil
	})

	rapid.Check(t, func(t *rapid.T) {
		cfg := PackConfig{
			MaxQuerySize: optInt.Draw(t, "max_query_size"),
			BlockPII:     optBool.Draw(t, "block_pii"),
			BlockSecrets: optBool.Draw(t, "block_secrets"),
		}
		if rapid.Bool().Draw(t, "domains_set") {
			cfg.AllowedDomains = rapid.SliceOf(rapid.StringMatching(`[a-z]{1,8}\.example`)).Draw(t, "domains")
			if cfg.AllowedDomains == nil {
				cfg.AllowedDomains = []string{}
			}
		}

		p := BuildDefaultPolicies(cfg).Policies

		if pii, ok := p[KeyBlockPII].(bool); !ok || pii != boolOr(cfg.BlockPII, true) {
			t.Fatalf("block_pii = %v", p[KeyBlockPII])
		}
		if sec, ok := p[KeyBlockSecrets].(bool); !ok || sec != boolOr(cfg.BlockSecrets, true) {
			t.Fatalf("block_secrets = %v", p[KeyBlockSecrets])
		}

		_, hasMax := p[KeyMaxQuerySize]
		if hasMax == cfg.MaxQuerySize.IsNull() {
			t.Fatalf("max_query_size presence %v for %s", hasMax, cfg.MaxQuerySize)
		}
		if n, ok := cfg.MaxQuerySize.Get(); ok && p[KeyMaxQuerySize] != n {
			t.Fatalf("max_query_size = %v, want %d", p[KeyMaxQuerySize], n)
		}

		_, hasDomains := p[KeyAllowedDomains]
		if hasDomains != (cfg.AllowedDomains != nil) {
			t.Fatalf("allowed_domains presence %v", hasDomains)
		}

		if _, err := json.Marshal(BuildDefaultPolicies(cfg)); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	})
}
