package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/getanchor/anchor-go/pkg/policy"
)

// packFlags binds policy pack overrides. A flag only overrides the pack
// when it was set explicitly, so defaults stay with the builder.
type packFlags struct {
	File               string
	AllowedDomains     []string
	MaxQuerySize       int
	NoMaxQuerySize     bool
	RequireApprovalFor []string
	NoRequireApproval  bool
	BlockPII           bool
	BlockSecrets       bool
}

// AddFlags registers the pack flags on flagSet.
func (f *packFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.File, "file", "f", "", "Policy pack file (YAML, JSON or JSONC); flags override its values")
	flagSet.StringSliceVar(&f.AllowedDomains, "allowed-domain", nil, "Allowed outbound domain (repeatable)")
	flagSet.IntVar(&f.MaxQuerySize, "max-query-size", policy.DefaultMaxQuerySize, "Maximum query size")
	flagSet.BoolVar(&f.NoMaxQuerySize, "no-max-query-size", false, "Omit the max_query_size policy")
	flagSet.StringSliceVar(&f.RequireApprovalFor, "require-approval-for", nil, "Operation requiring approval (repeatable)")
	flagSet.BoolVar(&f.NoRequireApproval, "no-require-approval", false, "Omit the require_approval_for policy")
	flagSet.BoolVar(&f.BlockPII, "block-pii", true, "Block writes containing PII")
	flagSet.BoolVar(&f.BlockSecrets, "block-secrets", true, "Block writes containing secrets")
}

// Config merges the pack file, if any, with the explicitly set flags.
func (f *packFlags) Config(flagSet *pflag.FlagSet) (policy.PackConfig, error) {
	var cfg policy.PackConfig
	if f.File != "" {
		loaded, err := policy.LoadPackFile(f.File)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if f.NoMaxQuerySize && flagSet.Changed("max-query-size") {
		return cfg, fmt.Errorf("--max-query-size and --no-max-query-size are mutually exclusive")
	}
	if f.NoRequireApproval && flagSet.Changed("require-approval-for") {
		return cfg, fmt.Errorf("--require-approval-for and --no-require-approval are mutually exclusive")
	}

	if flagSet.Changed("allowed-domain") {
		cfg.AllowedDomains = append([]string{}, f.AllowedDomains...)
	}
	switch {
	case f.NoMaxQuerySize:
		cfg.MaxQuerySize = policy.Null[int]()
	case flagSet.Changed("max-query-size"):
		cfg.MaxQuerySize = policy.Some(f.MaxQuerySize)
	}
	switch {
	case f.NoRequireApproval:
		cfg.RequireApprovalFor = policy.Null[[]string]()
	case flagSet.Changed("require-approval-for"):
		cfg.RequireApprovalFor = policy.Some(append([]string{}, f.RequireApprovalFor...))
	}
	if flagSet.Changed("block-pii") {
		cfg.BlockPII = policy.Bool(f.BlockPII)
	}
	if flagSet.Changed("block-secrets") {
		cfg.BlockSecrets = policy.Bool(f.BlockSecrets)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid policy pack: %w", err)
	}
	return cfg, nil
}

// readJSONArg decodes a JSON object given inline or as @path. Comments and
// trailing commas are accepted.
func readJSONArg(arg string) (map[string]any, error) {
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	var out map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &out); err != nil {
		return nil, fmt.Errorf("failed to parse JSON object: %w", err)
	}
	return out, nil
}

// metadataMap converts key=value flag pairs into request metadata.
func metadataMap(pairs map[string]string) map[string]any {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]any, len(pairs))
	for k, v := range pairs {
		out[k] = v
	}
	return out
}

// parseTimeFlag accepts RFC 3339 or a duration meaning "that long ago".
func parseTimeFlag(value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: want RFC 3339 or a duration such as 24h", value)
	}
	if d < 0 {
		d = -d
	}
	t := now.Add(-d)
	return &t, nil
}
