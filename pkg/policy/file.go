package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format is a pack file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	// FormatJSON accepts JSONC: comments and trailing commas are allowed.
	FormatJSON Format = "json"
)

// FormatFromPath picks a format from the file extension. Unknown
// extensions return "" so Parse can sniff the content.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json", ".jsonc":
		return FormatJSON
	}
	return ""
}

// LoadPackFile reads pack overrides from a YAML or JSON(C) file. A key that
// is present with a null value disables that policy; an absent key keeps
// the default.
func LoadPackFile(path string) (PackConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PackConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return PackConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates pack overrides. An empty format is inferred
// from the first non-blank byte: '{' means JSON, anything else YAML.
func Parse(data []byte, format Format) (PackConfig, error) {
	if format == "" {
		format = FormatYAML
		if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
			format = FormatJSON
		}
	}

	var cfg PackConfig
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return PackConfig{}, fmt.Errorf("parsing policy pack: %w", err)
		}
	case FormatJSON:
		stripped := jsonc.ToJSON(data)
		if len(bytes.TrimSpace(stripped)) > 0 {
			dec := json.NewDecoder(bytes.NewReader(stripped))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&cfg); err != nil {
				return PackConfig{}, fmt.Errorf("parsing policy pack: %w", err)
			}
		}
	default:
		return PackConfig{}, fmt.Errorf("unsupported policy pack format %q", format)
	}

	if err := cfg.Validate(); err != nil {
		return PackConfig{}, fmt.Errorf("invalid policy pack: %w", err)
	}
	return cfg, nil
}

// UnmarshalYAML decodes a pack mapping. yaml.v3 does not hand null nodes
// to field unmarshalers, so nulls are detected here.
func (c *PackConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: policy pack must be a mapping", node.Line)
	}

	var out PackConfig
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		null := val.ShortTag() == "!!null"

		var err error
		switch key.Value {
		case KeyAllowedDomains:
			if null {
				out.AllowedDomains = nil
				continue
			}
			err = val.Decode(&out.AllowedDomains)
			if err == nil && out.AllowedDomains == nil {
				out.AllowedDomains = []string{}
			}
		case KeyMaxQuerySize:
			if null {
				out.MaxQuerySize = Null[int]()
				continue
			}
			var n int
			if err = val.Decode(&n); err == nil {
				out.MaxQuerySize = Some(n)
			}
		case KeyRequireApprovalFor:
			if null {
				out.RequireApprovalFor = Null[[]string]()
				continue
			}
			var ops []string
			if err = val.Decode(&ops); err == nil {
				if ops == nil {
					ops = []string{}
				}
				out.RequireApprovalFor = Some(ops)
			}
		case KeyBlockPII:
			out.BlockPII, err = decodeBool(val, null)
		case KeyBlockSecrets:
			out.BlockSecrets, err = decodeBool(val, null)
		default:
			return fmt.Errorf("line %d: unknown policy %q", key.Line, key.Value)
		}
		if err != nil {
			return fmt.Errorf("line %d: %s: %w", val.Line, key.Value, err)
		}
	}
	*c = out
	return nil
}

func decodeBool(node *yaml.Node, null bool) (*bool, error) {
	if null {
		return nil, nil
	}
	var b bool
	if err := node.Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}
