package main

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// print writes v to stdout in the selected output format. YAML output goes
// through JSON first so field names match the API's json tags.
func (a *app) print(v any) error {
	if a.opts.Output == "yaml" {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		return enc.Close()
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(a.stdout, string(out))
	return err
}
