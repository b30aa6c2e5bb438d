package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// printStructured writes v as JSON or YAML and reports whether it did. YAML
// keys follow the JSON field names of the state file.
func printStructured(w io.Writer, format string, v interface{}) (bool, error) {
	switch format {
	case "", outputTable:
		return false, nil
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case outputYAML:
		raw, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return true, fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
}
