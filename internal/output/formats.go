package output

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents the available output formats
type OutputFormat string

const (
	// FormatText is the default human-readable text format
	FormatText OutputFormat = "text"
	// FormatJSON outputs in JSON format
	FormatJSON OutputFormat = "json"
	// FormatYAML outputs in YAML format
	FormatYAML OutputFormat = "yaml"
)

// ParseFormat validates a format name. The empty string selects text.
func ParseFormat(name string) (OutputFormat, error) {
	switch OutputFormat(name) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return OutputFormat(name), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", name)
	}
}

// Encode writes v as a JSON or YAML document. YAML output is derived from
// the JSON encoding so both formats share field names and key order.
func Encode(w io.Writer, format OutputFormat, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	switch format {
	case FormatJSON:
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return fmt.Errorf("failed to convert result: %w", err)
		}
		blockStyle(&node)
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&node); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q is not a document format", format)
	}
}

// blockStyle clears the flow style the JSON parse leaves on every node.
func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle | yaml.DoubleQuotedStyle
	for _, child := range n.Content {
		blockStyle(child)
	}
}
