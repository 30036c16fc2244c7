// Package jsonutil provides the JSON helpers shared by the exporter, the
// HTTP API and the TUI.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal encodes v compactly without HTML escaping, so markup attribute
// values keep their literal <, > and & characters.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder terminates every value with a newline.
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// MustMarshal marshals a value to a JSON string, panicking on error.
// Use only for values known to be marshalable (e.g., maps, slices).
func MustMarshal(v any) string {
	b, err := Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("jsonutil.MustMarshal: %v", err))
	}
	return string(b)
}

// PrettyJSON formats a JSON string with indentation for display.
// Returns the original string if it's not valid JSON.
func PrettyJSON(s string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(s), "", "  "); err != nil {
		return s
	}
	return buf.String()
}

// TruncateString truncates a string to maxLen characters, adding "..."
// if truncation occurred. Used for display in the TUI.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
