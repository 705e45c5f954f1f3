// Package iocli abstracts the terminal the client talks to.
package iocli

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// IO is the client's view of stdin and stdout.
type IO interface {
	Println(a ...any)
	Printf(format string, a ...any)
	ReadInput(prompt string) (string, error)
	Write(p []byte) (n int, err error)
	IsTerminal() bool
}

// FormatJSON re-encodes raw JSON indented or compact, followed by a newline.
func FormatJSON(raw []byte, indent bool) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if indent {
		err = json.Indent(&buf, raw, "", "  ")
	} else {
		err = json.Compact(&buf, raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to format JSON: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// WriteJSON prints raw JSON indented on a terminal and compact otherwise.
func WriteJSON(out IO, raw []byte) error {
	formatted, err := FormatJSON(raw, out.IsTerminal())
	if err != nil {
		return err
	}
	_, err = out.Write(formatted)
	return err
}

// WriteValue marshals v and prints it with WriteJSON.
func WriteValue(out IO, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return WriteJSON(out, raw)
}
