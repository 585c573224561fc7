package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// writeJSON prints v as indented JSON. Prompts routinely contain '&' and
// '<', so HTML escaping is off.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := newJSONEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// jsonLines streams one compact JSON document per line, for `job watch --json`.
type jsonLines struct {
	enc *json.Encoder
}

func newJSONLines(w io.Writer) *jsonLines {
	return &jsonLines{enc: newJSONEncoder(w)}
}

func (l *jsonLines) write(v any) error {
	return l.enc.Encode(v)
}

func newJSONEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}
