package cmd

import (
	"encoding/json"
	"io"

	"github.com/example/class-scheduler/internal/internaltypes"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func hintOf(err error) string {
	return internaltypes.Hint(err)
}
