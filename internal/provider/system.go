package provider

import (
	"encoding/json"
	"fmt"
)

func joinSystem(base, extra string) string {
	if base == "" {
		return extra
	}
	return base + "\n\n" + extra
}

// schemaInstruction renders the prompt block used when a vendor has no
// native schema enforcement.
func schemaInstruction(name string, schema map[string]any) string {
	body, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		body = []byte("{}")
	}
	return fmt.Sprintf("Respond with a single JSON value conforming to the %q schema below. Output the JSON only, with no surrounding prose.\n\n%s", name, body)
}
