package matching

import (
	_ "embed"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed abbreviations.yaml
var abbreviationsYAML []byte

// loadExpansions parses the embedded abbreviation table. The table ships
// with the binary; a parse failure is a build defect, so it panics rather
// than returning an error.
func loadExpansions() map[string]string {
	raw := map[string]string{}
	if err := yaml.Unmarshal(abbreviationsYAML, &raw); err != nil {
		panic("matching: invalid embedded abbreviations.yaml: " + err.Error())
	}
	expansions := make(map[string]string, len(raw))
	for abbr, full := range raw {
		expansions[strings.ToLower(abbr)] = strings.ToLower(full)
	}
	return expansions
}
