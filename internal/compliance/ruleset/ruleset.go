package ruleset

import (
	"encoding/json"
	"errors"
	"os"
	"strings"

	_ "embed"
)

//go:embed defaults.json
var defaultsJSON []byte

// Entry is one seedable rule definition.
type Entry struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	ProductType string `json:"product_type"`
	Requirement string `json:"requirement"`
}

// Default returns the built-in rule set shipped with the binary.
func Default() ([]Entry, error) {
	return parse(defaultsJSON)
}

// LoadFile reads an operator-provided rule set. The file fully replaces the
// defaults for seeding purposes; existing rules in the database are never
// removed.
func LoadFile(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(raw)
}

func parse(raw []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Code = strings.TrimSpace(entries[i].Code)
		entries[i].Name = strings.TrimSpace(entries[i].Name)
		entries[i].ProductType = strings.TrimSpace(entries[i].ProductType)
		entries[i].Requirement = strings.TrimSpace(entries[i].Requirement)
		if entries[i].Code == "" || entries[i].Name == "" || entries[i].ProductType == "" || entries[i].Requirement == "" {
			return nil, errors.New("ruleset_entry_incomplete")
		}
	}
	return entries, nil
}
