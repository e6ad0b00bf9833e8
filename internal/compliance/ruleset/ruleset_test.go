package ruleset_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smallbiznis/provenance/internal/compliance/ruleset"
)

func TestDefaultRuleSet(t *testing.T) {
	entries, err := ruleset.Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("default rule set is empty")
	}

	seen := map[string]bool{}
	types := map[string]bool{}
	for _, e := range entries {
		if seen[e.Code] {
			t.Fatalf("duplicate rule code %q", e.Code)
		}
		seen[e.Code] = true
		types[e.ProductType] = true
	}
	if !types["pharmaceutical"] || !types["luxury"] {
		t.Fatalf("expected rules for both pharmaceutical and luxury, got %v", types)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")

	content := `[{"code":"FOOD-HACCP","name":"HACCP","product_type":"food","requirement":"hazard analysis on file"}]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	entries, err := ruleset.LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 1 || entries[0].Code != "FOOD-HACCP" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestLoadFileRejectsIncompleteEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")

	content := `[{"code":"X","name":"","product_type":"food","requirement":"r"}]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := ruleset.LoadFile(path); err == nil {
		t.Fatalf("expected error for incomplete entry")
	}
}
