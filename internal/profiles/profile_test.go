package profiles

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBundledDefaults(t *testing.T) {
	for _, name := range []string{"quick", "standard", "deep"} {
		p, err := Load(name, "")
		if err != nil {
			t.Fatalf("Load(%q): %v", name, err)
		}
		if p.Name != name {
			t.Errorf("profile %q reports name %q", name, p.Name)
		}
		if !p.Bundled {
			t.Errorf("profile %q should be marked bundled", name)
		}
		if len(p.Tools) == 0 {
			t.Errorf("profile %q declares no tools", name)
		}
		if p.Depth() == DepthUnknown {
			t.Errorf("profile %q has unknown depth %q", name, p.DepthName)
		}
	}
}

func TestLoadUnknownProfile(t *testing.T) {
	if _, err := Load("nonexistent", ""); err == nil {
		t.Fatal("expected error for unknown profile")
	}
	if _, err := Load("", ""); err == nil {
		t.Fatal("expected error for empty profile name")
	}
}

func TestDepthOrdering(t *testing.T) {
	if !(DepthQuick < DepthStandard && DepthStandard < DepthDeep) {
		t.Fatal("depth ordering broken")
	}
	if DepthOf("Deep") != DepthDeep {
		t.Error("depth lookup should be case-insensitive")
	}
	if DepthOf("extreme") != DepthUnknown {
		t.Error("unknown depth name should map to DepthUnknown")
	}
}

func TestUserProfileShadowsBundled(t *testing.T) {
	dir := t.TempDir()
	custom := `---
name: standard
version: 2
description: Trimmed-down local variant
depth: standard
tools: [opengrep]
---

Local override used in tests.
`
	if err := os.WriteFile(filepath.Join(dir, "standard.md"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load("standard", dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Bundled {
		t.Error("user profile should not be marked bundled")
	}
	if len(p.Tools) != 1 || p.Tools[0] != "opengrep" {
		t.Errorf("expected user tool list, got %v", p.Tools)
	}

	all, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var std *Profile
	for i := range all {
		if all[i].Name == "standard" {
			std = &all[i]
		}
	}
	if std == nil {
		t.Fatal("standard profile missing from List")
	}
	if std.Version != 2 {
		t.Errorf("List should surface the user profile, got version %d", std.Version)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"no frontmatter": "just a markdown file\n",
		"unterminated":   "---\nname: x\ndepth: quick\ntools: [grype]\n",
		"no tools":       "---\nname: x\ndepth: quick\ntools: []\n---\nbody\n",
		"bad depth":      "---\nname: x\ndepth: turbo\ntools: [grype]\n---\nbody\n",
	}
	for label, content := range cases {
		if _, err := parse([]byte(content)); err == nil {
			t.Errorf("%s: expected parse error", label)
		}
	}
}
