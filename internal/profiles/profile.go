// Package profiles manages scan profiles: named presets selecting which
// tools run against a target and the default execution bounds. Profiles are
// resolved once when a run moves from pending to queued; the resolved tool
// list is then frozen on the run record.
package profiles

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"embed"

	"go.yaml.in/yaml/v3"
)

//go:embed defaults/*.md
var defaultsFS embed.FS

// Depth orders profiles by scan thoroughness: quick < standard < deep.
// Gate policies use this ordering for minimum-profile requirements.
type Depth int

const (
	DepthUnknown Depth = iota
	DepthQuick
	DepthStandard
	DepthDeep
)

// DepthOf maps a depth name to its ordering value.
func DepthOf(name string) Depth {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "quick":
		return DepthQuick
	case "standard":
		return DepthStandard
	case "deep":
		return DepthDeep
	}
	return DepthUnknown
}

// Profile is a parsed scan profile.
type Profile struct {
	// Name is the machine-readable identifier (matches the filename without .md).
	Name string `yaml:"name"`
	// Version is a monotonically increasing integer for future compatibility.
	Version int `yaml:"version"`
	// Description is a one-line human-readable summary.
	Description string `yaml:"description"`
	// DepthName is "quick", "standard" or "deep".
	DepthName string `yaml:"depth"`
	// Tools is the ordered list of tool identifiers this profile runs.
	Tools []string `yaml:"tools"`
	// Fanout caps concurrent adapters for this profile (0 = server default).
	Fanout int `yaml:"fanout"`
	// AdapterTimeoutSec overrides the per-tool budget (0 = server default).
	AdapterTimeoutSec int `yaml:"adapter_timeout_sec"`
	// AllowNetwork grants tools outbound network access. Off by default;
	// only dynamic-analysis style profiles should set it.
	AllowNetwork bool `yaml:"allow_network"`
	// Body is the markdown content after the YAML frontmatter.
	Body string `yaml:"-"`
	// Bundled is true if this profile was loaded from the embedded defaults.
	Bundled bool `yaml:"-"`
}

// Depth returns the profile's ordering value.
func (p *Profile) Depth() Depth {
	return DepthOf(p.DepthName)
}

// Load reads a profile by name from the user profile directory (falling back
// to bundled defaults). Returns an error if the profile does not exist.
func Load(name, profilesDir string) (*Profile, error) {
	if name == "" {
		return nil, fmt.Errorf("profiles: profile name is required")
	}

	if profilesDir != "" {
		path := filepath.Join(profilesDir, name+".md")
		if data, err := os.ReadFile(path); err == nil {
			p, err := parse(data)
			if err != nil {
				return nil, fmt.Errorf("profiles: parse %q: %w", path, err)
			}
			if p.Name == "" {
				p.Name = name
			}
			return p, nil
		}
	}

	data, err := defaultsFS.ReadFile("defaults/" + name + ".md")
	if err != nil {
		return nil, fmt.Errorf("profiles: profile %q not found", name)
	}
	p, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("profiles: parse bundled %q: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	p.Bundled = true
	return p, nil
}

// List returns all profiles available: user-defined (from profilesDir) merged
// with bundled defaults. User profiles shadow bundled ones of the same name.
func List(profilesDir string) ([]Profile, error) {
	byName := make(map[string]Profile)

	entries, err := defaultsFS.ReadDir("defaults")
	if err != nil {
		return nil, fmt.Errorf("profiles: reading embedded defaults: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := defaultsFS.ReadFile("defaults/" + entry.Name())
		if err != nil {
			continue
		}
		p, err := parse(data)
		if err != nil {
			slog.Warn("profiles: skipping malformed bundled profile", "file", entry.Name(), "error", err)
			continue
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(entry.Name(), ".md")
		}
		p.Bundled = true
		byName[p.Name] = *p
	}

	if profilesDir != "" {
		_ = filepath.WalkDir(profilesDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			p, err := parse(data)
			if err != nil {
				slog.Warn("profiles: skipping malformed user profile", "file", path, "error", err)
				return nil
			}
			if p.Name == "" {
				p.Name = strings.TrimSuffix(d.Name(), ".md")
			}
			byName[p.Name] = *p
			return nil
		})
	}

	out := make([]Profile, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	return out, nil
}

// DefaultDir returns the default profiles directory: ~/.scangate/profiles/.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".scangate", "profiles")
}

// parse extracts YAML frontmatter and the markdown body from a profile file.
func parse(data []byte) (*Profile, error) {
	const delim = "---"

	data = bytes.TrimLeft(data, " \t\n\r")

	if !bytes.HasPrefix(data, []byte(delim)) {
		return nil, fmt.Errorf("missing YAML frontmatter")
	}

	rest := bytes.TrimPrefix(data, []byte(delim))
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, fmt.Errorf("unterminated YAML frontmatter (missing closing ---)")
	}

	frontmatter := rest[:idx]
	body := strings.TrimSpace(string(rest[idx+len("\n"+delim):]))

	var p Profile
	if err := yaml.Unmarshal(frontmatter, &p); err != nil {
		return nil, fmt.Errorf("invalid YAML frontmatter: %w", err)
	}
	if len(p.Tools) == 0 {
		return nil, fmt.Errorf("profile declares no tools")
	}
	if DepthOf(p.DepthName) == DepthUnknown {
		return nil, fmt.Errorf("invalid profile depth %q", p.DepthName)
	}
	p.Body = body
	return &p, nil
}
