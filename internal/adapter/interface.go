// Package adapter is the isolation and translation boundary around one
// underlying security tool. Each adapter launches its tool against a
// read-only view of the target, enforces a hard wall-clock timeout and
// returns the tool's raw output for normalization. Adapters never parse
// findings themselves.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies the category of tool.
type Kind string

const (
	KindSCA     Kind = "sca"     // dependency vulnerabilities (grype)
	KindSAST    Kind = "sast"    // static analysis (opengrep)
	KindSecrets Kind = "secrets" // secret detection (trufflehog)
	KindConfig  Kind = "iac"     // configuration / IaC issues (trivy)
)

// Target is the repository snapshot an adapter scans. The path is exposed to
// the tool read-only; tools that need write access get a throwaway copy.
type Target struct {
	// Path is the filesystem path to the repository snapshot.
	Path string
	// AllowNetwork grants the tool outbound network access. Off unless the
	// active profile explicitly requires it.
	AllowNetwork bool
	// UseDocker forces container execution even if a local binary exists.
	UseDocker bool
	// BinDir is where scangate stores tool binaries.
	BinDir string
	// ScratchDir is the parent for the per-launch throwaway work directory.
	ScratchDir string
}

// RawResult holds the unparsed output of one tool launch.
type RawResult struct {
	// Tool identifier (e.g. "grype").
	Tool string
	// Kind of tool.
	Kind Kind
	// ExitCode of the underlying process.
	ExitCode int
	// Stdout is the tool's structured output (JSON or NDJSON).
	Stdout []byte
	// Stderr is retained for diagnostics, truncated by the exec helper.
	Stderr string
	// Elapsed is the wall-clock launch duration.
	Elapsed time.Duration
}

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	// ErrToolUnavailable: binary and docker image both missing. The run
	// proceeds without this tool; recorded as a non-fatal gap.
	ErrToolUnavailable ErrorKind = "tool_unavailable"
	// ErrExecution: nonzero exit not attributable to findings.
	ErrExecution ErrorKind = "execution_error"
	// ErrTimeout: the per-adapter wall-clock budget elapsed and the
	// process was forcibly terminated.
	ErrTimeout ErrorKind = "timeout"
)

// Error is the classified failure of one adapter launch.
type Error struct {
	Tool string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Tool, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Adapter is the uniform interface every security tool integration implements.
// To add a new tool:
//  1. Create a new file in internal/adapter/ (e.g. mynewtool.go)
//  2. Implement the Adapter interface
//  3. Register it in Build()
type Adapter interface {
	// Name returns the tool identifier (e.g. "grype").
	Name() string

	// Kind returns the category this tool belongs to.
	Kind() Kind

	// DockerImage returns the container image used as a fallback.
	DockerImage() string

	// IsAvailableLocal checks if the local binary is present and executable.
	IsAvailableLocal(ctx context.Context) bool

	// IsAvailableDocker checks if the Docker daemon is reachable.
	IsAvailableDocker(ctx context.Context) bool

	// NeedsWritableCopy reports whether the tool must write inside the
	// target tree. When true the launcher scans a throwaway copy, never
	// the caller's snapshot.
	NeedsWritableCopy() bool

	// Launch runs the tool against target and returns its raw output.
	// The timeout is a hard bound: on expiry the underlying process or
	// container is killed and a *Error with Kind=ErrTimeout is returned.
	Launch(ctx context.Context, target Target, timeout time.Duration) (*RawResult, error)
}

// Build constructs Adapter instances for the given tool names.
// binDir is where local tool binaries are expected.
// Unknown names are skipped; the orchestrator records the gap.
func Build(names []string, binDir string) []Adapter {
	out := make([]Adapter, 0, len(names))
	for _, name := range names {
		switch name {
		case "grype":
			out = append(out, NewGrype(binDir))
		case "opengrep":
			out = append(out, NewOpengrep(binDir))
		case "trufflehog":
			out = append(out, NewTrufflehog(binDir))
		case "trivy":
			out = append(out, NewTrivy(binDir))
		}
	}
	return out
}
