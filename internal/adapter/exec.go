package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const stderrKeep = 4096

// launchTool is the shared execution path for every adapter. It prepares a
// scratch directory, builds the local or docker command, enforces the
// wall-clock timeout and classifies failures into the adapter error taxonomy.
// The scratch directory is destroyed after result collection.
func launchTool(ctx context.Context, a Adapter, target Target, timeout time.Duration, localArgs, dockerArgs []string) (*RawResult, error) {
	name := a.Name()

	useDocker := target.UseDocker
	if !useDocker && !a.IsAvailableLocal(ctx) {
		if a.IsAvailableDocker(ctx) {
			useDocker = true
		} else {
			return nil, &Error{Tool: name, Kind: ErrToolUnavailable,
				Err: fmt.Errorf("binary not found in %s or PATH, docker unavailable", target.BinDir)}
		}
	}

	scratch, err := os.MkdirTemp(scratchParent(target), "scangate-"+name+"-*")
	if err != nil {
		return nil, &Error{Tool: name, Kind: ErrExecution, Err: fmt.Errorf("creating scratch dir: %w", err)}
	}
	defer os.RemoveAll(scratch)

	scanPath := target.Path
	if a.NeedsWritableCopy() {
		// Never let a write-needing tool touch the caller's snapshot.
		copyPath := filepath.Join(scratch, "target")
		if err := copyTree(target.Path, copyPath); err != nil {
			return nil, &Error{Tool: name, Kind: ErrExecution, Err: fmt.Errorf("copying target: %w", err)}
		}
		scanPath = copyPath
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if useDocker {
		cmd = dockerCmd(runCtx, a.DockerImage(), scanPath, target.AllowNetwork, dockerArgs)
	} else {
		bin := resolveBinary(name, target.BinDir)
		args := replacePathToken(localArgs, scanPath)
		// nosemgrep: go.lang.security.audit.dangerous-exec-command.dangerous-exec-command
		cmd = exec.CommandContext(runCtx, bin, args...)
		cmd.Dir = scratch
		cmd.Env = append(os.Environ(), "TMPDIR="+scratch)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&stderr)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &Error{Tool: name, Kind: ErrTimeout,
			Err: fmt.Errorf("killed after %s", timeout)}
	}
	if ctx.Err() != nil {
		// Run-level cancellation, not a tool fault.
		return nil, ctx.Err()
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		// Tools signal "findings present" with a nonzero exit while still
		// producing parseable output. Only treat it as a failure when the
		// tool produced nothing to parse.
		if stdout.Len() == 0 {
			return nil, &Error{Tool: name, Kind: ErrExecution,
				Err: fmt.Errorf("exit %d: %s", exitCode, truncate(stderr.String(), stderrKeep))}
		}
	}

	return &RawResult{
		Tool:     name,
		Kind:     a.Kind(),
		ExitCode: exitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   truncate(stderr.String(), stderrKeep),
		Elapsed:  elapsed,
	}, nil
}

// dockerCmd builds the container invocation. The target is mounted read-only
// at /scan; networking is disabled unless the profile granted it.
func dockerCmd(ctx context.Context, image, scanPath string, allowNetwork bool, args []string) *exec.Cmd {
	dockerArgs := []string{"run", "--rm"}
	if !allowNetwork {
		dockerArgs = append(dockerArgs, "--network", "none")
	}
	dockerArgs = append(dockerArgs, "-v", scanPath+":/scan:ro", image)
	dockerArgs = append(dockerArgs, replacePathToken(args, "/scan")...)
	return exec.CommandContext(ctx, "docker", dockerArgs...)
}

// pathToken marks where the scan path is substituted into adapter arg lists.
const pathToken = "{path}"

func replacePathToken(args []string, path string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = strings.ReplaceAll(arg, pathToken, path)
	}
	return out
}

func scratchParent(target Target) string {
	if target.ScratchDir != "" {
		return target.ScratchDir
	}
	return os.TempDir()
}

// isDockerAvailable returns true if the Docker daemon is reachable.
func isDockerAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "docker", "info", "--format", "{{.ServerVersion}}")
	return cmd.Run() == nil
}

// isBinaryAvailable checks if name is executable in PATH or binDir.
func isBinaryAvailable(ctx context.Context, name, binDir string) bool {
	if binDir != "" {
		candidate := filepath.Join(binDir, name)
		cmd := exec.CommandContext(ctx, candidate, "--version")
		if cmd.Run() == nil {
			return true
		}
	}
	if _, err := exec.LookPath(name); err != nil {
		return false
	}
	cmd := exec.CommandContext(ctx, name, "--version")
	return cmd.Run() == nil
}

// resolveBinary returns the full path of name from binDir or PATH.
func resolveBinary(name, binDir string) string {
	if binDir != "" {
		candidate := filepath.Join(binDir, name)
		if p, err := exec.LookPath(candidate); err == nil {
			return p
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return name
}

// copyTree copies src into dst preserving file modes. Symlinks are skipped:
// the copy exists so a tool can write next to sources, not to mirror links
// pointing outside the snapshot.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		out := filepath.Join(dst, rel)
		switch {
		case info.IsDir():
			return os.MkdirAll(out, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			return nil
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return os.WriteFile(out, data, info.Mode().Perm())
		}
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
