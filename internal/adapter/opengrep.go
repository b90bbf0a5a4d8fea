package adapter

import (
	"context"
	"time"
)

// OpengrepAdapter wraps opengrep (semgrep fork) for static analysis.
type OpengrepAdapter struct {
	binDir string
}

func NewOpengrep(binDir string) *OpengrepAdapter {
	return &OpengrepAdapter{binDir: binDir}
}

func (o *OpengrepAdapter) Name() string        { return "opengrep" }
func (o *OpengrepAdapter) Kind() Kind          { return KindSAST }
func (o *OpengrepAdapter) DockerImage() string { return "opengrep/opengrep:latest" }

// opengrep writes rule caches and intermediate state next to the scan root,
// so it always works on a throwaway copy.
func (o *OpengrepAdapter) NeedsWritableCopy() bool { return true }

func (o *OpengrepAdapter) IsAvailableLocal(ctx context.Context) bool {
	return isBinaryAvailable(ctx, "opengrep", o.binDir)
}

func (o *OpengrepAdapter) IsAvailableDocker(ctx context.Context) bool {
	return isDockerAvailable(ctx)
}

func (o *OpengrepAdapter) Launch(ctx context.Context, target Target, timeout time.Duration) (*RawResult, error) {
	args := []string{"scan", "--json", pathToken}
	return launchTool(ctx, o, target, timeout, args, args)
}
