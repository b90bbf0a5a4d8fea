package adapter

import (
	"context"
	"time"
)

// GrypeAdapter wraps grype for dependency vulnerability scanning.
type GrypeAdapter struct {
	binDir string
}

func NewGrype(binDir string) *GrypeAdapter {
	return &GrypeAdapter{binDir: binDir}
}

func (g *GrypeAdapter) Name() string            { return "grype" }
func (g *GrypeAdapter) Kind() Kind              { return KindSCA }
func (g *GrypeAdapter) DockerImage() string     { return "anchore/grype:latest" }
func (g *GrypeAdapter) NeedsWritableCopy() bool { return false }

func (g *GrypeAdapter) IsAvailableLocal(ctx context.Context) bool {
	return isBinaryAvailable(ctx, "grype", g.binDir)
}

func (g *GrypeAdapter) IsAvailableDocker(ctx context.Context) bool {
	return isDockerAvailable(ctx)
}

func (g *GrypeAdapter) Launch(ctx context.Context, target Target, timeout time.Duration) (*RawResult, error) {
	// grype exits non-zero when vulnerabilities are found; the exec helper
	// accepts any exit that still produced output.
	localArgs := []string{"dir:" + pathToken, "-o", "json"}
	dockerArgs := []string{"dir:" + pathToken, "-o", "json"}
	return launchTool(ctx, g, target, timeout, localArgs, dockerArgs)
}
