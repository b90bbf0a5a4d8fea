package adapter

import (
	"context"
	"time"
)

// TrivyAdapter wraps trivy for configuration/IaC misconfiguration scanning.
type TrivyAdapter struct {
	binDir string
}

func NewTrivy(binDir string) *TrivyAdapter {
	return &TrivyAdapter{binDir: binDir}
}

func (t *TrivyAdapter) Name() string            { return "trivy" }
func (t *TrivyAdapter) Kind() Kind              { return KindConfig }
func (t *TrivyAdapter) DockerImage() string     { return "aquasec/trivy:latest" }
func (t *TrivyAdapter) NeedsWritableCopy() bool { return false }

func (t *TrivyAdapter) IsAvailableLocal(ctx context.Context) bool {
	return isBinaryAvailable(ctx, "trivy", t.binDir)
}

func (t *TrivyAdapter) IsAvailableDocker(ctx context.Context) bool {
	return isDockerAvailable(ctx)
}

func (t *TrivyAdapter) Launch(ctx context.Context, target Target, timeout time.Duration) (*RawResult, error) {
	args := []string{
		"fs", pathToken,
		"--format", "json",
		"--scanners", "misconfig",
		"--exit-code", "0", // always exit 0 so output stays parseable
	}
	return launchTool(ctx, t, target, timeout, args, args)
}
