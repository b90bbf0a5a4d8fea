package adapter

import (
	"context"
	"time"
)

// TrufflehogAdapter wraps trufflehog for secret detection.
type TrufflehogAdapter struct {
	binDir string
}

func NewTrufflehog(binDir string) *TrufflehogAdapter {
	return &TrufflehogAdapter{binDir: binDir}
}

func (t *TrufflehogAdapter) Name() string            { return "trufflehog" }
func (t *TrufflehogAdapter) Kind() Kind              { return KindSecrets }
func (t *TrufflehogAdapter) DockerImage() string     { return "trufflesecurity/trufflehog:latest" }
func (t *TrufflehogAdapter) NeedsWritableCopy() bool { return false }

func (t *TrufflehogAdapter) IsAvailableLocal(ctx context.Context) bool {
	return isBinaryAvailable(ctx, "trufflehog", t.binDir)
}

func (t *TrufflehogAdapter) IsAvailableDocker(ctx context.Context) bool {
	return isDockerAvailable(ctx)
}

func (t *TrufflehogAdapter) Launch(ctx context.Context, target Target, timeout time.Duration) (*RawResult, error) {
	// --no-update: no outbound detector refresh; network is off by default.
	args := []string{"filesystem", pathToken, "--json", "--no-update"}
	return launchTool(ctx, t, target, timeout, args, args)
}
