package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/CosmoTheDev/scangate/internal/config"
	"github.com/CosmoTheDev/scangate/models"
)

// ErrInvalidTarget marks user errors in the run request. Runs rejected with
// it never leave the pending state.
var ErrInvalidTarget = errors.New("invalid target")

// ValidateTarget checks the target path against the allowed roots and, when
// the path is a git repository, resolves the requested ref to a concrete
// commit hash. A non-repository directory target is allowed only when no
// commit ref was requested.
func ValidateTarget(cfg *config.Config, target models.RunTarget) (resolvedCommit string, err error) {
	path := strings.TrimSpace(target.RepositoryPath)
	if path == "" {
		return "", fmt.Errorf("%w: repository_path is required", ErrInvalidTarget)
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: repository_path must be absolute, got %q", ErrInvalidTarget, path)
	}
	path = filepath.Clean(path)

	info, statErr := os.Stat(path)
	if statErr != nil {
		return "", fmt.Errorf("%w: %q does not exist", ErrInvalidTarget, path)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %q is not a directory", ErrInvalidTarget, path)
	}

	if roots := cfg.Runs.AllowedRoots; len(roots) > 0 {
		allowed := false
		for _, root := range roots {
			root = filepath.Clean(root)
			if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", fmt.Errorf("%w: %q is outside the allowed scan roots", ErrInvalidTarget, path)
		}
	}

	repo, openErr := git.PlainOpen(path)
	if openErr != nil {
		if target.CommitRef != "" {
			return "", fmt.Errorf("%w: commit ref %q given but %q is not a git repository", ErrInvalidTarget, target.CommitRef, path)
		}
		// Plain directory scan, nothing to resolve.
		return "", nil
	}

	ref := target.CommitRef
	if ref == "" {
		ref = "HEAD"
	}
	hash, resolveErr := repo.ResolveRevision(plumbing.Revision(ref))
	if resolveErr != nil {
		return "", fmt.Errorf("%w: cannot resolve ref %q in %q: %v", ErrInvalidTarget, ref, path, resolveErr)
	}
	return hash.String(), nil
}
