package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deepchat/internal/domain"
)

// Sandbox enforces path constraints for file operations.
type Sandbox struct {
	root string // absolute, resolved working directory
}

// NewSandbox creates a sandbox rooted at the given directory.
// The directory is created if it does not exist.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}

	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for sandbox root: %w", err)
	}

	return &Sandbox{root: resolved}, nil
}

// ValidatePath checks that a requested path resolves to within the sandbox.
// It resolves symlinks AFTER computing the absolute path. Paths that do not
// exist yet are validated through their parent directory.
func (s *Sandbox) ValidatePath(requested string) (string, error) {
	if !filepath.IsAbs(requested) {
		requested = filepath.Join(s.root, requested)
	}

	abs, err := filepath.Abs(requested)
	if err != nil {
		return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutsideSandbox, err.Error())
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		parent := filepath.Dir(abs)
		resolvedParent, err2 := filepath.EvalSymlinks(parent)
		if err2 != nil {
			// Parent may not exist either (nested write); fall back to
			// lexical containment of the unresolved path.
			if s.isWithinRoot(abs) {
				return abs, nil
			}
			return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutsideSandbox, err2.Error())
		}
		resolved = filepath.Join(resolvedParent, filepath.Base(abs))
	}

	if !s.isWithinRoot(resolved) {
		return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutsideSandbox,
			fmt.Sprintf("resolved %q is outside root %q", resolved, s.root))
	}

	return resolved, nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

func (s *Sandbox) isWithinRoot(path string) bool {
	return path == s.root || strings.HasPrefix(path, s.root+string(os.PathSeparator))
}
