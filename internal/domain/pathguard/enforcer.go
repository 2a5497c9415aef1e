// Package pathguard confines filesystem tool operations to a set of allowed
// roots and denies access to protected directories (the audit log dir in
// particular).
package pathguard

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrNoAllowedRoots is returned by New when allowedRoots is empty and no
// explicit cwd fallback was requested.
var ErrNoAllowedRoots = errors.New("pathguard: at least one allowed root is required")

// Op identifies the filesystem operation being checked, used only for audit
// context (the enforcement logic itself is operation-agnostic).
type Op string

const (
	OpRead Op = "read"
	OpWrite Op = "write"
	OpList Op = "list"
)

// AccessDeniedError is returned by Check when path falls outside every
// allowed root or inside a protected directory. The tool registry maps it
// to a TOOL_ACCESS_DENIED audit event.
type AccessDeniedError struct {
	Path   string
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s (%s)", e.Path, e.Reason)
}

// Enforcer confines all filesystem access to a fixed set of allowed root
// directories, additionally denying any path under a protected directory
// (such as the audit log directory) even if that directory is nested inside
// an allowed root.
type Enforcer struct {
	allowedRoots   []string
	protectedDirs  []string
	logger         *slog.Logger
	usedCwdFallback bool
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithLogger sets the structured logger used for the cwd-fallback warning.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enforcer) { e.logger = logger }
}

// New resolves every allowed root and protected dir to an absolute,
// symlink-expanded path and constructs an Enforcer. Each allowedRoot must
// already exist as a directory. allowCwdFallback, when true and
// allowedRoots is empty, falls back to the current working directory and
// logs a warning — this fallback only happens when explicitly requested.
func New(allowedRoots, protectedDirs []string, allowCwdFallback bool, opts ...Option) (*Enforcer, error) {
	e := &Enforcer{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	if len(allowedRoots) == 0 {
		if !allowCwdFallback {
			return nil, ErrNoAllowedRoots
		}
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("pathguard: resolve cwd fallback: %w", err)
		}
		allowedRoots = []string{cwd}
		e.usedCwdFallback = true
		e.logger.Warn("pathguard: no allowed_paths configured, falling back to current working directory",
			"cwd", cwd)
	}

	for _, root := range allowedRoots {
		resolved, err := resolveExistingDir(root)
		if err != nil {
			return nil, fmt.Errorf("pathguard: allowed root %q: %w", root, err)
		}
		e.allowedRoots = append(e.allowedRoots, resolved)
	}

	for _, dir := range protectedDirs {
		resolved, err := resolveDir(dir)
		if err != nil {
			return nil, fmt.Errorf("pathguard: protected dir %q: %w", dir, err)
		}
		e.protectedDirs = append(e.protectedDirs, resolved)
	}

	return e, nil
}

// Check resolves path to an absolute, symlink-expanded form and verifies it
// is confined to an allowed root and outside every protected directory. On
// success it returns the resolved absolute path for the caller to operate
// on (never the original, possibly-relative input).
func (e *Enforcer) Check(path string, _ Op) (string, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return "", &AccessDeniedError{Path: path, Reason: "could not resolve path: " + err.Error()}
	}

	for _, protected := range e.protectedDirs {
		if isEqualOrWithin(resolved, protected) {
			return "", &AccessDeniedError{Path: path, Reason: "path is inside protected directory " + protected}
		}
	}

	for _, root := range e.allowedRoots {
		if isEqualOrWithin(resolved, root) {
			return resolved, nil
		}
	}

	return "", &AccessDeniedError{Path: path, Reason: "path is outside all allowed roots"}
}

// UsedCwdFallback reports whether New fell back to the current working
// directory because no allowed roots were configured.
func (e *Enforcer) UsedCwdFallback() bool { return e.usedCwdFallback }

// resolveExistingDir resolves dir to an absolute, symlink-expanded path and
// verifies it currently exists and is a directory.
func resolveExistingDir(dir string) (string, error) {
	resolved, err := resolveDir(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}
	return resolved, nil
}

// resolveDir resolves dir to an absolute path, expanding symlinks where the
// path already exists; non-existent protected dirs resolve on their
// textual absolute form so a not-yet-created audit directory can still be
// protected in advance.
func resolveDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

// resolvePath resolves an arbitrary candidate path (which may not exist,
// e.g. a file about to be written) to an absolute, symlink-expanded form.
// When the path itself does not exist, its parent directory is resolved
// instead and the leaf name is re-appended, so writes to new files are
// still confined correctly.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(abs)
	resolvedParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		// Parent doesn't exist either; fall back to the cleaned absolute path.
		return filepath.Clean(abs), nil
	}
	return filepath.Join(resolvedParent, filepath.Base(abs)), nil
}

// isEqualOrWithin reports whether path is equal to, or nested inside, dir.
func isEqualOrWithin(path, dir string) bool {
	if path == dir {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
