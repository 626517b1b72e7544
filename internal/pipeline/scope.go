package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ScopeConfig defines which paths may be scanned.
// An empty ScopeConfig (no roots) allows any target.
type ScopeConfig struct {
	// AllowedRoots lists directories a target must sit inside.
	// A trailing "*" segment ("/srv/repos/*") matches any single child of
	// that directory, and everything below it, but not the directory itself.
	AllowedRoots []string
}

// ValidateTarget checks if a path is within scope.
// Returns nil if allowed, error if out of scope.
func (s *ScopeConfig) ValidateTarget(target string) error {
	if s == nil || len(s.AllowedRoots) == 0 {
		return nil
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("scope: resolving %q: %w", target, err)
	}
	for _, root := range s.AllowedRoots {
		if pathMatches(abs, root) {
			return nil
		}
	}
	return fmt.Errorf("target %q is outside allowed scope (roots: %s)",
		target, strings.Join(s.AllowedRoots, ", "))
}

// pathMatches reports whether target lies inside root.
//
//   - "/srv/app" matches "/srv/app" and "/srv/app/web" but not "/srv/application".
//   - "/srv/*" matches "/srv/app" and "/srv/app/web" but not "/srv".
func pathMatches(target, root string) bool {
	root = filepath.Clean(root)
	if strings.HasSuffix(root, string(filepath.Separator)+"*") {
		parent := strings.TrimSuffix(root, string(filepath.Separator)+"*")
		rel, ok := within(target, parent)
		return ok && rel != "."
	}
	_, ok := within(target, root)
	return ok
}

func within(target, root string) (string, bool) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
