// Package security guards the paths the process writes to and serves from.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolveWithin joins name onto dir and returns the result if it stays
// inside dir once symlinks are resolved. name must be relative.
func ResolveWithin(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("path %q must be relative", name)
	}
	base, err := canonical(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	target, err := canonical(filepath.Join(base, name))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %s", name, dir)
	}
	return target, nil
}

// canonical returns the absolute form of p with symlinks resolved. When p
// does not exist yet, its nearest existing ancestor is resolved instead so
// a symlinked parent cannot redirect a new file.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	rest := ""
	for cur := abs; ; {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

// SanitizeFilename makes a file name component from an arbitrary string
// such as a camera name. Characters other than ASCII letters, digits, dot,
// underscore and dash become a single underscore.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
