// Package pathsafe validates untrusted identifiers before they are joined
// into filesystem paths. Every path the store constructs goes through here;
// a failure is treated as an attack or a bug, never as ordinary I/O error.
package pathsafe

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/json420/dmedia/core/common"
)

// idAlphabet is the RFC 4648 base32 alphabet content ids are encoded with.
const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// ValidateID accepts only strings of exactly idLen characters drawn from
// the base32 alphabet. Anything else, including '.', '/' or a lowercase
// letter, is rejected.
func ValidateID(id string, idLen int) error {
	if len(id) != idLen {
		return common.NewErrorf("invalid_id", "id must be %d characters, got %d", idLen, len(id))
	}
	for i := 0; i < len(id); i++ {
		if !strings.ContainsRune(idAlphabet, rune(id[i])) {
			return common.NewErrorf("invalid_id", "id contains byte %q outside the base32 alphabet", id[i])
		}
	}
	return nil
}

// ValidateExt accepts lowercase ASCII letters/digits with at most one
// internal dot (so "mov" and "tar.gz" pass, ".mov", "a/b" and "" do not).
func ValidateExt(ext string) error {
	if ext == "" {
		return common.NewError("invalid_extension", "extension is empty")
	}
	dots := 0
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '.':
			dots++
			if dots > 1 || i == 0 || i == len(ext)-1 {
				return common.NewErrorf("invalid_extension", "bad dot placement in %q", ext)
			}
		default:
			return common.NewErrorf("invalid_extension", "extension %q contains byte %q", ext, c)
		}
	}
	return nil
}

// Join joins parts onto base and verifies the normalized absolute result is
// still strictly inside base, whatever the parts contain. Symlinks in the
// existing portion of the result are resolved first, so a link pointing
// outside base fails the containment check like any other escape.
func Join(base string, parts ...string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", common.NewError("path_traversal", "cannot resolve base: "+err.Error())
	}
	for _, part := range parts {
		if filepath.IsAbs(part) {
			return "", common.NewErrorf("path_traversal", "absolute path %q injected into %q", part, absBase)
		}
	}
	joined := filepath.Join(append([]string{absBase}, parts...)...)

	resolvedBase, err := resolveExisting(absBase)
	if err != nil {
		return "", common.NewError("path_traversal", "cannot resolve base: "+err.Error())
	}
	resolved, err := resolveExisting(joined)
	if err != nil {
		return "", common.NewError("path_traversal", "cannot resolve joined path: "+err.Error())
	}
	if !strings.HasPrefix(resolved, resolvedBase+string(os.PathSeparator)) {
		return "", common.NewErrorf("path_traversal", "%q escapes base %q", joined, absBase)
	}
	return joined, nil
}

// resolveExisting evaluates symlinks in the longest existing prefix of p and
// rejoins the rest, so paths that do not exist yet can still be checked.
func resolveExisting(p string) (string, error) {
	suffix := ""
	for {
		r, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(r, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
		parent := filepath.Dir(p)
		if parent == p {
			return filepath.Join(p, suffix), nil
		}
		p = parent
	}
}

// EnsureParentDir is Join followed by creation of the containing directory.
func EnsureParentDir(base string, parts ...string) (string, error) {
	p, err := Join(base, parts...)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return "", err
	}
	return p, nil
}
