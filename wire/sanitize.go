package wire

import (
	"path/filepath"
	"strings"
)

// Sanitize reduces name to a safe basename: path separators stripped, and a
// fallback generated from fallback (the transfer hash) if the result would
// otherwise be empty. It is idempotent: Sanitize(Sanitize(x, h), h) ==
// Sanitize(x, h) for any x, h, and the result never contains a path
// separator and is never empty.
func Sanitize(name, fallback string) string {
	name = strings.TrimSpace(name)
	name = filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, "\\", "/")))

	switch name {
	case "", ".", "/", string(filepath.Separator):
		return fallbackName(fallback)
	}
	return name
}

func fallbackName(fallback string) string {
	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		return "unnamed"
	}
	return "dragit-" + fallback
}
