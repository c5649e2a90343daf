package archive

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nettoneko/hoolamike/pkg/herrors"
)

// LocalDescriptorLocator builds a DescriptorLocator that resolves an
// ArchiveDescriptor's hash to a file already present under root (e.g. the
// target game's own installation directory) rather than a downloaded
// archive, per nameByHash. It implements spec §4.5's case-insensitive local
// copy fallback: when the exact relative name is absent, root is scanned
// case-insensitively; a single match is used, zero or multiple matches fail.
func LocalDescriptorLocator(root string, nameByHash map[string]string) DescriptorLocator {
	return func(hash string) (string, error) {
		relativePath, ok := nameByHash[hash]
		if !ok {
			return "", herrors.ArchiveMissError(nil, "no local source registered for archive hash %q", hash)
		}

		candidate := filepath.Join(root, filepath.FromSlash(relativePath))
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		dir := filepath.Dir(candidate)
		wantLower := strings.ToLower(filepath.Base(candidate))

		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", herrors.IOError(err, false, "unable to list %q for case-insensitive lookup of %q", dir, relativePath)
		}

		var matches []string
		for _, entry := range entries {
			if strings.ToLower(entry.Name()) == wantLower {
				matches = append(matches, entry.Name())
			}
		}
		sort.Strings(matches)

		switch len(matches) {
		case 0:
			return "", herrors.ArchiveMissError(nil, "no local file matching %q (case-insensitively) in %q", relativePath, dir)
		case 1:
			return filepath.Join(dir, matches[0]), nil
		default:
			return "", herrors.ArchiveMissError(nil, "ambiguous case-insensitive local match for %q in %q: %v", relativePath, dir, matches)
		}
	}
}
