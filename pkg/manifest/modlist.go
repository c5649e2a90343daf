// Package manifest provides the typed representation of a modlist: its
// directive list, archive descriptors, and target layout (spec §3, C1). It
// is loaded once per run and never mutated afterward.
package manifest

import "github.com/nettoneko/hoolamike/pkg/herrors"

// Modlist is the root record loaded from a modlist bundle (spec §3).
type Modlist struct {
	GameID      GameID
	Name        string
	Version     string
	Author      string
	Readme      string
	Archives    []ArchiveDescriptor
	Directives  []Directive

	// archivesByHash indexes Archives by their Hash identity for O(1)
	// lookup; it is built once by Validate/indexArchives and never mutated.
	archivesByHash map[string]*ArchiveDescriptor
}

// ArchiveByHash looks up a declared ArchiveDescriptor by its content hash.
// It returns nil if no such descriptor was declared.
func (m *Modlist) ArchiveByHash(hash string) *ArchiveDescriptor {
	if m.archivesByHash == nil {
		m.indexArchives()
	}
	return m.archivesByHash[hash]
}

func (m *Modlist) indexArchives() {
	m.archivesByHash = make(map[string]*ArchiveDescriptor, len(m.Archives))
	for i := range m.Archives {
		m.archivesByHash[m.Archives[i].Hash] = &m.Archives[i]
	}
}

// Validate checks the structural invariants from spec §3 that don't require
// touching archive bytes: unique target paths (case-insensitively) and that
// every referenced archive hash was declared. Hash-chain reachability into
// nested archives and patch/texture consistency are checked lazily during
// execution, since they require opening archives.
func (m *Modlist) Validate() error {
	m.indexArchives()

	seen := make(map[string]string, len(m.Directives))
	for i := range m.Directives {
		if err := m.validateDirective(&m.Directives[i], seen, false); err != nil {
			return err
		}
	}
	return nil
}

func (m *Modlist) validateDirective(d *Directive, seen map[string]string, isSubDirective bool) error {
	if d.TargetRelativePath == "" {
		return herrors.ManifestError(nil, "directive missing target_relative_path")
	}

	// Uniqueness is enforced within whatever namespace seen represents: the
	// install root for top-level directives, or one CreateBSA directive's
	// own archive root for its sub-directives. Those two namespaces are
	// distinct (spec §3 invariant: sub-directive paths are relative to the
	// archive root, not the install root), which is why each CreateBSA call
	// below passes a fresh map rather than sharing the top-level one.
	key := NormalizeForUniqueness(d.TargetRelativePath)
	if prior, ok := seen[key]; ok {
		return herrors.ManifestError(nil,
			"duplicate target path after case-insensitive normalization: %q collides with %q",
			d.TargetRelativePath, prior)
	}
	seen[key] = d.TargetRelativePath

	switch d.Kind {
	case DirectiveInlineFile, DirectiveRemappedInlineFile:
		if d.SourceDataID == "" {
			return herrors.ManifestError(nil, "%s %q missing source_data_id", d.Kind, d.TargetRelativePath)
		}
	case DirectiveFromArchive:
		if err := m.requireArchive(d); err != nil {
			return err
		}
	case DirectivePatchedFromArchive:
		if err := m.requireArchive(d); err != nil {
			return err
		}
		if d.PatchID == "" {
			return herrors.ManifestError(nil, "patched-from-archive %q missing patch_id", d.TargetRelativePath)
		}
	case DirectiveTransformedTexture:
		if err := m.requireArchive(d); err != nil {
			return err
		}
		if d.Texture.Format == TextureFormatUnknown {
			return herrors.ManifestError(nil, "transformed-texture %q missing target pixel format", d.TargetRelativePath)
		}
	case DirectiveCreateBSA:
		if isSubDirective {
			return herrors.ManifestError(nil, "create-bsa directives cannot be nested")
		}
		if d.BSA.Format == BSAFormatUnknown {
			return herrors.ManifestError(nil, "create-bsa %q missing archive format", d.TargetRelativePath)
		}
		subSeen := make(map[string]string, len(d.BSA.SubDirectives))
		for i := range d.BSA.SubDirectives {
			if err := m.validateDirective(&d.BSA.SubDirectives[i], subSeen, true); err != nil {
				return err
			}
		}
	default:
		return herrors.ManifestError(nil, "unknown directive kind for target %q", d.TargetRelativePath)
	}

	return nil
}

func (m *Modlist) requireArchive(d *Directive) error {
	if len(d.Source.Path) == 0 {
		return herrors.ManifestError(nil, "%s %q has an empty segment path", d.Kind, d.TargetRelativePath)
	}
	if m.ArchiveByHash(d.Source.ArchiveHash) == nil {
		return herrors.ManifestError(nil,
			"%s %q references undeclared archive hash %q",
			d.Kind, d.TargetRelativePath, d.Source.ArchiveHash)
	}
	return nil
}
