// Package planner implements the Directive Planner (C4, spec §4.4): it
// groups a Modlist's directives into ordered Phases by kind, applies
// skip-kind filters, and attaches each phase's required archives/patch
// bases so the Archive Access Layer and Patch Base Provider can preheat
// ahead of execution.
package planner

import (
	"github.com/nettoneko/hoolamike/pkg/manifest"
)

// Phase groups all directives of one kind to be executed together (spec
// §3's GLOSSARY, §4.4).
type Phase struct {
	Kind       manifest.DirectiveKind
	Directives []manifest.Directive

	// RequiredArchiveHashes is the union of root ArchiveDescriptor hashes
	// this phase will consult, for the Supervisor to preheat ahead of
	// execution (spec §4.4, §4.7).
	RequiredArchiveHashes []string

	// RequiredPatchBases is the set of (archive_segments, file) tuples this
	// phase's PatchedFromArchive directives will need from C3, along with
	// how many directives reference each (for refcounting).
	RequiredPatchBases []PatchBaseRequirement
}

// PatchBaseRequirement names one patch base this phase needs and how many
// directives will read it, so the Patch Base Provider can refcount release
// correctly (spec §4.3).
type PatchBaseRequirement struct {
	Source   manifest.NestedArchiveRef
	RefCount int
}

// Options configures planning: user-supplied skip-kind filters (spec §4.4,
// §6). The skip-verify flag is not a planning input; it is carried on
// executor.Options.
type Options struct {
	// SkipKinds lists directive kinds to omit entirely. Per spec §9's Open
	// Question, this applies only to top-level directives; CreateBSA's
	// sub-directives are never filtered by it, matching the documented
	// source behavior.
	SkipKinds map[manifest.DirectiveKind]bool
}

// Plan partitions modlist's directives into the canonical ordered phases
// (spec §4.4): inline-file, remapped-inline-file, from-archive,
// patched-from-archive, transformed-texture, create-bsa. Plan is pure and
// side-effect-free, so it may be called speculatively for a --dry-run
// report without touching the filesystem.
func Plan(modlist *manifest.Modlist, opts Options) []Phase {
	buckets := make(map[manifest.DirectiveKind][]manifest.Directive, len(manifest.KindOrder))

	for _, d := range modlist.Directives {
		if opts.SkipKinds[d.Kind] {
			continue
		}
		buckets[d.Kind] = append(buckets[d.Kind], d)
	}

	phases := make([]Phase, 0, len(manifest.KindOrder))
	for _, kind := range manifest.KindOrder {
		directives := buckets[kind]
		if len(directives) == 0 {
			continue
		}
		phases = append(phases, Phase{
			Kind:                  kind,
			Directives:            directives,
			RequiredArchiveHashes: requiredArchives(directives),
			RequiredPatchBases:    requiredPatchBases(directives),
		})
	}

	return phases
}

// requiredArchives collects the union of root archive hashes a phase's
// directives will consult, including CreateBSA's sub-directives (which are
// always executed regardless of top-level skip-kind filters, spec §9).
func requiredArchives(directives []manifest.Directive) []string {
	seen := make(map[string]bool)
	var hashes []string
	var visit func(d *manifest.Directive)
	visit = func(d *manifest.Directive) {
		switch d.Kind {
		case manifest.DirectiveFromArchive, manifest.DirectivePatchedFromArchive, manifest.DirectiveTransformedTexture:
			if h := d.Source.ArchiveHash; h != "" && !seen[h] {
				seen[h] = true
				hashes = append(hashes, h)
			}
		case manifest.DirectiveCreateBSA:
			for i := range d.BSA.SubDirectives {
				visit(&d.BSA.SubDirectives[i])
			}
		}
	}
	for i := range directives {
		visit(&directives[i])
	}
	return hashes
}

// requiredPatchBases collects the set of patch bases a phase's
// PatchedFromArchive directives (including those nested in CreateBSA) will
// need, with reference counts for C3 (spec §4.3).
func requiredPatchBases(directives []manifest.Directive) []PatchBaseRequirement {
	counts := make(map[string]*PatchBaseRequirement)
	var order []string
	var visit func(d *manifest.Directive)
	visit = func(d *manifest.Directive) {
		switch d.Kind {
		case manifest.DirectivePatchedFromArchive:
			key := d.Source.ArchiveHash
			for _, seg := range d.Source.Path {
				key += "/" + seg.Name
			}
			req, ok := counts[key]
			if !ok {
				req = &PatchBaseRequirement{Source: d.Source}
				counts[key] = req
				order = append(order, key)
			}
			req.RefCount++
		case manifest.DirectiveCreateBSA:
			for i := range d.BSA.SubDirectives {
				visit(&d.BSA.SubDirectives[i])
			}
		}
	}
	for i := range directives {
		visit(&directives[i])
	}

	result := make([]PatchBaseRequirement, 0, len(order))
	for _, key := range order {
		result = append(result, *counts[key])
	}
	return result
}
