package planner

import (
	"testing"

	"github.com/nettoneko/hoolamike/pkg/manifest"
)

func TestPlanOrdersPhasesCanonically(t *testing.T) {
	modlist := &manifest.Modlist{
		Directives: []manifest.Directive{
			{Kind: manifest.DirectiveCreateBSA, TargetRelativePath: "out.bsa", BSA: struct {
				Format        manifest.BSAFormat
				Game          manifest.GameID
				CompressionOn bool
				Flags         uint32
				SubDirectives []manifest.Directive
			}{Format: manifest.BSAFormatBSA105}},
			{Kind: manifest.DirectiveInlineFile, TargetRelativePath: "a.txt", ExpectedHash: "h1", SourceDataID: "id1"},
			{Kind: manifest.DirectiveFromArchive, TargetRelativePath: "b.nif", ExpectedHash: "h2",
				Source: manifest.NestedArchiveRef{ArchiveHash: "archive-hash", Path: manifest.SegmentPath{{Name: "b.nif"}}}},
		},
	}

	phases := Plan(modlist, Options{})
	if len(phases) != 3 {
		t.Fatalf("expected 3 phases, got %d", len(phases))
	}
	if phases[0].Kind != manifest.DirectiveInlineFile {
		t.Fatalf("expected inline-file phase first, got %v", phases[0].Kind)
	}
	if phases[1].Kind != manifest.DirectiveFromArchive {
		t.Fatalf("expected from-archive phase second, got %v", phases[1].Kind)
	}
	if phases[2].Kind != manifest.DirectiveCreateBSA {
		t.Fatalf("expected create-bsa phase last, got %v", phases[2].Kind)
	}
	if len(phases[1].RequiredArchiveHashes) != 1 || phases[1].RequiredArchiveHashes[0] != "archive-hash" {
		t.Fatalf("expected from-archive phase to require archive-hash, got %v", phases[1].RequiredArchiveHashes)
	}
}

func TestPlanSkipKindOmitsTopLevelOnly(t *testing.T) {
	modlist := &manifest.Modlist{
		Directives: []manifest.Directive{
			{Kind: manifest.DirectiveInlineFile, TargetRelativePath: "a.txt", ExpectedHash: "h1", SourceDataID: "id1"},
			{Kind: manifest.DirectiveCreateBSA, TargetRelativePath: "out.bsa", BSA: struct {
				Format        manifest.BSAFormat
				Game          manifest.GameID
				CompressionOn bool
				Flags         uint32
				SubDirectives []manifest.Directive
			}{
				Format: manifest.BSAFormatBSA105,
				SubDirectives: []manifest.Directive{
					{Kind: manifest.DirectiveInlineFile, TargetRelativePath: "inner.txt", ExpectedHash: "h3", SourceDataID: "id3"},
				},
			}},
		},
	}

	phases := Plan(modlist, Options{SkipKinds: map[manifest.DirectiveKind]bool{manifest.DirectiveInlineFile: true}})
	if len(phases) != 1 {
		t.Fatalf("expected only the create-bsa phase to survive, got %d phases", len(phases))
	}
	if phases[0].Kind != manifest.DirectiveCreateBSA {
		t.Fatalf("expected create-bsa phase, got %v", phases[0].Kind)
	}
	if len(phases[0].Directives[0].BSA.SubDirectives) != 1 {
		t.Fatalf("expected create-bsa's inline sub-directive to survive skip-kind filtering")
	}
}
