package archive

import "testing"

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name   string
		header []byte
		want   FormatTag
	}{
		{"7z", []byte("7z\xBC\xAF\x27\x1C\x00\x04"), Format7z},
		{"zip", []byte("PK\x03\x04\x14\x00\x00\x00"), FormatZip},
		{"rar", []byte("Rar!\x1A\x07\x00\x00"), FormatRar},
		{"ba2", []byte("BTDX\x01\x00\x00\x00"), FormatBA2},
		{"bsa104", []byte{'B', 'S', 'A', 0, 104, 0, 0, 0}, FormatBSA104},
		{"bsa105", []byte{'B', 'S', 'A', 0, 105, 0, 0, 0}, FormatBSA105},
		{"unknown", []byte("garbage!"), FormatUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectFormat(tc.header); got != tc.want {
				t.Fatalf("DetectFormat(%q) = %v, want %v", tc.header, got, tc.want)
			}
		})
	}
}

func TestCaseInsensitiveMatch(t *testing.T) {
	entries := []Entry{
		{Name: "meshes/x.nif", Size: 10},
		{Name: "Textures/Y.dds", Size: 20},
	}

	if _, err := caseInsensitiveMatch(entries, "meshes/x.nif"); err != nil {
		t.Fatalf("exact match failed: %v", err)
	}

	got, err := caseInsensitiveMatch(entries, "textures/y.dds")
	if err != nil {
		t.Fatalf("case-insensitive match failed: %v", err)
	}
	if got.Name != "Textures/Y.dds" {
		t.Fatalf("matched wrong entry: %q", got.Name)
	}

	if _, err := caseInsensitiveMatch(entries, "missing.txt"); err == nil {
		t.Fatalf("expected miss error for absent entry")
	}

	ambiguous := []Entry{{Name: "Foo.esp"}, {Name: "foo.esp"}}
	if _, err := caseInsensitiveMatch(ambiguous, "FOO.ESP"); err == nil {
		t.Fatalf("expected ambiguity error")
	}
}
