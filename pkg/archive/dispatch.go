package archive

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"

	"github.com/nettoneko/hoolamike/pkg/herrors"
	"github.com/nettoneko/hoolamike/pkg/logging"
)

// Dispatcher tries each registered ArchiveReaderFactory tier in order until
// one succeeds, implementing spec §4.2's fallback chain: native library,
// then 7z-fallback library, then the `7z` CLI. LZMA method-14 archives skip
// straight to the CLI tier, per the same section.
type Dispatcher struct {
	tiers           []ArchiveReaderFactory
	cliTier         ArchiveReaderFactory
	isLZMAMethod14  LZMAMethod14Detector
	logger          *logging.Logger
}

// NewDispatcher constructs a Dispatcher. tiers are tried in order before
// cliTier; isLZMAMethod14 may be nil, in which case the fast-path skip to
// the CLI tier never triggers.
func NewDispatcher(tiers []ArchiveReaderFactory, cliTier ArchiveReaderFactory, isLZMAMethod14 LZMAMethod14Detector, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{tiers: tiers, cliTier: cliTier, isLZMAMethod14: isLZMAMethod14, logger: logger}
}

// Open resolves format at path, trying tiers in the documented order.
func (d *Dispatcher) Open(format FormatTag, path string) (ArchiveReader, error) {
	if format == Format7z && d.isLZMAMethod14 != nil {
		if is14, err := d.isLZMAMethod14(path); err == nil && is14 {
			d.logger.Debugf("%s: detected LZMA method-14, dispatching directly to CLI fallback", path)
			return d.openWithRenormalization(d.cliTier, format, path)
		}
	}

	var lastErr error
	for _, tier := range d.tiers {
		reader, err := d.openWithRenormalization(tier, format, path)
		if err == nil {
			return reader, nil
		}
		lastErr = err
		d.logger.Debugf("%s: tier failed, trying next: %v", path, err)
	}

	if d.cliTier != nil {
		reader, err := d.openWithRenormalization(d.cliTier, format, path)
		if err == nil {
			return reader, nil
		}
		lastErr = err
	}

	return nil, herrors.ArchiveFormatError(lastErr, "no dispatch tier could open %q as %s", path, format)
}

func (d *Dispatcher) openWithRenormalization(factory ArchiveReaderFactory, format FormatTag, path string) (ArchiveReader, error) {
	if factory == nil {
		return nil, errors.New("no factory registered for this tier")
	}
	reader, err := factory.OpenFormat(format, path)
	if err != nil {
		return nil, err
	}
	return &renormalizingReader{ArchiveReader: reader}, nil
}

// renormalizingReader wraps an ArchiveReader so that every entry name it
// reports has been re-normalized from CP-1252 (the encoding legacy Windows
// archive tools use for non-ASCII member names) to UTF-8, per spec §4.2.
// Since ReadEntry takes a name back from the caller, it remembers the
// original (pre-renormalization) name each normalized name came from so
// reads still reach the underlying factory correctly.
type renormalizingReader struct {
	ArchiveReader
	cached       []Entry
	originalName map[string]string
}

func (r *renormalizingReader) ListEntries() ([]Entry, error) {
	if r.cached != nil {
		return r.cached, nil
	}
	entries, err := r.ArchiveReader.ListEntries()
	if err != nil {
		return nil, err
	}
	decoder := charmap.Windows1252.NewDecoder()
	normalized := make([]Entry, len(entries))
	r.originalName = make(map[string]string, len(entries))
	for i, e := range entries {
		original := e.Name
		name := original
		if looksLikeMisdecodedCP1252(name) {
			if fixed, err := decoder.String(name); err == nil {
				name = fixed
			}
		}
		e.Name = name
		normalized[i] = e
		r.originalName[name] = original
	}
	r.cached = normalized
	return normalized, nil
}

func (r *renormalizingReader) ReadEntry(name string) (io.ReadCloser, error) {
	if original, ok := r.originalName[name]; ok {
		return r.ArchiveReader.ReadEntry(original)
	}
	return r.ArchiveReader.ReadEntry(name)
}

// looksLikeMisdecodedCP1252 is a cheap heuristic: a name containing a byte in
// the C1 control range (0x80-0x9F) decoded as Latin-1 almost never occurs in
// a genuinely UTF-8 or ASCII path, but is exactly the range CP-1252 maps to
// printable characters (smart quotes, accented letters used by some EU
// modding communities), per spec §4.2.
func looksLikeMisdecodedCP1252(name string) bool {
	for i := 0; i < len(name); i++ {
		b := name[i]
		if b >= 0x80 && b <= 0x9F {
			return true
		}
	}
	return false
}
