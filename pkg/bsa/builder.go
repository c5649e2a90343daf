package bsa

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/nettoneko/hoolamike/pkg/executor"
	"github.com/nettoneko/hoolamike/pkg/manifest"
)

var _ executor.BSABuilderFactory = Factory{}
var _ executor.BSABuilderSession = (*Session)(nil)

// magicFor returns the container signature archive.DetectFormat recognizes
// for format (spec §4.6, spec §3's archive.go signature table).
func magicFor(format manifest.BSAFormat) ([]byte, uint32, error) {
	switch format {
	case manifest.BSAFormatBSA104:
		return []byte("BSA\x00"), 104, nil
	case manifest.BSAFormatBSA105:
		return []byte("BSA\x00"), 105, nil
	case manifest.BSAFormatBA2General:
		return []byte("BTDX"), 1, nil
	case manifest.BSAFormatBA2Textures:
		return []byte("BTDX"), 1, nil
	default:
		return nil, 0, errors.Errorf("unsupported output archive format %v", format)
	}
}

// pendingFile is one buffered add_file call, spilled to a temp file so a
// session holding thousands of entries never needs their uncompressed bytes
// all resident at once.
type pendingFile struct {
	relativePath string
	spillPath    string
	size         int64
	mtime        time.Time
}

// Session is the stateful per-archive builder (spec §4.6): opened with a
// fixed { format, game, compression flag, archive flags }, it buffers
// add_file calls to spill files and assembles the complete archive only on
// Finalize.
type Session struct {
	targetPath    string
	format        manifest.BSAFormat
	game          manifest.GameID
	compressionOn bool
	flags         uint32
	codec         codec

	tempDir string
	files   []pendingFile
}

// Factory implements executor.BSABuilderFactory, constructing one Session
// per CreateBSA directive.
type Factory struct {
	TempDir string
}

// NewSession opens a builder session for one CreateBSA directive (spec
// §4.6).
func (f Factory) NewSession(targetPath string, format manifest.BSAFormat, game manifest.GameID, compressionOn bool, flags uint32) (executor.BSABuilderSession, error) {
	if _, _, err := magicFor(format); err != nil {
		return nil, err
	}
	return &Session{
		targetPath:    targetPath,
		format:        format,
		game:          game,
		compressionOn: compressionOn,
		flags:         flags,
		codec:         codecFor(format, game),
		tempDir:       f.TempDir,
	}, nil
}

// AddFile buffers relativePath's bytes into the session (spec §4.6:
// "Accepts add_file(relative_path, reader, mtime) calls; buffers or streams
// to a working file").
func (s *Session) AddFile(relativePath string, r io.Reader, mtime time.Time) error {
	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return errors.Wrap(err, "unable to create builder temp directory")
	}
	spillPath := filepath.Join(s.tempDir, "bsa-entry-"+uuid.New().String())
	out, err := os.Create(spillPath)
	if err != nil {
		return errors.Wrap(err, "unable to create entry spill file")
	}
	n, copyErr := io.Copy(out, r)
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(spillPath)
		return errors.Wrapf(copyErr, "unable to spill entry %q", relativePath)
	}
	if closeErr != nil {
		os.Remove(spillPath)
		return errors.Wrapf(closeErr, "unable to finalize entry spill for %q", relativePath)
	}

	s.files = append(s.files, pendingFile{
		relativePath: relativePath,
		spillPath:    spillPath,
		size:         n,
		mtime:        mtime,
	})
	return nil
}

// Finalize writes the complete archive to its target path (spec §4.6).
// Every entry's compressed flag is the session's global CompressionOn
// unless that entry's per-file override applies (already-compressed formats
// like DDS are always stored verbatim, regardless of the global setting).
func (s *Session) Finalize() error {
	defer s.cleanupSpills()

	dir := filepath.Dir(s.targetPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "unable to create archive target directory")
	}
	tmp := filepath.Join(dir, "."+filepath.Base(s.targetPath)+"."+uuid.New().String()+".tmp")

	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrap(err, "unable to create archive temp file")
	}
	w := bufio.NewWriter(out)

	if err := s.writeHeader(w); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	for i := range s.files {
		if err := s.writeEntry(w, &s.files[i]); err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
	}

	if err := w.Flush(); err != nil {
		out.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "unable to flush archive temp file")
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "unable to finalize archive temp file")
	}
	if err := os.Rename(tmp, s.targetPath); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "unable to atomically replace archive target")
	}
	return nil
}

func (s *Session) writeHeader(w io.Writer) error {
	magic, version, err := magicFor(s.format)
	if err != nil {
		return err
	}
	if _, err := w.Write(magic); err != nil {
		return errors.Wrap(err, "unable to write archive magic")
	}
	if err := binary.Write(w, binary.LittleEndian, version); err != nil {
		return errors.Wrap(err, "unable to write archive version")
	}
	if err := binary.Write(w, binary.LittleEndian, s.flags); err != nil {
		return errors.Wrap(err, "unable to write archive flags")
	}
	var compressionByte byte
	if s.compressionOn {
		compressionByte = 1
	}
	if err := binary.Write(w, binary.LittleEndian, compressionByte); err != nil {
		return errors.Wrap(err, "unable to write compression flag")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s.files))); err != nil {
		return errors.Wrap(err, "unable to write entry count")
	}
	return nil
}

func (s *Session) writeEntry(w io.Writer, f *pendingFile) error {
	compressed := s.compressionOn && !overrideCompression(f.relativePath)

	nameBytes := []byte(f.relativePath)
	if len(nameBytes) > 0xFFFF {
		return errors.Errorf("entry path %q exceeds maximum length", f.relativePath)
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(nameBytes))); err != nil {
		return errors.Wrap(err, "unable to write entry name length")
	}
	if _, err := w.Write(nameBytes); err != nil {
		return errors.Wrap(err, "unable to write entry name")
	}

	var mtimeUnix int64
	if !f.mtime.IsZero() {
		mtimeUnix = f.mtime.Unix()
	}
	if err := binary.Write(w, binary.LittleEndian, mtimeUnix); err != nil {
		return errors.Wrap(err, "unable to write entry mtime")
	}
	if err := binary.Write(w, binary.LittleEndian, f.size); err != nil {
		return errors.Wrap(err, "unable to write entry original size")
	}

	var compressedByte byte
	if compressed && s.codec != codecNone {
		compressedByte = 1
	}
	if err := binary.Write(w, binary.LittleEndian, compressedByte); err != nil {
		return errors.Wrap(err, "unable to write entry compression flag")
	}

	in, err := os.Open(f.spillPath)
	if err != nil {
		return errors.Wrapf(err, "unable to reopen spilled entry %q", f.relativePath)
	}
	defer in.Close()

	if compressedByte == 0 {
		if err := binary.Write(w, binary.LittleEndian, f.size); err != nil {
			return errors.Wrap(err, "unable to write entry stored size")
		}
		if _, err := io.Copy(w, in); err != nil {
			return errors.Wrapf(err, "unable to write entry data for %q", f.relativePath)
		}
		return nil
	}

	var compressedBuf []byte
	switch s.codec {
	case codecFlate:
		compressedBuf, err = compressFlate(in)
	case codecZstd:
		compressedBuf, err = compressZstd(in)
	}
	if err != nil {
		return errors.Wrapf(err, "unable to compress entry %q", f.relativePath)
	}

	if err := binary.Write(w, binary.LittleEndian, int64(len(compressedBuf))); err != nil {
		return errors.Wrap(err, "unable to write entry stored size")
	}
	if _, err := w.Write(compressedBuf); err != nil {
		return errors.Wrapf(err, "unable to write compressed entry data for %q", f.relativePath)
	}
	return nil
}

func (s *Session) cleanupSpills() {
	for _, f := range s.files {
		os.Remove(f.spillPath)
	}
}

func compressFlate(r io.Reader) ([]byte, error) {
	var buf writerBuffer
	fw, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.data, nil
}

func compressZstd(r io.Reader) ([]byte, error) {
	var buf writerBuffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(zw, r); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// writerBuffer is a minimal io.Writer accumulating into a byte slice,
// avoiding a bytes.Buffer import purely for Write.
type writerBuffer struct {
	data []byte
}

func (b *writerBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
