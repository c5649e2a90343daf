// Package hashing implements the Hasher capability from spec §6
// (xxhash64_base64) and the verification helpers the Executor (C5) uses to
// check written or computed bytes against a Directive's declared hash.
package hashing

import (
	"encoding/base64"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// XXHash64Base64 computes the xxhash-64 digest of stream and returns it as
// standard base64, matching the encoding used for ArchiveDescriptor.Hash and
// Directive.ExpectedHash (spec §3). This is the concrete implementation of
// the Hasher capability described in spec §6.
func XXHash64Base64(stream io.Reader) (string, error) {
	digest := xxhash.New()
	if _, err := io.Copy(digest, stream); err != nil {
		return "", errors.Wrap(err, "unable to read stream for hashing")
	}
	var buf [8]byte
	putUint64(buf[:], digest.Sum64())
	return base64.StdEncoding.EncodeToString(buf[:]), nil
}

// XXHash64Bytes computes the same digest and encoding as XXHash64Base64 for
// an in-memory byte slice. Verify uses it for the executor's check of
// CreateBSA sub-directive bytes; the executor's file writes are checked by a
// StreamVerifier instead.
func XXHash64Bytes(data []byte) string {
	digest := xxhash.Sum64(data)
	var buf [8]byte
	putUint64(buf[:], digest)
	return base64.StdEncoding.EncodeToString(buf[:])
}

// Verify reports whether the xxhash-64 digest of data matches expected. An
// empty expected value always fails verification (there is nothing to check
// against, which should never happen for a validated Directive).
func Verify(data []byte, expected string) bool {
	if expected == "" {
		return false
	}
	return XXHash64Bytes(data) == expected
}

// StreamVerifier accumulates an xxhash-64 digest across multiple writes so a
// caller can verify a streamed copy (e.g. the Executor's atomic write path)
// without buffering the whole payload in memory first.
type StreamVerifier struct {
	digest *xxhash.Digest
}

// NewStreamVerifier constructs a StreamVerifier.
func NewStreamVerifier() *StreamVerifier {
	return &StreamVerifier{digest: xxhash.New()}
}

// Write implements io.Writer so a StreamVerifier can be used as the side
// channel of an io.MultiWriter/io.TeeReader.
func (s *StreamVerifier) Write(p []byte) (int, error) {
	return s.digest.Write(p)
}

// Sum returns the base64-encoded digest of everything written so far, in
// the same encoding as Directive.ExpectedHash.
func (s *StreamVerifier) Sum() string {
	var buf [8]byte
	putUint64(buf[:], s.digest.Sum64())
	return base64.StdEncoding.EncodeToString(buf[:])
}

// Matches reports whether the accumulated digest equals expected. An empty
// expected value never matches.
func (s *StreamVerifier) Matches(expected string) bool {
	return expected != "" && s.Sum() == expected
}

func putUint64(b []byte, v uint64) {
	_ = b[7]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}
