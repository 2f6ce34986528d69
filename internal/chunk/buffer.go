// Package chunk splits a continuous byte stream into bounded, ordered chunks.
//
// A Buffer accumulates appended bytes and hands out fixed-size chunks once the
// configured threshold is reached. Chunk boundaries are byte-level: they do not
// align with CSV records, because every bulk-ingest channel downstream consumes
// a continuous text stream rather than discrete rows.
package chunk

import (
	"errors"

	"github.com/zeebo/xxh3"
)

// MiB is the multiplier applied to chunk_size_mb settings.
const MiB = 1 << 20

// DefaultSizeMB is the chunk size used when none is configured.
const DefaultSizeMB = 64

// ErrInvalidThreshold is returned when a Buffer is built with a threshold <= 0.
var ErrInvalidThreshold = errors.New("chunk: threshold must be > 0")

// Chunk is an immutable slice of the serialized stream. Chunks returned by a
// Buffer are never shared with the Buffer's internal storage.
type Chunk []byte

// BytesFromMB converts a chunk_size_mb value into a byte threshold. Values
// <= 0 fall back to DefaultSizeMB.
func BytesFromMB(mb int) int {
	if mb <= 0 {
		mb = DefaultSizeMB
	}
	return mb * MiB
}

// Sum returns the xxh3 digest of c. It is used to tag chunks in progress logs
// so that a failed batch can be matched against the source bytes.
func Sum(c Chunk) uint64 { return xxh3.Hash(c) }

// Buffer accumulates bytes and yields chunks of exactly threshold bytes, plus
// an optional shorter final chunk from Flush.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	threshold int
	buf       []byte
}

// NewBuffer returns a Buffer that emits chunks of threshold bytes.
func NewBuffer(threshold int) (*Buffer, error) {
	if threshold <= 0 {
		return nil, ErrInvalidThreshold
	}
	return &Buffer{threshold: threshold}, nil
}

// Len reports the number of bytes currently buffered.
func (b *Buffer) Len() int { return len(b.buf) }

// Append adds p to the end of the buffer. Callers should call Drain after each
// Append until it reports false to keep the buffer bounded.
func (b *Buffer) Append(p []byte) {
	b.buf = append(b.buf, p...)
}

// Drain returns a completed chunk once at least threshold bytes are buffered.
// The returned chunk is exactly threshold bytes long; any excess stays buffered.
func (b *Buffer) Drain() (Chunk, bool) {
	if len(b.buf) < b.threshold {
		return nil, false
	}
	c := make(Chunk, b.threshold)
	copy(c, b.buf)
	n := copy(b.buf, b.buf[b.threshold:])
	b.buf = b.buf[:n]
	return c, true
}

// Flush returns whatever remains as the final chunk and resets the buffer. It
// reports false when the buffer is empty.
func (b *Buffer) Flush() (Chunk, bool) {
	if len(b.buf) == 0 {
		return nil, false
	}
	c := make(Chunk, len(b.buf))
	copy(c, b.buf)
	b.buf = b.buf[:0]
	return c, true
}
