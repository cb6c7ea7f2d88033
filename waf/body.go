package waf

import (
	"io"
	"iter"
)

// Body is a message body: either a single Buffer or a finite Chunks sequence. A nil Body is an empty body.
type Body interface {
	seq() iter.Seq[[]byte]
}

// Buffer is a body held in a single byte slice.
type Buffer []byte

// Chunks is a body delivered as a one-shot ordered sequence of byte slices.
type Chunks iter.Seq[[]byte]

func (b Buffer) seq() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if b == nil {
			b = Buffer{}
		}
		yield(b)
	}
}

func (c Chunks) seq() iter.Seq[[]byte] { return iter.Seq[[]byte](c) }

type closeableChunks struct {
	Chunks
	close func() error
}

func (c *closeableChunks) Close() error { return c.close() }

// NewCloseableChunks creates a Chunks body that owns a resource. The resource is released through io.Closer.
func NewCloseableChunks(seq iter.Seq[[]byte], close func() error) Body {
	return &closeableChunks{Chunks: Chunks(seq), close: close}
}

// EachChunk feeds the body to cb in order. A nil body or an empty Buffer still produces a single empty chunk. Iteration stops at the first error from cb.
func EachChunk(b Body, cb func(chunk []byte) error) (err error) {
	if b == nil {
		return cb([]byte{})
	}

	seq := b.seq()
	if seq == nil {
		return cb([]byte{})
	}

	seq(func(chunk []byte) bool {
		err = cb(chunk)
		return err == nil
	})
	return
}

// replayBody serves chunks that were already consumed from a one-shot body, keeping the original closeable.
type replayBody struct {
	Chunks
	orig io.Closer
}

func (r *replayBody) Close() error { return r.orig.Close() }

// Replay creates a Body that yields the given chunks again. If orig owns a resource, the returned Body releases it on Close.
func Replay(orig Body, chunks [][]byte) Body {
	seq := Chunks(func(yield func([]byte) bool) {
		for _, c := range chunks {
			if !yield(c) {
				return
			}
		}
	})

	if c, ok := orig.(io.Closer); ok {
		return &replayBody{Chunks: seq, orig: c}
	}
	return seq
}

// ReadAll collects a body into one byte slice.
func ReadAll(b Body) (bb []byte, err error) {
	err = EachChunk(b, func(chunk []byte) error {
		bb = append(bb, chunk...)
		return nil
	})
	return
}
