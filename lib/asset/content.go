// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"bytes"
	"fmt"
	"io"

	"github.com/remotezygote/parcel/lib/fingerprint"
	"github.com/remotezygote/parcel/lib/vfs"
)

// MaxBufferSize is the threshold above which file content is kept as
// a re-openable stream instead of an in-memory buffer. Files at or
// below the threshold take the buffered fast path; above it the
// partial buffer is discarded and consumers re-open the source on
// demand, keeping memory bounded.
const MaxBufferSize = 5 * 1024 * 1024

// Content is the dual representation of asset bytes: either an
// in-memory buffer or a lazily opened stream. Consumers must handle
// both; [ReadAll] and [Reader] are the uniform accessors.
type Content interface {
	isContent()
}

// Buffer is in-memory content.
type Buffer struct {
	Data []byte
}

func (*Buffer) isContent() {}

// Stream is lazily opened content. Open must return a fresh reader
// positioned at the start on every call.
type Stream struct {
	Open func() (io.ReadCloser, error)
}

func (*Stream) isContent() {}

// ReadAll materializes content into a byte slice.
func ReadAll(c Content) ([]byte, error) {
	switch content := c.(type) {
	case *Buffer:
		return content.Data, nil
	case *Stream:
		r, err := content.Open()
		if err != nil {
			return nil, fmt.Errorf("opening content stream: %w", err)
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading content stream: %w", err)
		}
		return data, nil
	case nil:
		return nil, fmt.Errorf("asset has no content")
	default:
		return nil, fmt.Errorf("unknown content representation %T", c)
	}
}

// Reader returns a reader over the content.
func Reader(c Content) (io.ReadCloser, error) {
	switch content := c.(type) {
	case *Buffer:
		return io.NopCloser(bytes.NewReader(content.Data)), nil
	case *Stream:
		return content.Open()
	case nil:
		return nil, fmt.Errorf("asset has no content")
	default:
		return nil, fmt.Errorf("unknown content representation %T", c)
	}
}

// hashFileContent reads the file at path once, hashing while buffering
// up to MaxBufferSize. Returns the content representation (buffer for
// small files, stream for large), the content hash, and the size.
func hashFileContent(fsys vfs.FS, path string) (Content, string, int64, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, "", 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var buf []byte
	overflowed := false
	hash, size, err := fingerprint.HashStream(f, func(chunk []byte) {
		if overflowed {
			return
		}
		buf = append(buf, chunk...)
		if int64(len(buf)) > MaxBufferSize {
			// Discard the partial buffer; the caller gets a stream.
			buf = nil
			overflowed = true
		}
	})
	if err != nil {
		return nil, "", 0, err
	}

	if overflowed {
		stream := &Stream{Open: func() (io.ReadCloser, error) {
			return fsys.Open(path)
		}}
		return stream, hash, size, nil
	}
	return &Buffer{Data: buf}, hash, size, nil
}
