// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/remotezygote/parcel/lib/vfs"
)

// streamChunkSize is the read granularity for stream hashing. One tap
// invocation happens per chunk of at most this size.
const streamChunkSize = 64 * 1024

// HashStream streams r through a content-domain digest, invoking tap
// once per chunk read. The tap enables concurrent buffering and size
// measurement in a single pass over the bytes: the asset constructor
// uses it to fill the in-memory buffer while the hash is computed.
// A nil tap is allowed.
//
// Returns the hex digest and the total byte count.
func HashStream(r io.Reader, tap func(chunk []byte)) (string, int64, error) {
	hasher, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		panic("fingerprint: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	buf := make([]byte, streamChunkSize)
	var total int64
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			hasher.Write(chunk)
			if tap != nil {
				tap(chunk)
			}
			total += int64(n)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return "", total, fmt.Errorf("hashing stream: %w", readErr)
		}
	}

	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return Format(digest), total, nil
}

// File computes the content-domain fingerprint of the file at path.
func File(fsys vfs.FS, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for fingerprint: %w", path, err)
	}
	defer f.Close()

	digest, _, err := HashStream(f, nil)
	if err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", path, err)
	}
	return digest, nil
}
