// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package assetstore

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression algorithm used for a
// stored blob. Tags are stored in the blob header (1 byte). These
// values are format constants — changing them breaks existing stores.
type CompressionTag uint8

const (
	// CompressionNone indicates uncompressed data. Used for
	// already-compressed content (images, fonts) where compression
	// adds CPU cost without reducing size, and as the fallback when
	// a codec fails to shrink the input.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 indicates LZ4 block compression. Fast default
	// when the asset type is unknown or binary.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd indicates zstd compression at the default
	// level. Better ratios for source text, JSON, and maps.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// textTypes are asset types whose content is source text, where zstd
// earns its CPU cost.
var textTypes = map[string]bool{
	"js": true, "jsx": true, "ts": true, "tsx": true, "mjs": true, "cjs": true,
	"css": true, "html": true, "htm": true, "json": true, "map": true,
	"svg": true, "md": true, "txt": true, "vue": true, "xml": true, "yaml": true,
}

// SelectCompression picks a codec for the given asset type. Text-like
// types get zstd; everything else gets LZ4. Incompressible inputs
// fall back to CompressionNone at write time regardless of selection.
func SelectCompression(assetType string) CompressionTag {
	if textTypes[assetType] {
		return CompressionZstd
	}
	return CompressionLZ4
}

// zstd encoder/decoder are stateless for EncodeAll/DecodeAll use and
// shared package-wide.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic("assetstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("assetstore: zstd decoder initialization failed: " + err.Error())
	}
}

// compress compresses data with the selected codec. If the output is
// not smaller than the input, returns the input unchanged with
// CompressionNone.
func compress(data []byte, tag CompressionTag) ([]byte, CompressionTag, error) {
	switch tag {
	case CompressionNone:
		return data, CompressionNone, nil

	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compression: %w", err)
		}
		if n == 0 || n >= len(data) {
			// Incompressible.
			return data, CompressionNone, nil
		}
		return buf[:n], CompressionLZ4, nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return data, CompressionNone, nil
		}
		return compressed, CompressionZstd, nil

	default:
		return nil, 0, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// decompress reverses compress. The uncompressedSize must match the
// original length exactly; a mismatch is corruption.
func decompress(data []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(data) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed blob: size %d does not match expected %d",
				len(data), uncompressedSize)
		}
		return data, nil

	case CompressionLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression: %w", err)
		}
		if n != uncompressedSize {
			return nil, fmt.Errorf("lz4 blob: decompressed %d bytes, expected %d", n, uncompressedSize)
		}
		return out, nil

	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompression: %w", err)
		}
		if len(out) != uncompressedSize {
			return nil, fmt.Errorf("zstd blob: decompressed %d bytes, expected %d", len(out), uncompressedSize)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}
