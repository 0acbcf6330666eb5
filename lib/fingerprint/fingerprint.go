// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/remotezygote/parcel/lib/codec"
)

// Digest is a 32-byte BLAKE3 digest. All fingerprints (structured
// values, byte content, file streams) are this size. Callers treat
// the hex form as an opaque equality token and never parse it.
type Digest [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures that the same input bytes produce different
// digests in different contexts, preventing cross-domain collisions
// (e.g. a request fingerprint colliding with a content hash).
type domainKey [32]byte

// Domain separation keys. These are fixed constants — changing them
// invalidates every existing fingerprint in that domain. The byte
// values are the ASCII encoding of the domain name, zero-padded to 32
// bytes, which keeps the keys inspectable in hex dumps.
var (
	valueDomainKey = domainKey{
		'p', 'a', 'r', 'c', 'e', 'l', '.', 'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i',
		'n', 't', '.', 'v', 'a', 'l', 'u', 'e', 0, 0, 0, 0, 0, 0, 0, 0,
	}

	contentDomainKey = domainKey{
		'p', 'a', 'r', 'c', 'e', 'l', '.', 'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i',
		'n', 't', '.', 'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0,
	}
)

// Value computes the deterministic fingerprint of an arbitrary
// structured value. The value is canonicalized through deterministic
// CBOR (sorted map keys, smallest-form integers) before hashing, so
// field order and process boundaries never change the digest.
func Value(v any) (string, error) {
	canonical, err := codec.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalizing value for fingerprint: %w", err)
	}
	digest := keyedHash(valueDomainKey, canonical)
	return Format(digest), nil
}

// Bytes computes the content-domain fingerprint of raw bytes. This is
// the hash stored on assets and used as the content-addressed store
// key.
func Bytes(data []byte) string {
	return Format(keyedHash(contentDomainKey, data))
}

// String computes the content-domain fingerprint of a string.
func String(s string) string {
	return Bytes([]byte(s))
}

// Format returns the hex-encoded string representation of a digest.
// This is the canonical format used in cache keys, metadata, and logs.
func Format(digest Digest) string {
	return hex.EncodeToString(digest[:])
}

// Parse parses a 64-character hex string into a Digest.
func Parse(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing fingerprint: %w", err)
	}
	if len(decoded) != 32 {
		return digest, fmt.Errorf("fingerprint is %d bytes, want 32", len(decoded))
	}
	copy(digest[:], decoded)
	return digest, nil
}

// keyedHash computes a BLAKE3 keyed hash with the given domain key.
func keyedHash(key domainKey, data []byte) Digest {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails on wrong key length, which the
		// fixed-size domainKey type rules out.
		panic("fingerprint: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}
