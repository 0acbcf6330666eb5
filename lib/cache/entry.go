// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/remotezygote/parcel/lib/asset"
	"github.com/remotezygote/parcel/lib/assetstore"
	"github.com/remotezygote/parcel/lib/fingerprint"
	"github.com/remotezygote/parcel/lib/vfs"
)

// StoredAsset is the persisted form of an asset: metadata plus the
// content-derived keys of its blobs in the asset store. The bytes
// themselves live in the store.
type StoredAsset struct {
	ID          string    `cbor:"id"`
	IDBase      string    `cbor:"idBase"`
	Salt        string    `cbor:"salt,omitempty"`
	FilePath    string    `cbor:"filePath"`
	Type        string    `cbor:"type"`
	Env         asset.Env `cbor:"env"`
	Hash        string    `cbor:"hash"`
	SideEffects bool      `cbor:"sideEffects"`

	Keys assetstore.CommittedKeys `cbor:"keys"`

	Stats          asset.Stats           `cbor:"stats"`
	Dependencies   []asset.Dependency    `cbor:"dependencies,omitempty"`
	ConnectedFiles []asset.ConnectedFile `cbor:"connectedFiles,omitempty"`
	Meta           map[string]any        `cbor:"meta,omitempty"`
}

// Entry is the persisted result of a successful asset request.
// InitialAssets is present only when a post-processing step rewrote
// the pipeline's outputs; it records the pre-post-process assets so
// cache re-hits can match either representation and skip re-running
// earlier stages.
type Entry struct {
	FilePath string    `cbor:"filePath"`
	Env      asset.Env `cbor:"env"`
	Hash     string    `cbor:"hash"`

	Assets        []StoredAsset `cbor:"assets"`
	InitialAssets []StoredAsset `cbor:"initialAssets,omitempty"`
}

// Key derives the cache key for a file request: the fingerprint of
// the file path and environment.
func Key(filePath string, env asset.Env) (string, error) {
	return fingerprint.Value(struct {
		FilePath string    `cbor:"filePath"`
		Env      asset.Env `cbor:"env"`
	}{filePath, env})
}

// Persist commits an asset's blobs to the store and returns its
// persisted record.
func Persist(store *assetstore.Store, a *asset.Asset) (StoredAsset, error) {
	id, err := a.ID()
	if err != nil {
		return StoredAsset{}, fmt.Errorf("computing asset id: %w", err)
	}
	keys, err := store.Commit(a)
	if err != nil {
		return StoredAsset{}, fmt.Errorf("committing asset %s: %w", a.FilePath, err)
	}
	return StoredAsset{
		ID:             id,
		IDBase:         a.IDBase,
		Salt:           a.Salt,
		FilePath:       a.FilePath,
		Type:           a.Type,
		Env:            a.Env,
		Hash:           a.Hash,
		SideEffects:    a.SideEffects,
		Keys:           keys,
		Stats:          a.Stats,
		Dependencies:   a.Dependencies,
		ConnectedFiles: a.ConnectedFiles,
		Meta:           a.Meta,
	}, nil
}

// Materialize rebuilds an asset from its persisted record. Small
// content comes back as a buffer; content above the buffering
// threshold comes back as a lazy stream over the store.
func (sa StoredAsset) Materialize(store *assetstore.Store) (*asset.Asset, error) {
	a := &asset.Asset{
		IDBase:         sa.IDBase,
		Salt:           sa.Salt,
		FilePath:       sa.FilePath,
		Type:           sa.Type,
		Env:            sa.Env,
		Hash:           sa.Hash,
		SideEffects:    sa.SideEffects,
		Stats:          sa.Stats,
		Dependencies:   sa.Dependencies,
		ConnectedFiles: sa.ConnectedFiles,
		Meta:           sa.Meta,
	}

	if sa.Stats.Size <= asset.MaxBufferSize {
		content, err := store.Read(sa.Keys.Content)
		if err != nil {
			return nil, err
		}
		a.Content = &asset.Buffer{Data: content}
	} else {
		key := sa.Keys.Content
		a.Content = &asset.Stream{Open: func() (io.ReadCloser, error) {
			data, err := store.Read(key)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(bytes.NewReader(data)), nil
		}}
	}

	if sa.Keys.Map != "" {
		m, err := store.Read(sa.Keys.Map)
		if err != nil {
			return nil, err
		}
		a.Map = asset.SourceMap(m)
	}
	return a, nil
}

// CheckCachedAssets validates a retrieved entry by re-hashing every
// asset's connected files. An entry is served from the cache only
// when this returns true.
func CheckCachedAssets(fsys vfs.FS, store *assetstore.Store, entry *Entry) bool {
	for _, sa := range entry.Assets {
		if !store.CheckConnectedFiles(fsys, sa.ConnectedFiles) {
			return false
		}
	}
	for _, sa := range entry.InitialAssets {
		if !store.CheckConnectedFiles(fsys, sa.ConnectedFiles) {
			return false
		}
	}
	return true
}
