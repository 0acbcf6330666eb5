// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"testing"

	"github.com/remotezygote/parcel/lib/asset"
	"github.com/remotezygote/parcel/lib/assetstore"
	"github.com/remotezygote/parcel/lib/vfs"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestStore(t *testing.T) *assetstore.Store {
	t.Helper()
	s, err := assetstore.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("assetstore.New: %v", err)
	}
	return s
}

func TestKeyDeterministic(t *testing.T) {
	env := asset.Env{Context: "browser", Engines: map[string]string{"chrome": ">=90"}}

	a, err := Key("/src/a.js", env)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	b, err := Key("/src/a.js", env)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if a != b {
		t.Error("same inputs produced different cache keys")
	}

	other, err := Key("/src/a.js", asset.Env{Context: "node"})
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if a == other {
		t.Error("different environments produced the same cache key")
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	store := newTestStore(t)

	a := asset.NewInline([]byte("x = 1"), "/src/a.js", asset.Env{Context: "browser"}, true)
	stored, err := Persist(store, a)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	entry := &Entry{
		FilePath: "/src/a.js",
		Env:      a.Env,
		Hash:     a.Hash,
		Assets:   []StoredAsset{stored},
	}

	key, err := Key("/src/a.js", a.Env)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if err := c.Set(key, entry); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := c.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("entry not found after Set")
	}
	if got.FilePath != entry.FilePath || got.Hash != entry.Hash {
		t.Errorf("entry mismatch: got %+v", got)
	}
	if len(got.Assets) != 1 || got.Assets[0].Hash != stored.Hash {
		t.Errorf("assets mismatch: %+v", got.Assets)
	}
}

func TestGetMissing(t *testing.T) {
	c := newTestCache(t)
	_, ok, err := c.Get("no such key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("missing key reported as present")
	}
}

func TestSetReplacesAtomically(t *testing.T) {
	c := newTestCache(t)

	key := "k"
	if err := c.Set(key, &Entry{FilePath: "/a.js", Hash: "h1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(key, &Entry{FilePath: "/a.js", Hash: "h2"}); err != nil {
		t.Fatalf("Set (replace): %v", err)
	}

	got, ok, err := c.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Hash != "h2" {
		t.Errorf("hash = %s, want the replacement h2", got.Hash)
	}
}

func TestMaterializeRoundTrip(t *testing.T) {
	store := newTestStore(t)

	a := asset.NewInline([]byte("x = 1"), "/src/a.js", asset.Env{Context: "browser"}, true)
	a.Map = asset.SourceMap(`{"version":3}`)
	stored, err := Persist(store, a)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	back, err := stored.Materialize(store)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	data, err := asset.ReadAll(back.Content)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "x = 1" {
		t.Errorf("materialized content = %q", data)
	}
	if string(back.Map) != `{"version":3}` {
		t.Errorf("materialized map = %q", back.Map)
	}
	if back.Hash != a.Hash {
		t.Error("materialized hash changed")
	}
}

func TestCheckCachedAssets(t *testing.T) {
	store := newTestStore(t)
	fsys := vfs.NewMemFS()
	fsys.WriteFile("/src/b.txt", []byte("v1"))

	cf, err := asset.Connect(fsys, "/src/b.txt")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	entry := &Entry{
		FilePath: "/src/a.js",
		Assets: []StoredAsset{
			{Hash: "h", ConnectedFiles: []asset.ConnectedFile{cf}},
		},
	}

	if !CheckCachedAssets(fsys, store, entry) {
		t.Error("unchanged connected files failed validation")
	}

	fsys.WriteFile("/src/b.txt", []byte("v2"))
	if CheckCachedAssets(fsys, store, entry) {
		t.Error("changed connected file passed validation")
	}
}
