// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"bytes"
	"testing"

	"github.com/remotezygote/parcel/lib/fingerprint"
	"github.com/remotezygote/parcel/lib/vfs"
)

func TestNewFromFileSmallIsBuffered(t *testing.T) {
	fsys := vfs.NewMemFS()
	fsys.WriteFile("/src/a.js", []byte("x = 1"))

	a, err := NewFromFile(fsys, "/src/a.js", Env{Context: "browser"}, true)
	if err != nil {
		t.Fatalf("NewFromFile: %v", err)
	}

	if _, ok := a.Content.(*Buffer); !ok {
		t.Errorf("small file content is %T, want *Buffer", a.Content)
	}
	if a.Type != "js" {
		t.Errorf("type = %q, want js", a.Type)
	}
	if a.IDBase != "/src/a.js" {
		t.Errorf("idBase = %q, want the file path", a.IDBase)
	}
	if a.Hash != fingerprint.Bytes([]byte("x = 1")) {
		t.Error("hash is not the content fingerprint")
	}
	if a.Stats.Size != 5 {
		t.Errorf("size = %d, want 5", a.Stats.Size)
	}
}

func TestBufferThresholdBoundary(t *testing.T) {
	fsys := vfs.NewMemFS()

	exact := make([]byte, MaxBufferSize)
	for i := range exact {
		exact[i] = byte(i)
	}
	fsys.WriteFile("/src/exact.bin", exact)
	fsys.WriteFile("/src/over.bin", append(exact, 0xFF))

	atLimit, err := NewFromFile(fsys, "/src/exact.bin", Env{}, true)
	if err != nil {
		t.Fatalf("NewFromFile(exact): %v", err)
	}
	if _, ok := atLimit.Content.(*Buffer); !ok {
		t.Errorf("file of exactly %d bytes is %T, want *Buffer", MaxBufferSize, atLimit.Content)
	}

	overLimit, err := NewFromFile(fsys, "/src/over.bin", Env{}, true)
	if err != nil {
		t.Fatalf("NewFromFile(over): %v", err)
	}
	if _, ok := overLimit.Content.(*Stream); !ok {
		t.Errorf("file of %d+1 bytes is %T, want *Stream", MaxBufferSize, overLimit.Content)
	}

	// The stream still yields the full content and the hash covers
	// every byte.
	data, err := ReadAll(overLimit.Content)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(data, append(exact, 0xFF)) {
		t.Error("stream content does not round-trip")
	}
	if overLimit.Hash != fingerprint.Bytes(data) {
		t.Error("stream asset hash is not the content fingerprint")
	}
}

func TestNewInlineIdentity(t *testing.T) {
	env := Env{Context: "browser"}
	a := NewInline([]byte("x = 1"), "/src/virtual.js", env, true)
	b := NewInline([]byte("y = 2"), "/src/virtual.js", env, true)

	if a.IDBase == b.IDBase {
		t.Error("two distinct inline snippets at the same path share an idBase")
	}
	if a.IDBase != a.Hash {
		t.Error("inline idBase should be the content hash")
	}

	idA, err := a.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	idB, err := b.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if idA == idB {
		t.Error("inline assets with different content share an ID")
	}
}

func TestChildInheritsIdentity(t *testing.T) {
	fsys := vfs.NewMemFS()
	fsys.WriteFile("/src/a.js", []byte("x = 1"))
	parent, err := NewFromFile(fsys, "/src/a.js", Env{Context: "browser"}, true)
	if err != nil {
		t.Fatalf("NewFromFile: %v", err)
	}

	child, err := parent.Child(TransformerResult{
		Type:    "js",
		Content: &Buffer{Data: []byte("y = 1")},
	}, "0")
	if err != nil {
		t.Fatalf("Child: %v", err)
	}

	if child.IDBase != parent.IDBase {
		t.Error("child did not inherit idBase")
	}
	if child.Salt != "0" {
		t.Errorf("salt = %q, want 0", child.Salt)
	}
	if child.Hash != fingerprint.Bytes([]byte("y = 1")) {
		t.Error("child hash is not its own content fingerprint")
	}
	if child.Hash == parent.Hash {
		t.Error("child hash should differ from parent for different content")
	}
}

func TestChildEnvOverride(t *testing.T) {
	parent := NewInline([]byte("x"), "/src/a.js", Env{Context: "browser"}, true)
	override := Env{Context: "node"}
	child, err := parent.Child(TransformerResult{
		Type:    "js",
		Content: &Buffer{Data: []byte("x")},
		Env:     &override,
	}, "0")
	if err != nil {
		t.Fatalf("Child: %v", err)
	}
	if child.Env.Context != "node" {
		t.Errorf("env override not applied: %q", child.Env.Context)
	}
}

func TestChildRejectsEmptyResult(t *testing.T) {
	parent := NewInline([]byte("x"), "/src/a.js", Env{}, true)
	if _, err := parent.Child(TransformerResult{Type: "js"}, "0"); err == nil {
		t.Error("expected error for result with neither content nor AST")
	}
}

func TestViewNormalization(t *testing.T) {
	a := NewInline([]byte("x = 1"), "/src/a.js", Env{}, true)
	v := NewView(a)

	v.SetCode([]byte("y = 1"))
	v.AddDependency(Dependency{Specifier: "./b"})
	v.AddConnectedFile(ConnectedFile{FilePath: "/src/b.txt", Hash: "h"})

	res := v.Result()
	data, err := ReadAll(res.Content)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "y = 1" {
		t.Errorf("normalized content = %q", data)
	}
	if len(res.Dependencies) != 1 || res.Dependencies[0].Specifier != "./b" {
		t.Errorf("dependencies = %+v", res.Dependencies)
	}
	if len(res.ConnectedFiles) != 1 || res.ConnectedFiles[0].FilePath != "/src/b.txt" {
		t.Errorf("connected files = %+v", res.ConnectedFiles)
	}
}

func TestConnect(t *testing.T) {
	fsys := vfs.NewMemFS()
	fsys.WriteFile("/src/b.txt", []byte("config"))

	cf, err := Connect(fsys, "/src/b.txt")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if cf.Hash != fingerprint.Bytes([]byte("config")) {
		t.Error("connected file hash is not the content fingerprint")
	}
}
