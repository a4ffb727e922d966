package toolpolicy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSeedsDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowed_tools.json")

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(p.Snapshot()) != len(Default) {
		t.Fatalf("expected seeded default, got %+v", p.Snapshot())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected seed file to be written: %v", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		t.Fatalf("unmarshal seeded file: %v", err)
	}
	if len(names) != len(Default) {
		t.Fatalf("expected %d names on disk, got %d", len(Default), len(names))
	}
}

func TestLoadReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowed_tools.json")
	if err := os.WriteFile(path, []byte(`["click","wait"]`), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	snap := p.Snapshot()
	if len(snap) != 2 || snap[0] != "click" || snap[1] != "wait" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestAllows(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "allowed_tools.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !p.Allows("click") {
		t.Fatal("expected click to be allowed by default")
	}
	if p.Allows("nonexistent_tool") {
		t.Fatal("expected nonexistent_tool to be disallowed")
	}
}

func TestReplacePersistsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowed_tools.json")
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := p.Replace([]string{"scroll", "key"}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	if snap := p.Snapshot(); len(snap) != 2 || snap[0] != "scroll" || snap[1] != "key" {
		t.Fatalf("unexpected in-memory snapshot after replace: %+v", snap)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if snap := reloaded.Snapshot(); len(snap) != 2 || snap[0] != "scroll" || snap[1] != "key" {
		t.Fatalf("unexpected on-disk snapshot after replace: %+v", snap)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("leftover temp file after persist: %s", e.Name())
		}
	}
}

func TestReloadFromDiskPicksUpOutOfBandEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowed_tools.json")
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := os.WriteFile(path, []byte(`["write"]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := p.ReloadFromDisk(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if snap := p.Snapshot(); len(snap) != 1 || snap[0] != "write" {
		t.Fatalf("unexpected snapshot after reload: %+v", snap)
	}
}

func TestPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowed_tools.json")
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Path() != path {
		t.Fatalf("expected path %q, got %q", path, p.Path())
	}
}
