package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"clonefreq/internal/blob/core"
)

func TestFilesystemStoreWritesPlainFiles(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "out")
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Driver() != core.DriverFilesystem || s.Root() != root {
		t.Fatalf("unexpected store %+v", s)
	}
	info, err := s.Put(ctx, "default.out_0", bytes.NewBufferString("db.TLML_frequency.insert({});\n"), core.PutOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 30 || len(info.ETag) != 64 {
		t.Fatalf("unexpected info %+v", info)
	}
	raw, err := os.ReadFile(filepath.Join(root, "default.out_0"))
	if err != nil || string(raw) != "db.TLML_frequency.insert({});\n" {
		t.Fatalf("file not written as-is: %q %v", raw, err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 1 {
		t.Fatalf("expected no sidecar or temp files, got %v", entries)
	}
	if _, err := s.Put(ctx, "default.out_0", bytes.NewBufferString("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := s.Put(ctx, "default.out_0", bytes.NewBufferString("x"), core.PutOptions{Overwrite: true}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	_, rc, err := s.Get(ctx, "default.out_0")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "x" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestFilesystemStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"run/default.out_256", "run/default.out_0", "immds_freq.log"} {
		if _, err := s.Put(ctx, key, bytes.NewBufferString(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := s.List(ctx, "run/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "run/default.out_0" || list[1].Key != "run/default.out_256" {
		t.Fatalf("unexpected list %+v", list)
	}
	if ok, err := s.Delete(ctx, "run/default.out_0"); !ok || err != nil {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := s.Delete(ctx, "run/default.out_0"); ok || err != nil {
		t.Fatalf("second delete: %v %v", ok, err)
	}
	if _, _, err := s.Get(ctx, "run/default.out_0"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSanitizeKey(t *testing.T) {
	for _, bad := range []string{"", "  ", "/etc/passwd", "../escape", "a/../../b", ".."} {
		if _, err := sanitizeKey(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	for in, want := range map[string]string{"a/./b": "a/b", "default.out_0": "default.out_0", "a/b/../c": "a/c", "x..y": "x..y"} {
		got, err := sanitizeKey(in)
		if err != nil || got != want {
			t.Fatalf("sanitizeKey(%q) = %q, %v want %q", in, got, err, want)
		}
	}
}
