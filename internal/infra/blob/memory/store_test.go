package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"clonefreq/internal/blob/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	meta := map[string]string{"study": "TLML"}
	info, err := s.Put(ctx, "out/default.out_0", bytes.NewBufferString("line\n"), core.PutOptions{ContentType: "text/plain", Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["study"] = "mutated"
	if info.Size != 5 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "out/default.out_0", bytes.NewBufferString("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := s.Put(ctx, "out/default.out_0", bytes.NewBufferString("replaced"), core.PutOptions{Overwrite: true}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, rc, err := s.Get(ctx, "out/default.out_0")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "replaced" || got.Metadata != nil {
		t.Fatalf("unexpected object %q %+v", body, got)
	}
	if _, err := s.Put(ctx, "out/default.out_256", bytes.NewBufferString("b"), core.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	if _, err := s.Put(ctx, "other", bytes.NewBufferString("c"), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, _ := s.List(ctx, "out/")
	if len(list) != 2 || list[0].Key != "out/default.out_0" || list[1].Key != "out/default.out_256" {
		t.Fatalf("unexpected list %+v", list)
	}
	if ok, _ := s.Delete(ctx, "other"); !ok {
		t.Fatalf("expected delete to report existing object")
	}
	if ok, _ := s.Delete(ctx, "other"); ok {
		t.Fatalf("second delete must report missing")
	}
	if _, _, err := s.Get(ctx, "other"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreRejectsEmptyKeyAndCancelledContext(t *testing.T) {
	s := New()
	if _, err := s.Put(context.Background(), " ", bytes.NewBufferString("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, "k", bytes.NewBufferString("x"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
