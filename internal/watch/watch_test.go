package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunEmitsCreateEvent(t *testing.T) {
	root := t.TempDir()

	a, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	path := filepath.Join(root, "new.txt")
	if err := os.WriteFile(path, []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-a.Out:
		if ev.Kind != EventCreate && ev.Kind != EventModify {
			t.Fatalf("expected a CREATE or subsequent MODIFY event, got %s", ev.Kind)
		}
		if ev.Path != "new.txt" {
			t.Fatalf("unexpected event path: %q", ev.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for filesystem event")
	}
}

func TestRewritePrefixMapsKeyUnderMovedDir(t *testing.T) {
	got, ok := RewritePrefix(filepath.Join("olddir", "a.txt"), "olddir", "newdir")
	if !ok {
		t.Fatal("expected key under olddir to match")
	}
	want := filepath.Join("newdir", "a.txt")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	if _, ok := RewritePrefix(filepath.Join("other", "a.txt"), "olddir", "newdir"); ok {
		t.Fatal("expected a key outside olddir to not match")
	}
}
