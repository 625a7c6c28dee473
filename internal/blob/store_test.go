package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"fs":     fs,
	}
}

func TestPutGetHeadDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			info, err := store.Put(ctx, "raw/sample/abc.json", strings.NewReader(`{"ok":true}`), PutOptions{
				ContentType: "application/json",
				Metadata:    map[string]string{"source": "unit"},
			})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Size != 11 || info.ETag == "" {
				t.Fatalf("unexpected info %+v", info)
			}

			got, rc, err := store.Get(ctx, "raw/sample/abc.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			payload, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil || string(payload) != `{"ok":true}` {
				t.Fatalf("unexpected payload %q (%v)", payload, err)
			}
			if got.ContentType != "application/json" || got.Metadata["source"] != "unit" {
				t.Fatalf("metadata lost: %+v", got)
			}

			head, err := store.Head(ctx, "raw/sample/abc.json")
			if err != nil || head.ETag != info.ETag {
				t.Fatalf("head mismatch: %+v (%v)", head, err)
			}

			removed, err := store.Delete(ctx, "raw/sample/abc.json")
			if err != nil || !removed {
				t.Fatalf("delete: removed=%v err=%v", removed, err)
			}
			removed, err = store.Delete(ctx, "raw/sample/abc.json")
			if err != nil || removed {
				t.Fatalf("second delete must be (false, nil): removed=%v err=%v", removed, err)
			}
		})
	}
}

func TestPutIsCreateOnly(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Put(ctx, "k", strings.NewReader("one"), PutOptions{}); err != nil {
				t.Fatalf("first put: %v", err)
			}
			if _, err := store.Put(ctx, "k", strings.NewReader("two"), PutOptions{}); err == nil {
				t.Fatalf("overwrite must fail")
			}
		})
	}
}

func TestListPrefixOrdering(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"raw/b", "raw/a", "rejected/x"} {
				if _, err := store.Put(ctx, key, strings.NewReader(key), PutOptions{}); err != nil {
					t.Fatalf("put %s: %v", key, err)
				}
			}
			infos, err := store.List(ctx, "raw/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(infos) != 2 || infos[0].Key != "raw/a" || infos[1].Key != "raw/b" {
				t.Fatalf("unexpected listing %+v", infos)
			}
		})
	}
}

func TestGetMissingWrapsNotExist(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("expected os.ErrNotExist, got %v", err)
			}
		})
	}
}

func TestPresignUnsupported(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.PresignURL(ctx, "k", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
				t.Fatalf("expected ErrUnsupported, got %v", err)
			}
		})
	}
}

func TestFilesystemRejectsEscapingKeys(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	ctx := context.Background()
	for _, key := range []string{"", "../escape", "/abs/path"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Errorf("key %q accepted", key)
		}
	}
}

func TestCancelledContextRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemory()
	if _, err := store.Put(ctx, "k", strings.NewReader("x"), PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
