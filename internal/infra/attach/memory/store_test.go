package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"

	"boardcore/internal/attach/core"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	payload := []byte("in memory body")

	info, err := s.Put(ctx, "tasks/t1/a.txt", bytes.NewReader(payload), core.PutOptions{
		ContentType: "text/plain",
		Metadata:    map[string]string{"origin": "test"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(payload)) {
		t.Fatalf("size = %d, want %d", info.Size, len(payload))
	}

	got, rc, err := s.Get(ctx, "tasks/t1/a.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	_ = rc.Close()
	if !bytes.Equal(body, payload) {
		t.Fatalf("body mismatch: %q", body)
	}
	if got.Metadata["origin"] != "test" {
		t.Fatalf("metadata lost: %#v", got.Metadata)
	}
}

func TestPutRejectsExistingKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.Put(ctx, "k", strings.NewReader("one"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "k", strings.NewReader("two"), core.PutOptions{}); err == nil {
		t.Fatalf("expected error for duplicate key")
	}
}

func TestMissingKeyErrorsAreNotExist(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, _, err := s.Get(ctx, "absent"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("get error = %v, want fs.ErrNotExist", err)
	}
	if _, err := s.Head(ctx, "absent"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("head error = %v, want fs.ErrNotExist", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.Put(ctx, "k", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, err := s.Delete(ctx, "k"); err != nil || !ok {
		t.Fatalf("delete = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := s.Delete(ctx, "k"); err != nil || ok {
		t.Fatalf("second delete = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestListPrefixAndOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, key := range []string{"b/2", "a/1", "b/1"} {
		if _, err := s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := s.List(ctx, "b/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "b/1" || infos[1].Key != "b/2" {
		t.Fatalf("unexpected listing: %#v", infos)
	}
}

func TestPresignURLUnsupported(t *testing.T) {
	s := New()
	if _, err := s.PresignURL(context.Background(), "k", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
