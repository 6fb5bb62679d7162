package inmemory

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aerugo/aerugo/registry/objectstore"
	"github.com/aerugo/aerugo/registry/objectstore/factory"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := New()

	content := []byte("object store content")
	n, err := d.Put(ctx, "some/key", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("unexpected error putting object: %v", err)
	}
	if n != int64(len(content)) {
		t.Fatalf("short write: %d != %d", n, len(content))
	}

	rc, err := d.Get(ctx, "some/key")
	if err != nil {
		t.Fatalf("unexpected error getting object: %v", err)
	}
	defer rc.Close()

	read, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("unexpected error reading object: %v", err)
	}
	if !bytes.Equal(read, content) {
		t.Fatalf("read content does not match: %q != %q", read, content)
	}

	stat, err := d.Head(ctx, "some/key")
	if err != nil {
		t.Fatalf("unexpected error statting object: %v", err)
	}
	if stat.Size != int64(len(content)) {
		t.Fatalf("unexpected size: %d", stat.Size)
	}
	if stat.ModTime.IsZero() {
		t.Fatal("missing modification time")
	}
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()
	d := New()

	if _, err := d.Put(ctx, "key", strings.NewReader("first")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := d.Put(ctx, "key", strings.NewReader("second")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rc, err := d.Get(ctx, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	read, _ := io.ReadAll(rc)
	if string(read) != "second" {
		t.Fatalf("overwrite did not take: %q", read)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := context.Background()
	d := New()

	if _, err := d.Get(ctx, "missing"); !isKeyNotFound(err) {
		t.Fatalf("expected KeyNotFoundError from Get, got %v", err)
	}
	if _, err := d.Head(ctx, "missing"); !isKeyNotFound(err) {
		t.Fatalf("expected KeyNotFoundError from Head, got %v", err)
	}
	if err := d.Delete(ctx, "missing"); !isKeyNotFound(err) {
		t.Fatalf("expected KeyNotFoundError from Delete, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	d := New()

	if _, err := d.Put(ctx, "key", strings.NewReader("content")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Delete(ctx, "key"); err != nil {
		t.Fatalf("unexpected error deleting object: %v", err)
	}
	if _, err := d.Get(ctx, "key"); !isKeyNotFound(err) {
		t.Fatalf("expected KeyNotFoundError after delete, got %v", err)
	}
}

func TestPresignUnsupported(t *testing.T) {
	d := New()

	_, err := d.PresignGet(context.Background(), "key", 0)
	if _, ok := err.(objectstore.ErrUnsupportedMethod); !ok {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
}

func TestFactoryRegistration(t *testing.T) {
	d, err := factory.Create("inmemory", nil)
	if err != nil {
		t.Fatalf("unexpected error creating driver: %v", err)
	}
	if d.Name() != "inmemory" {
		t.Fatalf("unexpected driver name: %s", d.Name())
	}
}

func isKeyNotFound(err error) bool {
	_, ok := err.(objectstore.KeyNotFoundError)
	return ok
}
