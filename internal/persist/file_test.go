package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cartsync/internal/model"
)

func TestFile_ReadWriteRemove(t *testing.T) {
	ctx := context.Background()
	f, err := NewFile(t.TempDir(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}

	if _, err := f.Read(ctx, "cartsync:cart"); err != ErrAbsent {
		t.Errorf("Read() on empty dir err = %v, want ErrAbsent", err)
	}
	if err := f.Write(ctx, "cartsync:cart", []byte(`[1]`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data, err := f.Read(ctx, "cartsync:cart")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != `[1]` {
		t.Errorf("Read() = %s, want [1]", data)
	}
	if err := f.Remove(ctx, "cartsync:cart"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := f.Remove(ctx, "cartsync:cart"); err != nil {
		t.Errorf("second Remove() error = %v, want nil", err)
	}
}

func TestFile_KeyIsSanitized(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Write(context.Background(), "shop/cartsync:cart", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "shop_cartsync_cart.json")); err != nil {
		t.Errorf("expected sanitized file name: %v", err)
	}
}

func TestFile_RequiresDir(t *testing.T) {
	if _, err := NewFile("  ", 0); err == nil {
		t.Error("NewFile(blank) error = nil, want error")
	}
}

func TestFile_ExternalChangeAcrossAdapters(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// two backends on one directory behave like two processes
	b1, err := NewFile(dir, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := NewFile(dir, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	a1 := NewAdapter(b1, model.KindCart)
	a2 := NewAdapter(b2, model.KindCart)

	changes := make(chan model.Collection, 4)
	cancel := a1.OnExternalChange(func(c model.Collection, _ Report) { changes <- c })
	defer cancel()

	if err := a2.Save(ctx, sampleCollection()); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if len(c.Items) != 2 {
			t.Errorf("external change items = %d, want 2", len(c.Items))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file change")
	}
}
