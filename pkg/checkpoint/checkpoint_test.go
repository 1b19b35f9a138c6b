package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, ok, err := s.Load(ctx, "/var/log/app.log"); err != nil || ok {
		t.Fatalf("fresh store: ok=%v err=%v, want miss", ok, err)
	}

	want := Offset{Bytes: 4096, LNum: 120, UpdatedAt: time.Now().UTC()}
	if err := s.Save(ctx, "/var/log/app.log", want); err != nil {
		t.Fatal(err)
	}

	// Reopen to force a disk round trip.
	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got, ok, err := s2.Load(ctx, "/var/log/app.log")
	if err != nil || !ok {
		t.Fatalf("reload: ok=%v err=%v", ok, err)
	}
	if got.Bytes != want.Bytes || got.LNum != want.LNum {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestFileStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, "a.log", Offset{Bytes: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "a.log"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Load(ctx, "a.log"); ok {
		t.Error("offset still present after delete")
	}
	// Deleting a missing key is a no-op.
	if err := s.Delete(ctx, "a.log"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path); err == nil {
		t.Error("corrupt checkpoint file accepted")
	}
}

func TestOpenDispatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Errorf("Open(%q) = %T, want *FileStore", path, s)
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/var/log/app.log", "_var_log_app.log"},
		{"C:\\logs x", "C_\\logs_x"},
		{"plain.log", "plain.log"},
	}
	for _, tt := range tests {
		if got := sanitizeKey(tt.in); got != tt.want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
