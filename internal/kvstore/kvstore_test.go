package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sq, err := OpenSQLite(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	bo, err := OpenBolt(filepath.Join(dir, "test.bolt"))
	if err != nil {
		t.Fatal(err)
	}
	stores := map[string]Store{
		"sqlite": sq,
		"bolt":   bo,
		"memory": NewMemory(),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestStoreSetGetRemove(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Get(ctx, "pushUaid")
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 0 {
				t.Fatalf("expected empty result, got %v", got)
			}

			err = s.Set(ctx, map[string][]byte{
				"pushUaid":       []byte("uaid-1"),
				"pushChannelIds": []byte(`["c1"]`),
				"empty":          nil,
			})
			if err != nil {
				t.Fatal(err)
			}

			got, err = s.Get(ctx, "pushUaid", "pushChannelIds", "empty", "missing")
			if err != nil {
				t.Fatal(err)
			}
			if string(got["pushUaid"]) != "uaid-1" {
				t.Fatalf("pushUaid: got %q", got["pushUaid"])
			}
			if string(got["pushChannelIds"]) != `["c1"]` {
				t.Fatalf("pushChannelIds: got %q", got["pushChannelIds"])
			}
			if v, ok := got["empty"]; !ok || len(v) != 0 {
				t.Fatalf("empty: got %q present=%v", v, ok)
			}
			if _, ok := got["missing"]; ok {
				t.Fatal("missing key should be absent from result")
			}

			// Overwrite.
			if err := s.Set(ctx, map[string][]byte{"pushUaid": []byte("uaid-2")}); err != nil {
				t.Fatal(err)
			}
			got, _ = s.Get(ctx, "pushUaid")
			if string(got["pushUaid"]) != "uaid-2" {
				t.Fatalf("after overwrite: got %q", got["pushUaid"])
			}

			if err := s.Remove(ctx, "pushUaid", "missing"); err != nil {
				t.Fatal(err)
			}
			got, _ = s.Get(ctx, "pushUaid", "pushChannelIds")
			if _, ok := got["pushUaid"]; ok {
				t.Fatal("pushUaid should be removed")
			}
			if _, ok := got["pushChannelIds"]; !ok {
				t.Fatal("pushChannelIds should remain")
			}
		})
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			in := []byte("value")
			if err := s.Set(ctx, map[string][]byte{"k": in}); err != nil {
				t.Fatal(err)
			}
			in[0] = 'X'
			got, _ := s.Get(ctx, "k")
			if string(got["k"]) != "value" {
				t.Fatalf("stored value changed with caller buffer: %q", got["k"])
			}
			got["k"][0] = 'Y'
			again, _ := s.Get(ctx, "k")
			if string(again["k"]) != "value" {
				t.Fatalf("stored value changed with returned buffer: %q", again["k"])
			}
		})
	}
}

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "dir", "push.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, map[string][]byte{"pushUaid": []byte("abc")}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := os.Stat(filepath.Dir(path)); os.IsNotExist(err) {
		t.Fatal("directory should have been created")
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "pushUaid")
	if err != nil {
		t.Fatal(err)
	}
	if string(got["pushUaid"]) != "abc" {
		t.Fatalf("got %q", got["pushUaid"])
	}
}

func TestBoltPersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "push.bolt")

	b, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ctx, map[string][]byte{"pushUaid": []byte("abc")}); err != nil {
		t.Fatal(err)
	}
	b.Close()

	b, err = OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	got, err := b.Get(ctx, "pushUaid")
	if err != nil {
		t.Fatal(err)
	}
	if string(got["pushUaid"]) != "abc" {
		t.Fatalf("got %q", got["pushUaid"])
	}
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	m.Close()
	if _, err := m.Get(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestOpenBackends(t *testing.T) {
	dir := t.TempDir()
	for _, backend := range []string{"", BackendSQLite, BackendBolt, BackendMemory} {
		s, err := Open(backend, filepath.Join(dir, "store-"+backend))
		if err != nil {
			t.Fatalf("%q: %v", backend, err)
		}
		s.Close()
	}
	if _, err := Open("redis", ""); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
