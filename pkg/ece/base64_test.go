package ece

import (
	"bytes"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"
)

func TestEncodeURLKnownVector(t *testing.T) {
	in := []byte{255, 254, 253, 252, 251, 250}
	if got := EncodeURL(in); got != "__79_Pv6" {
		t.Fatalf("EncodeURL: got %q, want %q", got, "__79_Pv6")
	}
	out, err := DecodeURL("__79_Pv6")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("DecodeURL: got %v, want %v", out, in)
	}
}

func TestEncodeStdPadded(t *testing.T) {
	if got := EncodeStd([]byte{255, 254, 253}); got != "//79" {
		t.Fatalf("got %q, want %q", got, "//79")
	}
	if got := EncodeStd([]byte{1}); got != "AQ==" {
		t.Fatalf("got %q, want %q", got, "AQ==")
	}
}

func TestDecodeURLAcceptsPaddingAndStdAlphabet(t *testing.T) {
	for _, s := range []string{"__79_Pv6", "//79/Pv6", "__79_Pv6=="} {
		out, err := DecodeURL(s)
		if err != nil {
			t.Fatalf("%q: %v", s, err)
		}
		if !bytes.Equal(out, []byte{255, 254, 253, 252, 251, 250}) {
			t.Fatalf("%q: got %v", s, out)
		}
	}
	if _, err := DecodeURL("a"); err == nil {
		t.Fatal("expected error for impossible length")
	}
}

func TestBase64URLBijection(t *testing.T) {
	cfg := &quick.Config{
		MaxCount: 500,
		Values: func(args []reflect.Value, r *rand.Rand) {
			b := make([]byte, r.Intn(257))
			r.Read(b)
			args[0] = reflect.ValueOf(b)
		},
	}
	roundTrip := func(b []byte) bool {
		out, err := DecodeURL(EncodeURL(b))
		return err == nil && bytes.Equal(out, b)
	}
	if err := quick.Check(roundTrip, cfg); err != nil {
		t.Fatal(err)
	}
}
