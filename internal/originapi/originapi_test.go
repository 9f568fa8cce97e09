package originapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func keyLiteral(first byte, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprint(i % 200)
	}
	parts[0] = fmt.Sprint(first)
	return "new Uint8Array([" + strings.Join(parts, ", ") + "])"
}

func newScriptServer(t *testing.T, main string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var fetches atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/sw.js", func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		fmt.Fprint(w, `self.importScripts('/static/main.js');`)
	})
	mux.HandleFunc("/static/main.js", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, main)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func TestScriptSourcePicksThirdKey(t *testing.T) {
	main := strings.Join([]string{
		"const a = " + keyLiteral(1, 65) + ";",
		"const b = " + keyLiteral(2, 65) + ";",
		"const c = Uint8Array( [" + strings.TrimSuffix(strings.TrimPrefix(keyLiteral(4, 65), "new Uint8Array(["), "])") + "] );",
		`var cfg = {URL: "https://api.push.nicovideo.jp/v2/custom/endpoints.json"};`,
	}, "\n")
	srv, fetches := newScriptServer(t, main)

	src := NewScriptSource(NewTransportWithClient(srv.Client(), nil), srv.URL+"/sw.js", -1)
	key, err := src.VAPIDKey(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != 65 || key[0] != 4 {
		t.Fatalf("key = %x", key)
	}
	if got := src.RegistrationURL(); got != "https://api.push.nicovideo.jp/v2/custom/endpoints.json" {
		t.Fatalf("registration URL = %s", got)
	}

	// Cached.
	if _, err := src.VAPIDKey(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("service worker fetched %d times, want 1", n)
	}
}

func TestScriptSourceFallsBackToLastKey(t *testing.T) {
	main := "x=" + keyLiteral(1, 65) + ";y=" + keyLiteral(4, 65)
	srv, _ := newScriptServer(t, main)

	src := NewScriptSource(NewTransportWithClient(srv.Client(), nil), srv.URL+"/sw.js", DefaultKeyIndex)
	key, err := src.VAPIDKey(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if key[0] != 4 {
		t.Fatalf("first byte = %d, want the last literal (4)", key[0])
	}
	if got := src.RegistrationURL(); got != DefaultRegistrationURL {
		t.Fatalf("registration URL = %s, want default", got)
	}
}

func TestExtractKeyErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   error
	}{
		{"no literal", "const x = 1;", ErrVAPIDNotFound},
		{"short key", keyLiteral(4, 64), ErrInvalidVAPIDKey},
		{"byte overflow", "new Uint8Array([4, 256])", ErrInvalidVAPIDKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := extractKey(tt.script, 0); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestScriptSourceMissingImport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "self.addEventListener('push', () => {});")
	}))
	defer srv.Close()

	src := NewScriptSource(NewTransportWithClient(srv.Client(), nil), srv.URL+"/sw.js", -1)
	if _, err := src.VAPIDKey(context.Background()); !errors.Is(err, ErrVAPIDNotFound) {
		t.Fatalf("err = %v, want ErrVAPIDNotFound", err)
	}
}

func TestScriptSourceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	src := NewScriptSource(NewTransportWithClient(srv.Client(), nil), srv.URL+"/sw.js", -1)
	_, err := src.VAPIDKey(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 StatusError", err)
	}
}

func TestParseStaticKey(t *testing.T) {
	const prod = "BC08Fdr2JChSL0kr5imO99L6zZG6Rn0tBAWNTlrZfJtsDoeAvmJSa7CnUOHpNhd5zOk0YnRToEOT47YLet8Dpig="
	k, err := ParseStaticKey(prod)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := k.VAPIDKey(context.Background())
	if len(got) != 65 || got[0] != 4 {
		t.Fatalf("key = %x", got)
	}
	if _, err := ParseStaticKey("AAAA"); !errors.Is(err, ErrInvalidVAPIDKey) {
		t.Fatalf("short key err = %v", err)
	}
}

type capturedRequest struct {
	method  string
	header  http.Header
	cookie  string
	payload registrationBody
}

func newRegistrationServer(t *testing.T, status int) (*httptest.Server, chan capturedRequest) {
	t.Helper()
	reqs := make(chan capturedRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c capturedRequest
		c.method = r.Method
		c.header = r.Header.Clone()
		if ck, err := r.Cookie("user_session"); err == nil {
			c.cookie = ck.Value
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &c.payload); err != nil {
			t.Errorf("bad body %q: %v", data, err)
		}
		reqs <- c
		w.WriteHeader(status)
		fmt.Fprint(w, `{"meta":{"status":`+fmt.Sprint(status)+`}}`)
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func TestRegistrarRegister(t *testing.T) {
	srv, reqs := newRegistrationServer(t, http.StatusCreated)
	r := NewRegistrar(NewTransportWithClient(srv.Client(), nil), "user_session_123", func() string { return srv.URL })

	sub := Subscription{Endpoint: "https://push.example/wpush/v2/abc", Auth: "YXV0aA==", P256dh: "BPUB"}
	if err := r.Register(context.Background(), sub); err != nil {
		t.Fatal(err)
	}

	c := <-reqs
	if c.method != http.MethodPost {
		t.Fatalf("method = %s", c.method)
	}
	if c.cookie != "user_session_123" {
		t.Fatalf("cookie = %q", c.cookie)
	}
	for k, want := range map[string]string{
		"Content-Type":  "application/json",
		"Accept":        "application/json",
		"X-Frontend-Id": "8",
		"Origin":        "https://account.nicovideo.jp",
	} {
		if got := c.header.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if c.header.Get("X-Request-With") == "" {
		t.Error("X-Request-With missing")
	}
	if c.payload.DestApp != "nico_account_webpush" || c.payload.Endpoint != sub {
		t.Fatalf("payload = %+v", c.payload)
	}
}

func TestRegistrarUnregister(t *testing.T) {
	srv, reqs := newRegistrationServer(t, http.StatusOK)
	r := NewRegistrar(NewTransportWithClient(srv.Client(), nil), "s", func() string { return srv.URL })

	if err := r.Unregister(context.Background(), "https://push.example/x"); err != nil {
		t.Fatal(err)
	}
	c := <-reqs
	if c.method != http.MethodDelete {
		t.Fatalf("method = %s", c.method)
	}
	if c.payload.Endpoint != (Subscription{Endpoint: "https://push.example/x"}) {
		t.Fatalf("payload endpoint = %+v", c.payload.Endpoint)
	}
}

func TestRegistrarFailureStatus(t *testing.T) {
	srv, _ := newRegistrationServer(t, http.StatusForbidden)
	r := NewRegistrar(NewTransportWithClient(srv.Client(), nil), "s", func() string { return srv.URL })

	err := r.Register(context.Background(), Subscription{Endpoint: "e"})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusForbidden {
		t.Fatalf("err = %v, want 403 StatusError", err)
	}
	if !strings.Contains(se.Body, "403") {
		t.Fatalf("body = %q", se.Body)
	}
}

func TestRegistrarNoSession(t *testing.T) {
	r := NewRegistrar(NewTransport(nil, nil), "", nil)
	if err := r.Register(context.Background(), Subscription{}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}
