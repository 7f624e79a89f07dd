package ipwl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ckwarden/ckwarden/internal/config"
	"github.com/ckwarden/ckwarden/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCheckAndUpdateRotatesIP(t *testing.T) {
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "10.0.0.2\n")
	}))
	defer echo.Close()

	var adds, dels atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("service") {
		case "AddWhite":
			adds.Add(1)
			if got := r.URL.Query().Get("white"); got != "10.0.0.2" {
				t.Errorf("added ip %q, want 10.0.0.2", got)
			}
			fmt.Fprint(w, `{"ret":200,"msg":"ok"}`)
		case "DelWhite":
			dels.Add(1)
			// Stale-IP removal fails; rotation must still complete.
			fmt.Fprint(w, `{"ret":500,"msg":"busy"}`)
		default:
			t.Errorf("unexpected service %q", r.URL.Query().Get("service"))
		}
	}))
	defer proxy.Close()

	st := newTestStore(t)
	if err := st.Set(store.KeyCurrentIP, "10.0.0.1"); err != nil {
		t.Fatal(err)
	}

	m := New(config.ProxyConfig{AuthKey: "k", APIURL: proxy.URL, EchoURL: echo.URL}, st, nil)
	if err := m.CheckAndUpdate(context.Background()); err != nil {
		t.Fatalf("CheckAndUpdate: %v", err)
	}
	if adds.Load() != 1 || dels.Load() != 1 {
		t.Errorf("adds=%d dels=%d, want 1 and 1", adds.Load(), dels.Load())
	}
	cached, err := st.Get(store.KeyCurrentIP)
	if err != nil {
		t.Fatal(err)
	}
	if cached != "10.0.0.2" {
		t.Errorf("cached ip = %q, want 10.0.0.2", cached)
	}
}

func TestCheckAndUpdateUnchangedIPIsNoop(t *testing.T) {
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "10.0.0.1")
	}))
	defer echo.Close()

	var calls atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"ret":200}`)
	}))
	defer proxy.Close()

	st := newTestStore(t)
	if err := st.Set(store.KeyCurrentIP, "10.0.0.1"); err != nil {
		t.Fatal(err)
	}

	m := New(config.ProxyConfig{AuthKey: "k", APIURL: proxy.URL, EchoURL: echo.URL}, st, nil)
	if err := m.CheckAndUpdate(context.Background()); err != nil {
		t.Fatalf("CheckAndUpdate: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("proxy API called %d times for an unchanged ip", calls.Load())
	}
}

func TestCheckAndUpdateAddFailureKeepsCache(t *testing.T) {
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "10.0.0.9")
	}))
	defer echo.Close()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ret":403,"msg":"bad authkey"}`)
	}))
	defer proxy.Close()

	st := newTestStore(t)
	if err := st.Set(store.KeyCurrentIP, "10.0.0.1"); err != nil {
		t.Fatal(err)
	}

	m := New(config.ProxyConfig{AuthKey: "k", APIURL: proxy.URL, EchoURL: echo.URL}, st, nil)
	if err := m.CheckAndUpdate(context.Background()); err == nil {
		t.Fatal("expected an error when the allowlist add is rejected")
	}
	cached, _ := st.Get(store.KeyCurrentIP)
	if cached != "10.0.0.1" {
		t.Errorf("cache changed to %q after a failed add", cached)
	}
}

func TestList(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("service") != "GetWhite" {
			t.Errorf("service = %q", r.URL.Query().Get("service"))
		}
		fmt.Fprint(w, `{"ret":200,"data":["1.2.3.4","5.6.7.8"]}`)
	}))
	defer proxy.Close()

	m := New(config.ProxyConfig{AuthKey: "k", APIURL: proxy.URL}, newTestStore(t), nil)
	ips, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ips) != 2 || ips[0] != "1.2.3.4" {
		t.Errorf("List = %v", ips)
	}
}
