package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ckwarden/ckwarden/internal/config"
	"github.com/ckwarden/ckwarden/internal/cookie"
	"github.com/ckwarden/ckwarden/internal/notify"
	"github.com/ckwarden/ckwarden/internal/panel"
	"github.com/ckwarden/ckwarden/internal/store"
)

type fakePanel struct {
	name    string
	creds   []cookie.Credential
	listErr error
	delErr  error
	addErr  error

	mu      sync.Mutex
	deleted [][]panel.RemoteID
	added   [][]cookie.Credential
}

func (f *fakePanel) Name() string { return f.name }

func (f *fakePanel) ListCredentials(_ context.Context, includeDisabled bool) ([]cookie.Credential, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []cookie.Credential
	for _, c := range f.creds {
		if c.Enabled || includeDisabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakePanel) DeleteCredentials(_ context.Context, ids []panel.RemoteID) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids)
	return nil
}

func (f *fakePanel) AddCredentials(_ context.Context, creds []cookie.Credential) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, creds)
	return nil
}

func cred(pin, key, remarks string, enabled bool, id string) cookie.Credential {
	return cookie.Credential{
		Pin:      "pt_pin=" + pin,
		Key:      "pt_key=" + key,
		Value:    "pt_key=" + key + ";pt_pin=" + pin + ";",
		Remarks:  remarks,
		Enabled:  enabled,
		RemoteID: json.RawMessage(id),
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRunAbortsOnEmptyPrimary(t *testing.T) {
	primary := &fakePanel{name: "primary"}
	sec := &fakePanel{name: "sec1", creds: []cookie.Credential{cred("old", "k", "", true, "1")}}

	s := New(primary, []PanelAPI{sec}, nil, newTestStore(t), nil, filepath.Join(t.TempDir(), "ck.txt"))
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected an error for an empty primary")
	}
	if len(sec.deleted) != 0 || len(sec.added) != 0 {
		t.Error("secondary was touched despite the aborted pass")
	}
}

// testNotifier is a Telegram-backed notifier pointed at a local fake,
// counting deliveries.
func testNotifier(t *testing.T) (*notify.Notifier, *atomic.Int32) {
	t.Helper()
	var sent atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			sent.Add(1)
		}
	}))
	t.Cleanup(srv.Close)
	return notify.New(config.TelegramConfig{Token: "tok", APIBase: srv.URL, AdminIDs: []int64{1}}), &sent
}

func TestRunNotifiesOperatorOnAbortedPass(t *testing.T) {
	primary := &fakePanel{name: "primary", listErr: errors.New("auth expired")}
	sec := &fakePanel{name: "sec1"}
	notifier, sent := testNotifier(t)

	s := New(primary, []PanelAPI{sec}, nil, newTestStore(t), notifier, filepath.Join(t.TempDir(), "ck.txt"))
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected an error when the primary listing fails")
	}
	if sent.Load() == 0 {
		t.Error("aborted pass sent no operator notification")
	}
}

func TestRunNotifiesOperatorOnEmptyPrimary(t *testing.T) {
	primary := &fakePanel{name: "primary"}
	notifier, sent := testNotifier(t)

	s := New(primary, nil, nil, newTestStore(t), notifier, filepath.Join(t.TempDir(), "ck.txt"))
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected an error for an empty primary")
	}
	if sent.Load() == 0 {
		t.Error("empty-primary abort sent no operator notification")
	}
}

func TestRunPreservesAndReplicates(t *testing.T) {
	a := cred("alice", "ka", "phone-a", true, "7")
	b := cred("bob", "kb", "phone-b", true, "8")
	primary := &fakePanel{name: "primary", creds: []cookie.Credential{a, b}}

	// Secondary holds a stale copy of alice plus a preserved local cookie.
	sec := &fakePanel{name: "sec1", creds: []cookie.Credential{
		cred("alice", "stale", "", true, "101"),
		cred("local", "klocal", "", false, "102"),
	}}

	s := New(primary, []PanelAPI{sec}, []string{"local"}, newTestStore(t), nil, filepath.Join(t.TempDir(), "ck.txt"))
	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Failed() {
		t.Fatalf("pass failed: %+v", sum)
	}

	if len(sec.deleted) != 1 {
		t.Fatalf("delete calls = %d, want 1", len(sec.deleted))
	}
	if len(sec.deleted[0]) != 1 || string(sec.deleted[0][0]) != "101" {
		t.Errorf("deleted ids = %v, want exactly [101]", sec.deleted[0])
	}

	if len(sec.added) != 1 {
		t.Fatalf("add calls = %d, want 1", len(sec.added))
	}
	got := sec.added[0]
	if len(got) != 2 || got[0].Value != a.Value || got[1].Value != b.Value {
		t.Errorf("added %+v, want alice and bob verbatim", got)
	}
	if got[0].Remarks != "phone-a" || got[1].Remarks != "phone-b" {
		t.Error("remarks were not carried over verbatim")
	}
	if sum.Deleted != 1 || sum.Cookies != 2 {
		t.Errorf("summary deleted=%d cookies=%d, want 1 and 2", sum.Deleted, sum.Cookies)
	}
}

func TestRunIsolatesPanelFailure(t *testing.T) {
	primary := &fakePanel{name: "primary", creds: []cookie.Credential{cred("alice", "ka", "", true, "1")}}
	healthy := &fakePanel{name: "healthy"}
	broken := &fakePanel{
		name:    "broken",
		listErr: errors.New("connection refused"),
		addErr:  errors.New("connection refused"),
	}

	s := New(primary, []PanelAPI{broken, healthy}, nil, newTestStore(t), nil, filepath.Join(t.TempDir(), "ck.txt"))
	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sum.Failed() {
		t.Error("summary should report the broken panel")
	}

	if len(healthy.added) != 1 {
		t.Errorf("healthy panel add calls = %d, want 1", len(healthy.added))
	}
	bad := sum.CleanPhase[0]
	if bad.Panel != "broken" || bad.OK || bad.Deleted != 0 {
		t.Errorf("broken clean outcome = %+v", bad)
	}
	if !strings.Contains(bad.Message, "connection refused") {
		t.Errorf("outcome message %q should carry the cause", bad.Message)
	}
	// The add phase still ran against the broken panel independently.
	if sum.AddPhase[0].OK {
		t.Error("broken panel add should have failed")
	}
	if !sum.AddPhase[1].OK {
		t.Error("healthy panel add should have succeeded")
	}
}

func TestFetchPrimaryWritesFileAndHash(t *testing.T) {
	a := cred("alice", "ka", "", true, "1")
	b := cred("bob", "kb", "", true, "2")
	primary := &fakePanel{name: "primary", creds: []cookie.Credential{a, b}}
	st := newTestStore(t)
	ckFile := filepath.Join(t.TempDir(), "env", "ck.txt")

	s := New(primary, nil, nil, st, nil, ckFile)
	n, err := s.FetchPrimary(context.Background())
	if err != nil {
		t.Fatalf("FetchPrimary: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	data, err := os.ReadFile(ckFile)
	if err != nil {
		t.Fatalf("read ck file: %v", err)
	}
	want := a.Value + "\n" + b.Value + "\n"
	if string(data) != want {
		t.Errorf("ck file = %q, want %q", data, want)
	}

	hash, err := st.Get(store.KeyCKHash)
	if err != nil {
		t.Fatal(err)
	}
	if hash != cookie.SetHash([]string{a.Value, b.Value}) {
		t.Error("cached hash does not match the fetched set")
	}
}

func TestRefreshIfChangedSkipsWhenHashMatches(t *testing.T) {
	a := cred("alice", "ka", "", true, "1")
	primary := &fakePanel{name: "primary", creds: []cookie.Credential{a}}
	sec := &fakePanel{name: "sec1"}
	st := newTestStore(t)
	if err := st.Set(store.KeyCKHash, cookie.SetHash([]string{a.Value})); err != nil {
		t.Fatal(err)
	}

	s := New(primary, []PanelAPI{sec}, nil, st, nil, filepath.Join(t.TempDir(), "ck.txt"))
	if err := s.RefreshIfChanged(context.Background()); err != nil {
		t.Fatalf("RefreshIfChanged: %v", err)
	}
	if len(sec.added) != 0 || len(sec.deleted) != 0 {
		t.Error("unchanged cookie set must not trigger a pass")
	}
}

func TestReportCountsInventory(t *testing.T) {
	primary := &fakePanel{name: "primary", creds: []cookie.Credential{
		cred("alice", "ka", "", true, "1"),
		cred("local", "kl", "", false, "2"),
	}}
	broken := &fakePanel{name: "broken", listErr: errors.New("timeout")}

	s := New(primary, []PanelAPI{broken}, []string{"local"}, newTestStore(t), nil, "")
	statuses := s.Report(context.Background())
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
	p := statuses[0]
	if p.Panel != "primary" || !p.OK || p.Total != 2 || p.Enabled != 1 || p.Disabled != 1 || p.Preserved != 1 {
		t.Errorf("primary status = %+v", p)
	}
	if statuses[1].OK || statuses[1].Err == "" {
		t.Errorf("broken status = %+v", statuses[1])
	}
}

func TestCleanSecondariesDeletesWithoutAdding(t *testing.T) {
	sec := &fakePanel{name: "sec1", creds: []cookie.Credential{
		cred("alice", "ka", "", true, "11"),
		cred("local", "kl", "", true, "12"),
	}}
	s := New(&fakePanel{name: "primary"}, []PanelAPI{sec}, []string{"local"}, newTestStore(t), nil, "")

	outs := s.CleanSecondaries(context.Background())
	if len(outs) != 1 || !outs[0].OK || outs[0].Deleted != 1 {
		t.Fatalf("outcomes = %+v", outs)
	}
	if len(sec.deleted) != 1 || string(sec.deleted[0][0]) != "11" {
		t.Errorf("deleted = %v, want [11]", sec.deleted)
	}
	if len(sec.added) != 0 {
		t.Error("clean must not add anything")
	}
}
