// Package syncer replicates the session-cookie set from the primary
// automation panel to every secondary panel. A pass is two phases with
// a hard barrier between them: first every secondary is cleaned of
// non-preserved cookies, then the primary's cookies are added. Panels
// fail independently; one broken secondary never blocks the rest.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ckwarden/ckwarden/internal/cookie"
	"github.com/ckwarden/ckwarden/internal/notify"
	"github.com/ckwarden/ckwarden/internal/panel"
	"github.com/ckwarden/ckwarden/internal/store"
)

// PanelAPI is the slice of the panel client the syncer needs.
type PanelAPI interface {
	Name() string
	ListCredentials(ctx context.Context, includeDisabled bool) ([]cookie.Credential, error)
	DeleteCredentials(ctx context.Context, ids []panel.RemoteID) error
	AddCredentials(ctx context.Context, creds []cookie.Credential) error
}

// Outcome is the result of one phase on one panel.
type Outcome struct {
	Panel   string
	OK      bool
	Deleted int
	Message string
}

// Summary aggregates one full sync pass.
type Summary struct {
	PassID     string
	Cookies    int
	Deleted    int
	CleanPhase []Outcome
	AddPhase   []Outcome
}

// Failed reports whether any panel failed in either phase.
func (s *Summary) Failed() bool {
	for _, o := range append(append([]Outcome{}, s.CleanPhase...), s.AddPhase...) {
		if !o.OK {
			return true
		}
	}
	return false
}

// PanelStatus is a read-only snapshot of one panel's cookie inventory.
type PanelStatus struct {
	Panel     string
	OK        bool
	Total     int
	Enabled   int
	Disabled  int
	Preserved int
	Err       string
}

// Syncer owns the primary panel, the replication targets and the
// preservation list.
type Syncer struct {
	primary     PanelAPI
	secondaries []PanelAPI
	preserved   []string
	store       *store.Store
	notifier    *notify.Notifier
	ckFile      string
}

// New creates a Syncer. The notifier may be nil.
func New(primary PanelAPI, secondaries []PanelAPI, preserved []string, st *store.Store, n *notify.Notifier, ckFile string) *Syncer {
	return &Syncer{
		primary:     primary,
		secondaries: secondaries,
		preserved:   preserved,
		store:       st,
		notifier:    n,
		ckFile:      ckFile,
	}
}

// Run executes one full sync pass: list the primary, clean every
// secondary concurrently, wait for all cleans to finish, then add the
// primary's cookies to every secondary concurrently. An empty primary
// aborts the pass before any secondary is touched.
func (s *Syncer) Run(ctx context.Context) (*Summary, error) {
	passID := uuid.NewString()[:8]
	log := slog.With("pass", passID)

	creds, err := s.primary.ListCredentials(ctx, false)
	if err != nil {
		log.Error("primary listing failed, pass aborted", "panel", s.primary.Name(), "error", err)
		err = fmt.Errorf("list primary %s: %w", s.primary.Name(), err)
		s.notifyAbort(ctx, passID, err)
		return nil, err
	}
	if len(creds) == 0 {
		log.Warn("primary has no enabled cookies, pass aborted", "panel", s.primary.Name())
		err = fmt.Errorf("primary %s has no enabled cookies", s.primary.Name())
		s.notifyAbort(ctx, passID, err)
		return nil, err
	}
	log.Info("sync pass started", "cookies", len(creds), "panels", len(s.secondaries))

	sum := &Summary{PassID: passID, Cookies: len(creds)}
	sum.CleanPhase = s.fanOut(ctx, log, "clean", func(ctx context.Context, p PanelAPI) (int, error) {
		return s.cleanPanel(ctx, p)
	})
	for _, o := range sum.CleanPhase {
		sum.Deleted += o.Deleted
	}

	// Barrier crossed: every clean has returned, adds may begin.
	sum.AddPhase = s.fanOut(ctx, log, "add", func(ctx context.Context, p PanelAPI) (int, error) {
		if err := p.AddCredentials(ctx, creds); err != nil {
			return 0, err
		}
		return len(creds), nil
	})

	if sum.Failed() {
		log.Warn("sync pass finished with failures", "deleted", sum.Deleted)
		if s.notifier != nil {
			s.notifier.Send(ctx, "CK sync finished with failures", s.describe(sum))
		}
	} else {
		log.Info("sync pass complete", "deleted", sum.Deleted, "added", len(creds))
	}
	return sum, nil
}

// notifyAbort reports a pass that never reached the secondaries.
func (s *Syncer) notifyAbort(ctx context.Context, passID string, err error) {
	if s.notifier == nil {
		return
	}
	s.notifier.Send(ctx, "CK sync aborted",
		fmt.Sprintf("Pass %s aborted before any panel was touched.\n%v", passID, err))
}

// fanOut runs op against every secondary concurrently and joins before
// returning. Outcomes are indexed by panel order; a panicking goroutine
// becomes a failed outcome instead of taking the process down.
func (s *Syncer) fanOut(ctx context.Context, log *slog.Logger, phase string, op func(context.Context, PanelAPI) (int, error)) []Outcome {
	outcomes := make([]Outcome, len(s.secondaries))
	var wg sync.WaitGroup
	for i, p := range s.secondaries {
		wg.Add(1)
		go func(i int, p PanelAPI) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error("panel phase panicked", "phase", phase, "panel", p.Name(), "panic", r)
					outcomes[i] = Outcome{Panel: p.Name(), Message: fmt.Sprintf("panic: %v", r)}
				}
			}()
			n, err := op(ctx, p)
			if err != nil {
				log.Error("panel phase failed", "phase", phase, "panel", p.Name(), "error", err)
				outcomes[i] = Outcome{Panel: p.Name(), Message: err.Error()}
				return
			}
			log.Info("panel phase ok", "phase", phase, "panel", p.Name(), "count", n)
			out := Outcome{Panel: p.Name(), OK: true}
			if phase == "clean" {
				out.Deleted = n
			}
			outcomes[i] = out
		}(i, p)
	}
	wg.Wait()
	return outcomes
}

// cleanPanel deletes every cookie on p whose pin is not preserved.
// Disabled cookies are included: stale disabled entries count as
// garbage too.
func (s *Syncer) cleanPanel(ctx context.Context, p PanelAPI) (int, error) {
	existing, err := p.ListCredentials(ctx, true)
	if err != nil {
		return 0, err
	}
	var ids []panel.RemoteID
	for _, c := range existing {
		if cookie.IsPreserved(c.Pin, s.preserved) {
			continue
		}
		if len(c.RemoteID) > 0 {
			ids = append(ids, panel.RemoteID(c.RemoteID))
		}
	}
	if err := p.DeleteCredentials(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// CleanSecondaries deletes non-preserved cookies from every secondary
// without adding anything back. Used by the explicit clean command.
func (s *Syncer) CleanSecondaries(ctx context.Context) []Outcome {
	log := slog.With("pass", uuid.NewString()[:8])
	return s.fanOut(ctx, log, "clean", func(ctx context.Context, p PanelAPI) (int, error) {
		return s.cleanPanel(ctx, p)
	})
}

// FetchPrimary pulls the primary's enabled cookies, writes them one per
// line to the CK file and caches the set hash. It returns the cookie
// count.
func (s *Syncer) FetchPrimary(ctx context.Context) (int, error) {
	creds, err := s.primary.ListCredentials(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("list primary %s: %w", s.primary.Name(), err)
	}
	values := make([]string, 0, len(creds))
	for _, c := range creds {
		values = append(values, c.Value)
	}

	if err := os.MkdirAll(filepath.Dir(s.ckFile), 0o755); err != nil {
		return 0, fmt.Errorf("create ck dir: %w", err)
	}
	content := strings.Join(values, "\n")
	if len(values) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(s.ckFile, []byte(content), 0o600); err != nil {
		return 0, fmt.Errorf("write ck file: %w", err)
	}

	hash := cookie.SetHash(values)
	if err := s.store.Set(store.KeyCKHash, hash); err != nil {
		return 0, fmt.Errorf("cache ck hash: %w", err)
	}
	slog.Info("primary cookies fetched", "count", len(values), "file", s.ckFile)
	return len(values), nil
}

// RefreshIfChanged fetches the primary's cookies and triggers a sync
// pass only when the set hash differs from the cached one.
func (s *Syncer) RefreshIfChanged(ctx context.Context) error {
	creds, err := s.primary.ListCredentials(ctx, false)
	if err != nil {
		return fmt.Errorf("list primary %s: %w", s.primary.Name(), err)
	}
	values := make([]string, 0, len(creds))
	for _, c := range creds {
		values = append(values, c.Value)
	}
	hash := cookie.SetHash(values)
	cached, err := s.store.Get(store.KeyCKHash)
	if err != nil {
		return fmt.Errorf("read cached ck hash: %w", err)
	}
	if hash == cached {
		slog.Debug("cookie set unchanged", "cookies", len(values))
		return nil
	}
	slog.Info("cookie set changed, refreshing", "cookies", len(values))
	if _, err := s.FetchPrimary(ctx); err != nil {
		return err
	}
	_, err = s.Run(ctx)
	return err
}

// Report snapshots every panel (primary first) for the status command.
func (s *Syncer) Report(ctx context.Context) []PanelStatus {
	panels := append([]PanelAPI{s.primary}, s.secondaries...)
	statuses := make([]PanelStatus, len(panels))
	var wg sync.WaitGroup
	for i, p := range panels {
		wg.Add(1)
		go func(i int, p PanelAPI) {
			defer wg.Done()
			st := PanelStatus{Panel: p.Name()}
			creds, err := p.ListCredentials(ctx, true)
			if err != nil {
				st.Err = err.Error()
				statuses[i] = st
				return
			}
			st.OK = true
			st.Total = len(creds)
			for _, c := range creds {
				if c.Enabled {
					st.Enabled++
				} else {
					st.Disabled++
				}
				if cookie.IsPreserved(c.Pin, s.preserved) {
					st.Preserved++
				}
			}
			statuses[i] = st
		}(i, p)
	}
	wg.Wait()
	return statuses
}

// describe renders a pass summary for operator notifications.
func (s *Syncer) describe(sum *Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pass %s: %d cookies, %d deleted\n", sum.PassID, sum.Cookies, sum.Deleted)
	writePhase := func(name string, outs []Outcome) {
		fmt.Fprintf(&b, "\n%s:\n", name)
		for _, o := range outs {
			if o.OK {
				fmt.Fprintf(&b, "  %s: ok\n", o.Panel)
			} else {
				fmt.Fprintf(&b, "  %s: FAILED (%s)\n", o.Panel, o.Message)
			}
		}
	}
	writePhase("Clean phase", sum.CleanPhase)
	writePhase("Add phase", sum.AddPhase)
	return b.String()
}
