// Package session drives one deployment through its remote lifecycle:
// site creation, manifest negotiation, upload, and finalization.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mcdonaldj/sitedrop/internal/deployerr"
	"github.com/mcdonaldj/sitedrop/internal/manifest"
	"github.com/mcdonaldj/sitedrop/internal/ports"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusNone              Status = ""
	StatusCreated           Status = "created"
	StatusManifestSubmitted Status = "manifest-submitted"
	StatusUploading         Status = "uploading"
	StatusReady             Status = "ready"
	StatusFailed            Status = "failed"
)

// transitions lists the allowed moves. Failure is reachable from every
// non-terminal state.
var transitions = map[Status][]Status{
	StatusNone:              {StatusCreated},
	StatusCreated:           {StatusManifestSubmitted, StatusFailed},
	StatusManifestSubmitted: {StatusUploading, StatusFailed},
	StatusUploading:         {StatusReady, StatusFailed},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one entry in a session's history.
type Transition struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// View is the read-only part of a session the upload scheduler needs.
type View interface {
	DeployID() string
	Required() []string
}

// Session is one deployment's remote state. Accessors are safe for
// concurrent use.
type Session struct {
	mu sync.RWMutex

	siteID    string
	siteName  string
	siteURL   string
	deployID  string
	deployURL string
	required  []string
	files     int
	status    Status
	history   []Transition
	err       error

	now func() time.Time
}

func (s *Session) SiteID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.siteID
}

func (s *Session) SiteName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.siteName
}

// URL returns the public address of the site.
func (s *Session) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.siteURL != "" {
		return s.siteURL
	}
	return s.deployURL
}

func (s *Session) DeployID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deployID
}

// Required returns a copy of the digests the remote asked for.
func (s *Session) Required() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.required...)
}

// Files returns the number of manifest entries submitted.
func (s *Session) Files() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.files
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Err returns the failure that ended the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// History returns a copy of every transition so far.
func (s *Session) History() []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Transition(nil), s.history...)
}

func (s *Session) transition(to Status, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.status, to) {
		return fmt.Errorf("invalid session transition %q -> %q", s.status, to)
	}
	s.history = append(s.history, Transition{From: s.status, To: to, At: s.now(), Note: note})
	s.status = to
	return nil
}

// Options configures a Manager.
type Options struct {
	// CallTimeout bounds each remote call. Zero means no extra bound.
	CallTimeout time.Duration
	// NamePrefix starts every generated site name.
	NamePrefix string
	// PollInterval is the wait between deploy state polls.
	PollInterval time.Duration
	// MaxPolls caps how often Finalize asks for the deploy state.
	MaxPolls int
	// WaitForReady makes Finalize wait for "ready" rather than accept any
	// processing state.
	WaitForReady bool
}

// DefaultOptions returns the settings used unless configured.
func DefaultOptions() Options {
	return Options{
		CallTimeout:  30 * time.Second,
		NamePrefix:   "site-",
		PollInterval: 2 * time.Second,
		MaxPolls:     30,
		WaitForReady: true,
	}
}

// Manager creates and advances sessions against a remote deploy API.
type Manager struct {
	api   ports.DeployAPI
	opts  Options
	names func() string
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a Manager. names generates unique site name suffixes.
func NewManager(api ports.DeployAPI, opts Options, names func() string) *Manager {
	if opts.MaxPolls < 1 {
		opts.MaxPolls = 1
	}
	return &Manager{
		api:   api,
		opts:  opts,
		names: names,
		now:   time.Now,
		sleep: sleepContext,
	}
}

func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.opts.CallTimeout)
}

// Start creates a fresh remote site. Sites are never reused.
func (m *Manager) Start(ctx context.Context) (*Session, error) {
	name := m.opts.NamePrefix + m.names()

	callCtx, cancel := m.callContext(ctx)
	site, err := m.api.CreateSite(callCtx, name)
	cancel()
	if err != nil {
		return nil, deployerr.Wrap(deployerr.SiteCreationFailed, err, "creating site %s", name)
	}

	s := &Session{
		siteID:   site.ID,
		siteName: site.Name,
		siteURL:  site.URL,
		now:      m.now,
	}
	if s.siteName == "" {
		s.siteName = name
	}
	if err := s.transition(StatusCreated, "site "+site.ID); err != nil {
		return nil, err
	}
	return s, nil
}

// SubmitManifest sends the manifest and records which digests the remote
// still needs.
func (m *Manager) SubmitManifest(ctx context.Context, s *Session, fm *manifest.FileManifest) error {
	if !CanTransition(s.Status(), StatusManifestSubmitted) {
		return fmt.Errorf("cannot submit manifest in state %q", s.Status())
	}

	callCtx, cancel := m.callContext(ctx)
	d, err := m.api.CreateDeploy(callCtx, s.SiteID(), fm.Files())
	cancel()
	if err != nil {
		return deployerr.Wrap(deployerr.ManifestRejected, err, "submitting manifest for site %s", s.SiteID())
	}

	s.mu.Lock()
	s.deployID = d.ID
	s.deployURL = d.URL
	s.files = fm.Len()
	s.mu.Unlock()

	known := make(map[string]bool, fm.Len())
	for _, e := range fm.Entries {
		known[e.Digest] = true
	}
	seen := make(map[string]bool, len(d.Required))
	required := make([]string, 0, len(d.Required))
	for _, digest := range d.Required {
		if !known[digest] {
			return deployerr.New(deployerr.ManifestRejected, "remote requested unknown digest %s", digest)
		}
		if !seen[digest] {
			seen[digest] = true
			required = append(required, digest)
		}
	}
	sort.Strings(required)

	s.mu.Lock()
	s.required = required
	s.mu.Unlock()

	return s.transition(StatusManifestSubmitted, fmt.Sprintf("deploy %s, %d of %d files required", d.ID, len(required), fm.Len()))
}

// BeginUpload marks the session as transferring files.
func (m *Manager) BeginUpload(s *Session) error {
	return s.transition(StatusUploading, "")
}

// Finalize waits for the remote to accept the deploy.
func (m *Manager) Finalize(ctx context.Context, s *Session) error {
	if s.Status() != StatusUploading {
		return fmt.Errorf("cannot finalize in state %q", s.Status())
	}

	for poll := 1; poll <= m.opts.MaxPolls; poll++ {
		callCtx, cancel := m.callContext(ctx)
		d, err := m.api.GetDeploy(callCtx, s.DeployID())
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return deployerr.Wrap(deployerr.FinalizationFailed, err, "checking deploy %s", s.DeployID())
		}

		if d.URL != "" {
			s.mu.Lock()
			s.deployURL = d.URL
			s.mu.Unlock()
		}

		switch {
		case d.State == ports.DeployStateReady:
			return s.transition(StatusReady, "")
		case d.State == ports.DeployStateError:
			e := deployerr.New(deployerr.FinalizationFailed, "deploy %s failed on the remote", s.DeployID())
			e.Detail = d.ErrorMessage
			return e
		case !m.opts.WaitForReady && processing(d.State):
			return s.transition(StatusReady, "accepted in state "+d.State)
		}

		if poll < m.opts.MaxPolls {
			if err := m.sleep(ctx, m.opts.PollInterval); err != nil {
				return err
			}
		}
	}

	e := deployerr.New(deployerr.FinalizationFailed, "deploy %s did not become ready after %d checks", s.DeployID(), m.opts.MaxPolls)
	e.Detail = "deploy not ready"
	return e
}

// Fail ends a session with err. Failing an already failed session is a
// no-op; failing a ready one is an error.
func (m *Manager) Fail(s *Session, err error) error {
	if st := s.Status(); st.Terminal() {
		if st == StatusFailed {
			return nil
		}
		return fmt.Errorf("cannot fail session in state %q", st)
	}
	note := ""
	if err != nil {
		note = err.Error()
	}
	if terr := s.transition(StatusFailed, note); terr != nil {
		return terr
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return nil
}

// processing reports whether the remote has taken over the deploy.
func processing(state string) bool {
	switch state {
	case ports.DeployStateUploaded, ports.DeployStateProcessing:
		return true
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
