package mocks

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/mcdonaldj/sitedrop/internal/ports"
)

// UploadCall records parameters of an UploadFile call.
type UploadCall struct {
	DeployID string
	Path     string
	Body     []byte
	Size     int64
}

// MockDeployAPI implements ports.DeployAPI for testing. It behaves like a
// content-addressed store: digests of acknowledged uploads are remembered
// and left out of the required set of later deploys.
// It is safe for concurrent use.
type MockDeployAPI struct {
	mu sync.Mutex

	// Store holds digests the remote already has
	Store map[string]bool

	// Errors maps method names to errors returned before any work
	Errors map[string]error
	// UploadFunc, if set, decides the outcome of each upload attempt.
	// attempt counts calls for the same path, starting at 1.
	UploadFunc func(path string, attempt int) error
	// UploadDelay slows every upload down to expose concurrency
	UploadDelay time.Duration
	// States is the sequence GetDeploy walks through; the last one sticks
	States []string
	// RequiredOverride, if non-nil, replaces the computed required set
	RequiredOverride []string

	// CreateSiteCalls records requested site names
	CreateSiteCalls []string
	// CreateDeployCalls records submitted manifests
	CreateDeployCalls []map[string]string
	// UploadCalls records every upload attempt
	UploadCalls []UploadCall
	// GetDeployCalls counts status polls
	GetDeployCalls int

	inFlight    int
	maxInFlight int
	attempts    map[string]int
	sites       int
	deploys     int
}

// NewMockDeployAPI creates a mock whose deploys become ready immediately.
func NewMockDeployAPI() *MockDeployAPI {
	return &MockDeployAPI{
		Store:    make(map[string]bool),
		Errors:   make(map[string]error),
		States:   []string{ports.DeployStateReady},
		attempts: make(map[string]int),
	}
}

// CreateSite allocates a fake site.
func (m *MockDeployAPI) CreateSite(ctx context.Context, name string) (ports.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateSiteCalls = append(m.CreateSiteCalls, name)
	if err, ok := m.Errors["CreateSite"]; ok {
		return ports.Site{}, err
	}
	m.sites++
	return ports.Site{
		ID:   fmt.Sprintf("site-%d", m.sites),
		Name: name,
		URL:  fmt.Sprintf("https://%s.example.app", name),
	}, nil
}

// CreateDeploy returns the digests not yet in Store as required.
func (m *MockDeployAPI) CreateDeploy(ctx context.Context, siteID string, files map[string]string) (ports.Deploy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make(map[string]string, len(files))
	for k, v := range files {
		copied[k] = v
	}
	m.CreateDeployCalls = append(m.CreateDeployCalls, copied)
	if err, ok := m.Errors["CreateDeploy"]; ok {
		return ports.Deploy{}, err
	}

	var required []string
	if m.RequiredOverride != nil {
		required = append(required, m.RequiredOverride...)
	} else {
		seen := make(map[string]bool)
		for _, digest := range files {
			if !m.Store[digest] && !seen[digest] {
				seen[digest] = true
				required = append(required, digest)
			}
		}
		sort.Strings(required)
	}

	m.deploys++
	return ports.Deploy{
		ID:       fmt.Sprintf("deploy-%d", m.deploys),
		SiteID:   siteID,
		State:    ports.DeployStatePrepared,
		Required: required,
	}, nil
}

// UploadFile reads the body, records the attempt, and stores its digest on
// success.
func (m *MockDeployAPI) UploadFile(ctx context.Context, deployID, path string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.UploadCalls = append(m.UploadCalls, UploadCall{DeployID: deployID, Path: path, Body: data, Size: size})
	m.attempts[path]++
	attempt := m.attempts[path]
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	fn := m.UploadFunc
	delay := m.UploadDelay
	injected, failed := m.Errors["UploadFile"]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failed {
		return injected
	}
	if fn != nil {
		if err := fn(path, attempt); err != nil {
			return err
		}
	}

	sum := sha1.Sum(data)
	m.mu.Lock()
	m.Store[hex.EncodeToString(sum[:])] = true
	m.mu.Unlock()
	return nil
}

// GetDeploy walks through States.
func (m *MockDeployAPI) GetDeploy(ctx context.Context, deployID string) (ports.Deploy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetDeployCalls++
	if err, ok := m.Errors["GetDeploy"]; ok {
		return ports.Deploy{}, err
	}
	idx := m.GetDeployCalls - 1
	if idx >= len(m.States) {
		idx = len(m.States) - 1
	}
	state := ports.DeployStateReady
	if idx >= 0 {
		state = m.States[idx]
	}
	d := ports.Deploy{ID: deployID, State: state}
	if state == ports.DeployStateError {
		d.ErrorMessage = "build failed on remote"
	}
	return d, nil
}

// Uploads returns a snapshot of recorded upload attempts.
func (m *MockDeployAPI) Uploads() []UploadCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]UploadCall(nil), m.UploadCalls...)
}

// MaxInFlight returns the highest number of concurrent uploads observed.
func (m *MockDeployAPI) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// Attempts returns how many times path was uploaded.
func (m *MockDeployAPI) Attempts(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[path]
}

// Compile-time check that MockDeployAPI implements ports.DeployAPI.
var _ ports.DeployAPI = (*MockDeployAPI)(nil)
