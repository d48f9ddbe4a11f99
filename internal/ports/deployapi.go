package ports

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Deploy states reported by the remote platform.
const (
	DeployStateNew        = "new"
	DeployStatePrepared   = "prepared"
	DeployStateUploading  = "uploading"
	DeployStateUploaded   = "uploaded"
	DeployStateProcessing = "processing"
	DeployStateReady      = "ready"
	DeployStateError      = "error"
)

// Site is a remote site as created by the platform.
type Site struct {
	ID   string
	Name string
	URL  string
}

// Deploy is one remote deploy transaction.
type Deploy struct {
	ID     string
	SiteID string
	State  string
	// Required lists digests the remote does not hold yet.
	Required []string
	URL      string
	// ErrorMessage is the remote's explanation when State is "error".
	ErrorMessage string
}

// DeployAPI abstracts the hosting platform's file-digest deploy API.
// Production code uses the netlifyapi adapter; tests use MockDeployAPI.
type DeployAPI interface {
	// CreateSite allocates a new site with the given name.
	CreateSite(ctx context.Context, name string) (Site, error)

	// CreateDeploy opens a deploy on siteID for the path->digest manifest.
	CreateDeploy(ctx context.Context, siteID string, files map[string]string) (Deploy, error)

	// UploadFile sends the raw bytes of one file to an open deploy.
	UploadFile(ctx context.Context, deployID, path string, body io.Reader, size int64) error

	// GetDeploy returns the current state of a deploy.
	GetDeploy(ctx context.Context, deployID string) (Deploy, error)
}

// RemoteError is a failed call to the remote platform.
type RemoteError struct {
	Op string
	// StatusCode is the HTTP status, 0 for transport failures.
	StatusCode int
	Detail     string
	// RetryAfter is the delay the remote asked for, if any.
	RetryAfter time.Duration
	Err        error
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

func (e *RemoteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether repeating the call may succeed.
func (e *RemoteError) Retryable() bool {
	if e == nil {
		return false
	}
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == 408, e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// RetryDelay returns the remote's requested delay.
func (e *RemoteError) RetryDelay() time.Duration {
	if e == nil {
		return 0
	}
	return e.RetryAfter
}

// RemoteDetail returns the remote's diagnostic text.
func (e *RemoteError) RemoteDetail() string {
	if e == nil {
		return ""
	}
	return e.Detail
}

// RemoteStatus returns the HTTP status code.
func (e *RemoteError) RemoteStatus() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}
