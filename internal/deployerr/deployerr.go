// Package deployerr classifies deployment failures so callers can tell bad
// input apart from remote rejections and transfer problems.
package deployerr

import (
	"context"
	"errors"
	"fmt"
)

// Category groups error codes by who has to act on them.
type Category string

const (
	CategoryInput      Category = "InputError"
	CategoryExtraction Category = "ExtractionError"
	CategoryAuth       Category = "AuthenticationError"
	CategoryRemote     Category = "RemoteError"
	CategoryUpload     Category = "UploadError"
	CategoryConfig     Category = "ConfigurationError"
)

// Code identifies a specific failure.
type Code string

const (
	MissingArchive      Code = "MissingArchive"
	InvalidArchive      Code = "InvalidArchive"
	ArchiveTooLarge     Code = "ArchiveTooLarge"
	TooManyEntries      Code = "TooManyEntries"
	EmptyArchive        Code = "EmptyArchive"
	MissingRootDocument Code = "MissingRootDocument"

	PathTraversalRejected Code = "PathTraversalRejected"
	SymlinkRejected       Code = "SymlinkRejected"
	ExtractionFailed      Code = "ExtractionFailed"
	UnreadableFile        Code = "UnreadableFile"

	AuthenticationFailed Code = "AuthenticationFailed"

	SiteCreationFailed Code = "SiteCreationFailed"
	ManifestRejected   Code = "ManifestRejected"
	FinalizationFailed Code = "FinalizationFailed"
	Canceled           Code = "Canceled"

	UploadFailed Code = "UploadFailed"

	NotConfigured Code = "NotConfigured"
)

var categories = map[Code]Category{
	MissingArchive:        CategoryInput,
	InvalidArchive:        CategoryInput,
	ArchiveTooLarge:       CategoryInput,
	TooManyEntries:        CategoryInput,
	EmptyArchive:          CategoryInput,
	MissingRootDocument:   CategoryInput,
	PathTraversalRejected: CategoryExtraction,
	SymlinkRejected:       CategoryExtraction,
	ExtractionFailed:      CategoryExtraction,
	UnreadableFile:        CategoryExtraction,
	AuthenticationFailed:  CategoryAuth,
	SiteCreationFailed:    CategoryRemote,
	ManifestRejected:      CategoryRemote,
	FinalizationFailed:    CategoryRemote,
	Canceled:              CategoryRemote,
	UploadFailed:          CategoryUpload,
	NotConfigured:         CategoryConfig,
}

// Category returns the category a code belongs to.
func (c Code) Category() Category {
	if cat, ok := categories[c]; ok {
		return cat
	}
	return CategoryRemote
}

// Error is a classified deployment failure.
type Error struct {
	Code    Code
	Message string
	// Detail is the remote platform's own diagnostic text, if any.
	Detail string
	// RemoteStatus is the HTTP status the remote answered with, 0 if none.
	RemoteStatus int
	Err          error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Category returns the error's category.
func (e *Error) Category() Category {
	return e.Code.Category()
}

// New builds an error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error around a cause. Remote detail and status are lifted
// from the cause when it carries them.
func Wrap(code Code, err error, format string, args ...any) *Error {
	e := &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
	var remote interface {
		RemoteDetail() string
		RemoteStatus() int
	}
	if errors.As(err, &remote) {
		e.Detail = remote.RemoteDetail()
		e.RemoteStatus = remote.RemoteStatus()
	}
	return e
}

// As extracts a classified error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of a classified error, or "" if err is not one.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Classify guarantees a classified error. Unclassified errors become
// fallback, context cancellation becomes Canceled.
func Classify(err error, fallback Code) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(Canceled, err, "deployment canceled")
	}
	return Wrap(fallback, err, "deployment failed")
}

// Payload is the wire form of a failure handed back to callers.
type Payload struct {
	Code         Code     `json:"code"`
	Category     Category `json:"category"`
	Message      string   `json:"error"`
	Detail       string   `json:"details,omitempty"`
	RemoteStatus int      `json:"remote_status,omitempty"`
}

// ToPayload renders err for callers.
func ToPayload(err error) Payload {
	e := Classify(err, ExtractionFailed)
	if e == nil {
		return Payload{}
	}
	msg := e.Message
	if e.Err != nil && e.Detail == "" {
		msg += ": " + e.Err.Error()
	}
	return Payload{
		Code:         e.Code,
		Category:     e.Category(),
		Message:      msg,
		Detail:       e.Detail,
		RemoteStatus: e.RemoteStatus,
	}
}
