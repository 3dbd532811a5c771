package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/portalworks/docbrowse/internal/config"
	dbhttp "github.com/portalworks/docbrowse/internal/http"
	"github.com/portalworks/docbrowse/internal/models"
)

// Kind is the error taxonomy shared by browsing and file operations
type Kind int

const (
	KindUnknown Kind = iota
	KindNotConfigured
	KindNeedsAuth
	KindNotFound
	KindAccessDenied
	KindValidation
	KindOperationFailed
)

func (k Kind) String() string {
	switch k {
	case KindNotConfigured:
		return "NotConfigured"
	case KindNeedsAuth:
		return "NeedsUpstreamAuth"
	case KindNotFound:
		return "NotFound"
	case KindAccessDenied:
		return "AccessDenied"
	case KindValidation:
		return "ValidationError"
	case KindOperationFailed:
		return "OperationFailed"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is checks
var (
	ErrNotConfigured = errors.New("document store not configured")
	ErrNeedsAuth     = errors.New("upstream authentication required")
	ErrNotFound      = errors.New("not found")
	ErrAccessDenied  = errors.New("access denied")
)

// Error is a classified gateway failure
type Error struct {
	Kind   Kind
	Op     string // "list", "search", "upload", ...
	Status int    // HTTP status when known
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.Status, msg)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotConfigured:
		return e.Kind == KindNotConfigured
	case ErrNeedsAuth:
		return e.Kind == KindNeedsAuth
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrAccessDenied:
		return e.Kind == KindAccessDenied
	}
	return false
}

// NewError wraps err with a kind and operation
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// StatusError builds a classified error from an HTTP status and body excerpt
func StatusError(op string, status int, body string) *Error {
	return &Error{
		Kind:   KindFromStatus(status),
		Op:     op,
		Status: status,
		Err:    errors.New(body),
	}
}

// KindFromStatus maps an HTTP status onto the taxonomy
func KindFromStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindNeedsAuth
	case http.StatusForbidden:
		return KindAccessDenied
	case http.StatusNotFound, http.StatusGone:
		return KindNotFound
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return KindOperationFailed
	default:
		return KindUnknown
	}
}

// KindOf returns the taxonomy kind of err. Typed errors win; otherwise the
// error text is classified the same way the transport layer does.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}

	switch {
	case errors.Is(err, ErrNotConfigured), errors.Is(err, config.ErrNotConfigured):
		return KindNotConfigured
	case errors.Is(err, ErrNeedsAuth):
		return KindNeedsAuth
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAccessDenied):
		return KindAccessDenied
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindUnknown
	}

	return Classify(err)
}

// Classify maps an untyped error onto the taxonomy using the transport error classes
func Classify(err error) Kind {
	switch dbhttp.ClassifyError(err) {
	case dbhttp.ErrorTypeNotFound:
		return KindNotFound
	case dbhttp.ErrorTypeCredential:
		return credentialKind(err)
	default:
		return KindUnknown
	}
}

// credentialKind separates "who are you" from "you may not"
func credentialKind(err error) Kind {
	if dbhttp.IsForbidden(err) {
		return KindAccessDenied
	}
	return KindNeedsAuth
}

// IsNotFound reports whether err means the addressed item no longer exists
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsNeedsAuth reports whether err means the upstream session is missing or expired
func IsNeedsAuth(err error) bool {
	return KindOf(err) == KindNeedsAuth
}

// ListingError converts the status flags of a listing answer into a classified
// error. A listing that carries no flag returns nil.
func ListingError(l *models.Listing) error {
	if l == nil {
		return NewError(KindUnknown, "list", errors.New("empty listing response"))
	}
	switch {
	case !l.Configured:
		return NewError(KindNotConfigured, "list", ErrNotConfigured)
	case l.NeedsAuth:
		return NewError(KindNeedsAuth, "list", ErrNeedsAuth)
	case l.Warning == models.WarningNotFound:
		return NewError(KindNotFound, "list", ErrNotFound)
	case l.Warning == models.WarningAccessDenied:
		return NewError(KindAccessDenied, "list", ErrAccessDenied)
	}
	return nil
}
