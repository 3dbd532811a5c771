package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/portalworks/docbrowse/internal/config"
	"github.com/portalworks/docbrowse/internal/models"
)

func TestKindString(t *testing.T) {
	expected := map[Kind]string{
		KindUnknown:         "Unknown",
		KindNotConfigured:   "NotConfigured",
		KindNeedsAuth:       "NeedsUpstreamAuth",
		KindNotFound:        "NotFound",
		KindAccessDenied:    "AccessDenied",
		KindValidation:      "ValidationError",
		KindOperationFailed: "OperationFailed",
	}
	for kind, want := range expected {
		if got := kind.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}

func TestKindFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{401, KindNeedsAuth},
		{403, KindAccessDenied},
		{404, KindNotFound},
		{410, KindNotFound},
		{409, KindOperationFailed},
		{400, KindOperationFailed},
		{500, KindUnknown},
	}
	for _, tt := range tests {
		if got := KindFromStatus(tt.status); got != tt.want {
			t.Errorf("KindFromStatus(%d) = %v, expected %v", tt.status, got, tt.want)
		}
	}
}

func TestKindOfTypedError(t *testing.T) {
	err := fmt.Errorf("failed to list: %w", StatusError("list", 403, "forbidden"))
	assert.Equal(t, KindAccessDenied, KindOf(err))

	var gerr *Error
	assert.True(t, errors.As(err, &gerr))
	assert.Equal(t, 403, gerr.Status)
	assert.Contains(t, err.Error(), "status 403")
	assert.True(t, errors.Is(err, ErrAccessDenied))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestKindOfSentinelsAndStrings(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"config sentinel", fmt.Errorf("load: %w", config.ErrNotConfigured), KindNotConfigured},
		{"gateway sentinel", ErrNeedsAuth, KindNeedsAuth},
		{"canceled", context.Canceled, KindUnknown},
		{"s3 missing key", errors.New("api error NoSuchKey: The specified key does not exist."), KindNotFound},
		{"azure missing blob", errors.New("RESPONSE 404: BlobNotFound"), KindNotFound},
		{"expired token", errors.New("ExpiredToken: The provided token has expired"), KindNeedsAuth},
		{"forbidden", errors.New("AccessDenied: Access Denied"), KindAccessDenied},
		{"plain", errors.New("disk on fire"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestListingError(t *testing.T) {
	tests := []struct {
		name    string
		listing *models.Listing
		want    Kind
		ok      bool
	}{
		{"ok", &models.Listing{Configured: true}, KindUnknown, true},
		{"not configured", &models.Listing{}, KindNotConfigured, false},
		{"needs auth", &models.Listing{Configured: true, NeedsAuth: true}, KindNeedsAuth, false},
		{"not found", &models.Listing{Configured: true, Warning: models.WarningNotFound}, KindNotFound, false},
		{"denied", &models.Listing{Configured: true, Warning: models.WarningAccessDenied}, KindAccessDenied, false},
		{"nil", nil, KindUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ListingError(tt.listing)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}
