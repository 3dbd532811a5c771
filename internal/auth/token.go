// Package auth supplies the upstream session token consumed by gateway backends.
// Tokens are obtained elsewhere; this package only reads them and checks expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/portalworks/docbrowse/internal/config"
	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/gateway"
	"github.com/portalworks/docbrowse/internal/logging"
)

var (
	ErrNoToken      = errors.New("no upstream session token configured")
	ErrTokenExpired = errors.New("upstream session token has expired")
)

// TokenSource yields a bearer token for each gateway request
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Source reads the token from configuration or a token file. The file is
// re-read on every call so an external refresher can rotate it.
type Source struct {
	token     string
	tokenFile string
	clock     clockwork.Clock
	logger    *logging.Logger

	mu       sync.Mutex
	lastWarn string
}

// NewSource builds a token source from REST configuration
func NewSource(cfg config.RESTConfig, clock clockwork.Clock, logger *logging.Logger) *Source {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Source{
		token:     strings.TrimSpace(cfg.Token),
		tokenFile: cfg.TokenFile,
		clock:     clock,
		logger:    logger.Component("auth"),
	}
}

// Token returns the current token or a NeedsUpstreamAuth error when it is
// missing or expires within the leeway
func (s *Source) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token := s.token
	if token == "" && s.tokenFile != "" {
		t, err := config.ReadTokenFile(s.tokenFile)
		if err != nil {
			s.warnOnce(err.Error())
			return "", gateway.NewError(gateway.KindNeedsAuth, "auth", fmt.Errorf("%w: %v", ErrNoToken, err))
		}
		token = t
	}
	if token == "" {
		return "", gateway.NewError(gateway.KindNeedsAuth, "auth", ErrNoToken)
	}

	if err := CheckExpiry(token, s.clock.Now(), constants.TokenExpiryLeeway); err != nil {
		s.warnOnce(err.Error())
		return "", gateway.NewError(gateway.KindNeedsAuth, "auth", err)
	}
	return token, nil
}

func (s *Source) warnOnce(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastWarn == msg {
		return
	}
	s.lastWarn = msg
	s.logger.Warn().Msg(msg)
}

// CheckExpiry inspects the exp claim of a JWT without verifying its signature.
// Opaque tokens and JWTs without exp are accepted.
func CheckExpiry(token string, now time.Time, leeway time.Duration) error {
	if strings.Count(token, ".") != 2 {
		return nil
	}

	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		// Not a JWT after all; let the upstream decide
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	if !now.Add(leeway).Before(claims.ExpiresAt.Time) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	}
	return nil
}

// Static is a fixed token, used for SAS-style backends and tests
type Static string

func (s Static) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", gateway.NewError(gateway.KindNeedsAuth, "auth", ErrNoToken)
	}
	return string(s), nil
}
