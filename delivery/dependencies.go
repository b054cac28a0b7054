package delivery

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/lestrrat-go/jwx/jwk"
	"go.uber.org/zap"

	"email-login/loginform"
)

// LoginSender delivers a login email to a validated address and returns the
// message to show the user.
type LoginSender interface {
	SendLoginEmail(ctx context.Context, email string) (string, error)
}

// TokenVerifier checks a magic-link token and returns the email it was
// issued for.
type TokenVerifier interface {
	VerifyLoginToken(ctx context.Context, token string) (string, error)
}

// KeyPublisher exposes the public keys login tokens are verified with.
type KeyPublisher interface {
	PublicKeys(ctx context.Context) (jwk.Set, error)
}

// AppDependencies defines the contract that the delivery layer (HTTP handlers)
// expects from the core application layer.
type AppDependencies interface {
	GetLogger() *zap.Logger

	GetLoginSender() LoginSender

	// GetTokenVerifier reports false when the configured backend does not
	// issue tokens this service can verify.
	GetTokenVerifier() (TokenVerifier, bool)

	GetKeyPublisher() (KeyPublisher, bool)

	// GetFormTransport is what page-side forms submit through.
	GetFormTransport() loginform.Transport

	// GetTrustedProxies lists the peers whose forwarding headers are honored
	// in addition to loopback.
	GetTrustedProxies() []netip.Prefix

	// LoginRateLimit guards the login API.
	LoginRateLimit(next http.Handler) http.Handler
}
