package app

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jwk"
	"go.uber.org/zap"
)

var (
	ErrFetchJWKSet           = errors.New("failed to fetch JWK set")
	ErrFailedToGetPrivateKey = errors.New("failed to get private key")
	ErrFailedToSignJWT       = errors.New("failed to sign JWT")
	ErrFailedToCastKey       = errors.New("failed to cast key to jwk.Key")
	ErrNoSuitablePrivateKey  = errors.New("no suitable private key found")
	ErrFailedToGetRawKey     = errors.New("failed to get raw key")
	ErrInvalidToken          = errors.New("invalid token")
)

// Key IDs of signing keys carry privatePrefix; the matching published key
// carries publicPrefix.
const (
	privatePrefix = "private:"
	publicPrefix  = "public:"
)

const defaultRefreshInterval = 5 * time.Minute

// KeySource yields the current JWK set.
type KeySource interface {
	Fetch(ctx context.Context) (jwk.Set, error)
}

type remoteKeySource struct {
	autoRefresh *jwk.AutoRefresh
	url         string
}

// NewRemoteKeySource fetches a JWK set from url and keeps it refreshed in
// the background until ctx is cancelled.
func NewRemoteKeySource(ctx context.Context, url string, refreshInterval time.Duration) (KeySource, error) {
	if refreshInterval <= 0 {
		refreshInterval = defaultRefreshInterval
	}

	ar := jwk.NewAutoRefresh(ctx)
	ar.Configure(url, jwk.WithRefreshInterval(refreshInterval))

	if _, err := ar.Fetch(ctx, url); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchJWKSet, err)
	}
	return &remoteKeySource{autoRefresh: ar, url: url}, nil
}

func (s *remoteKeySource) Fetch(ctx context.Context) (jwk.Set, error) {
	return s.autoRefresh.Fetch(ctx, s.url)
}

type staticKeySource struct {
	set jwk.Set
}

// NewStaticKeySource serves a fixed JWK set.
func NewStaticKeySource(set jwk.Set) KeySource {
	return &staticKeySource{set: set}
}

// NewFileKeySource reads a JWK set from a JSON file once.
func NewFileKeySource(path string) (KeySource, error) {
	set, err := jwk.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchJWKSet, err)
	}
	return &staticKeySource{set: set}, nil
}

// NewGeneratedKeySource holds a single RSA key created in memory. Tokens it
// signs stop verifying once the process exits.
func NewGeneratedKeySource() (KeySource, error) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	key, err := jwk.New(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap signing key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, uuid.NewString()); err != nil {
		return nil, fmt.Errorf("failed to set key ID: %w", err)
	}

	set := jwk.NewSet()
	set.Add(key)
	return &staticKeySource{set: set}, nil
}

func (s *staticKeySource) Fetch(context.Context) (jwk.Set, error) {
	return s.set, nil
}

type Signer interface {
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
}

// signer handles JWT signing with key rotation over the private keys of a
// JWK set.
type signer struct {
	keys     KeySource
	logger   *zap.Logger
	mu       sync.Mutex
	keyIndex int
}

func NewJWTSigner(keys KeySource, logger *zap.Logger) Signer {
	return &signer{keys: keys, logger: logger}
}

// Sign signs claims with the next private key in rotation.
func (j *signer) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	privateKey, keyID, signingMethod, err := j.getNextPrivateKey(ctx)
	if err != nil {
		j.logger.Error("failed to get next private key", zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrFailedToGetPrivateKey, err)
	}

	token := &jwt.Token{
		Header: map[string]interface{}{
			"typ": "JWT",
			"alg": signingMethod.Alg(),
			"kid": keyID,
		},
		Claims: claims,
		Method: signingMethod,
	}

	signedToken, err := token.SignedString(privateKey)
	if err != nil {
		j.logger.Error("failed to sign JWT", zap.Error(err))
		return "", ErrFailedToSignJWT
	}
	return signedToken, nil
}

// getNextPrivateKey returns the next available private key for signing and rotates the key index
func (j *signer) getNextPrivateKey(ctx context.Context) (interface{}, string, jwt.SigningMethod, error) {
	keySet, err := j.keys.Fetch(ctx)
	if err != nil {
		return nil, "", nil, fmt.Errorf("%w: %w", ErrFetchJWKSet, err)
	}

	var privateKeys []jwk.Key
	var keyIDs []string

	for it := keySet.Iterate(ctx); it.Next(ctx); {
		key, ok := it.Pair().Value.(jwk.Key)
		if !ok {
			return nil, "", nil, ErrFailedToCastKey
		}

		if canUseForSigning(key) {
			privateKeys = append(privateKeys, key)
			keyID := key.KeyID()
			if keyID == "" {
				keyID = fmt.Sprintf("key-%d", len(privateKeys)-1)
			}
			keyIDs = append(keyIDs, keyID)
		}
	}

	if len(privateKeys) == 0 {
		return nil, "", nil, ErrNoSuitablePrivateKey
	}

	j.mu.Lock()
	selectedIndex := j.keyIndex % len(privateKeys)
	j.keyIndex = (j.keyIndex + 1) % len(privateKeys)
	j.mu.Unlock()

	selectedKey := privateKeys[selectedIndex]
	var rawKey interface{}
	if err := selectedKey.Raw(&rawKey); err != nil {
		return nil, "", nil, fmt.Errorf("%w: %w", ErrFailedToGetRawKey, err)
	}

	return rawKey, keyIDs[selectedIndex], signingMethodFor(selectedKey), nil
}

func canUseForSigning(key jwk.Key) bool {
	switch key.KeyType() {
	case jwa.RSA:
		if rsaKey, ok := key.(jwk.RSAPrivateKey); ok {
			return rsaKey.D() != nil
		}
	case jwa.EC:
		if ecKey, ok := key.(jwk.ECDSAPrivateKey); ok {
			return ecKey.D() != nil
		}
	}
	return false
}

func signingMethodFor(key jwk.Key) jwt.SigningMethod {
	switch key.KeyType() {
	case jwa.EC:
		return jwt.SigningMethodES256
	case jwa.RSA:
		fallthrough
	default:
		return jwt.SigningMethodRS256
	}
}

// Verifier checks tokens produced by a Signer sharing the same key set.
type Verifier struct {
	keys   KeySource
	issuer string
}

func NewJWTVerifier(keys KeySource, issuer string) *Verifier {
	return &Verifier{keys: keys, issuer: issuer}
}

// Verify parses tokenString, checks its signature, expiry and issuer, and
// returns its registered claims.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.publicKeyFor(ctx, token)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	return claims, nil
}

func (v *Verifier) publicKeyFor(ctx context.Context, token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
	default:
		return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
	}

	keyID, ok := token.Header["kid"].(string)
	if !ok {
		return nil, errors.New("expecting JWT header to have 'kid'")
	}

	keySet, err := v.keys.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchJWKSet, err)
	}

	key, found := keySet.LookupKeyID(verificationKeyID(keyID))
	if !found {
		key, found = keySet.LookupKeyID(keyID)
	}
	if !found {
		return nil, fmt.Errorf("unable to find key with ID '%s'", keyID)
	}

	pub, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	var pubKey interface{}
	if err := pub.Raw(&pubKey); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToGetRawKey, err)
	}
	return pubKey, nil
}

// PublicKeys returns the public half of every RSA and EC key in the set.
// Symmetric keys have no public half and are left out.
func (v *Verifier) PublicKeys(ctx context.Context) (jwk.Set, error) {
	set, err := v.keys.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchJWKSet, err)
	}

	asymmetric := jwk.NewSet()
	for it := set.Iterate(ctx); it.Next(ctx); {
		key, ok := it.Pair().Value.(jwk.Key)
		if !ok {
			return nil, ErrFailedToCastKey
		}
		switch key.KeyType() {
		case jwa.RSA, jwa.EC:
			asymmetric.Add(key)
		}
	}
	return jwk.PublicSetOf(asymmetric)
}

func verificationKeyID(keyID string) string {
	if strings.HasPrefix(keyID, privatePrefix) {
		return publicPrefix + strings.TrimPrefix(keyID, privatePrefix)
	}
	return keyID
}
