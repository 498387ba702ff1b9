package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by [TokenService.Verify] for any token that
// fails signature, expiry, or issuer validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the JWT claims carried by a session token. Subject holds the
// user's UUID.
type Claims struct {
	// Username is the account's login name at issue time.
	Username string `json:"username"`

	jwt.RegisteredClaims
}

// TokenService issues and verifies RS256-signed session tokens.
type TokenService struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	issuer  string
	ttl     time.Duration

	// now is swapped in tests.
	now func() time.Time
}

// NewTokenService parses the PEM-encoded RSA key pair and returns a service
// issuing tokens valid for ttl.
func NewTokenService(privatePEM, publicPEM []byte, issuer string, ttl time.Duration) (*TokenService, error) {
	private, err := jwt.ParseRSAPrivateKeyFromPEM(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	public, err := jwt.ParseRSAPublicKeyFromPEM(publicPEM)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("auth: token ttl must be positive, got %s", ttl)
	}
	return &TokenService{
		private: private,
		public:  public,
		issuer:  issuer,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Issue signs a session token for the user.
func (s *TokenService) Issue(userID, username string) (string, error) {
	now := s.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.private)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return token, nil
}

// Verify validates the token's signature, expiry, and issuer and returns its
// claims. Any failure comes back wrapped in [ErrInvalidToken].
func (s *TokenService) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.public, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}
