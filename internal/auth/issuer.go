package auth

import (
	"crypto/rsa"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 24 * time.Hour
	defaultIssuer     = "codemingle"
	defaultAudience   = "codemingle"
)

// TokenConfig is shared by the issuer and the verifier.
type TokenConfig struct {
	Issuer     string
	Audience   string
	KeyID      string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

func (c TokenConfig) withDefaults() TokenConfig {
	c.Issuer = strings.TrimSpace(c.Issuer)
	if c.Issuer == "" {
		c.Issuer = defaultIssuer
	}
	c.Audience = strings.TrimSpace(c.Audience)
	if c.Audience == "" {
		c.Audience = defaultAudience
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = defaultAccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = defaultRefreshTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Claims is the JWT payload. Param carries the key store secret the token is
// bound to; Permissions is only present on access tokens.
type Claims struct {
	Param       string   `json:"param"`
	TokenType   Purpose  `json:"token_type"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// SignedToken is a compact JWT with its ID and expiry.
type SignedToken struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// TokenIssuer signs access and refresh tokens with RS256.
type TokenIssuer struct {
	cfg TokenConfig
	key *rsa.PrivateKey
}

// NewTokenIssuer constructs an issuer from a private key.
func NewTokenIssuer(key *rsa.PrivateKey, cfg TokenConfig) (*TokenIssuer, error) {
	if key == nil {
		return nil, errors.New("auth: private key is required")
	}
	return &TokenIssuer{cfg: cfg.withDefaults(), key: key}, nil
}

// IssueAccessToken binds user, its permission snapshot and the current access
// secret into a token valid for the access TTL.
func (i *TokenIssuer) IssueAccessToken(user User, perms PermissionSet, boundSecret string) (SignedToken, error) {
	return i.sign(user.ID, PurposeAccess, boundSecret, perms.Strings(), i.cfg.AccessTTL)
}

// IssueRefreshToken binds user and the current refresh secret into a token
// valid for the refresh TTL.
func (i *TokenIssuer) IssueRefreshToken(user User, boundSecret string) (SignedToken, error) {
	return i.sign(user.ID, PurposeRefresh, boundSecret, nil, i.cfg.RefreshTTL)
}

func (i *TokenIssuer) sign(subject string, purpose Purpose, secret string, perms []string, ttl time.Duration) (SignedToken, error) {
	if strings.TrimSpace(subject) == "" || secret == "" {
		return SignedToken{}, ErrInvalidInput
	}
	now := i.cfg.Now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims := Claims{
		Param:       secret,
		TokenType:   purpose,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if i.cfg.KeyID != "" {
		token.Header["kid"] = i.cfg.KeyID
	}
	signed, err := token.SignedString(i.key)
	if err != nil {
		return SignedToken{}, err
	}
	return SignedToken{Value: signed, ID: claims.ID, ExpiresAt: exp}, nil
}
