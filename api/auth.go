package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"mind-ease/userinfo"
)

// DefaultJWKSCacheTTL bounds how long a resolved signing key is reused.
const DefaultJWKSCacheTTL = 15 * time.Minute

// Auth validates incoming JWT tokens. In test mode tokens are HS256 signed
// with TestSecret; otherwise RS256 keys come from the JWKS.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
	now         func() time.Time
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth validates RS256 tokens against jwks.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string, keyCacheTTL time.Duration) *Auth {
	if keyCacheTTL <= 0 {
		keyCacheTTL = DefaultJWKSCacheTTL
	}
	return &Auth{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      issuer,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keyCacheTTL: keyCacheTTL,
		now:         time.Now,
	}
}

// NewTestAuth validates HS256 tokens signed with secret. Audience and
// issuer are checked only when set.
func NewTestAuth(secret []byte, audience, issuer string) *Auth {
	if len(secret) == 0 {
		panic("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
	}
	return &Auth{
		Audience:   audience,
		Issuer:     issuer,
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
		now:        time.Now,
	}
}

// IdentityFromAuthHeader extracts the caller from the Authorization header.
func (a *Auth) IdentityFromAuthHeader(h string) (userinfo.Identity, error) {
	if h == "" {
		return userinfo.Identity{}, errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return userinfo.Identity{}, err
	}
	return a.IdentityFromBearer(token)
}

// IdentityFromBearer validates a raw bearer token. The sub claim is the
// user id; name and email are optional.
func (a *Auth) IdentityFromBearer(token string) (userinfo.Identity, error) {
	if token == "" {
		return userinfo.Identity{}, errBadAuthorization
	}
	parsed, err := a.parser.Parse(token, func(t *jwt.Token) (any, error) {
		if a.TestMode {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		}
		return a.keyForToken(t)
	})
	if err != nil {
		return userinfo.Identity{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return userinfo.Identity{}, errors.New("invalid claims")
	}

	now := a.now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return userinfo.Identity{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return userinfo.Identity{}, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return userinfo.Identity{}, errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return userinfo.Identity{}, errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return userinfo.Identity{}, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return userinfo.Identity{}, errors.New("missing sub")
	}
	id := userinfo.Identity{ID: sub}
	id.Name, _ = claims["name"].(string)
	id.Email, _ = claims["email"].(string)
	return id, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if a.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: a.now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
