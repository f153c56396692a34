package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SignTestToken returns an HS256 token accepted by an Auth built with
// NewTestAuth and the same secret. An empty audience is left out.
func SignTestToken(secret []byte, userID, audience string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("test secret must be set")
	}
	if userID == "" {
		return "", errors.New("user id must be set")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
