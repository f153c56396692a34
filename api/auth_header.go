package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// streamTokenParam carries the token for EventSource clients, which cannot
// set headers.
const streamTokenParam = "token"

func bearerTokenFromHeader(header http.Header) (string, error) {
	values := header.Values(echo.HeaderAuthorization)
	if len(values) == 0 {
		return "", errMissingAuthorization
	}
	return bearerTokenFromString(values[0])
}

func bearerTokenFromString(raw string) (string, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return "", errMissingAuthorization
	}
	if len(trimmed) <= len(bearerPrefix) || !strings.HasPrefix(trimmed, bearerPrefix) {
		return "", errBadAuthorization
	}
	token := trimmed[len(bearerPrefix):]
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

// bearerTokenFromRequest reads the Authorization header, falling back to
// the token query parameter when allowQuery is set.
func bearerTokenFromRequest(r *http.Request, allowQuery bool) (string, error) {
	token, err := bearerTokenFromHeader(r.Header)
	if errors.Is(err, errMissingAuthorization) && allowQuery {
		if q := r.URL.Query().Get(streamTokenParam); q != "" {
			return bearerTokenFromString(bearerPrefix + q)
		}
	}
	return token, err
}
