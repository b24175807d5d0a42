package handlers

import (
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
	"uk.co.dudmesh.herald/internal/boot"
	"uk.co.dudmesh.herald/pkg/crypt"
)

const (
	HeaderAPIKey = "X-API-Key"
	ClaimsKey    = "claims"
)

type authenticator struct {
	secret     []byte
	apiKeyHash []byte
	publicKey  *ecdsa.PublicKey
}

// Authenticate accepts an X-API-Key matching the configured bcrypt hash, or a
// bearer JWT signed with the shared HS256 secret or the configured ES256 key.
// It returns nil when no credentials are configured.
func Authenticate(config *boot.Config) (echo.MiddlewareFunc, error) {
	if !config.AuthEnabled() {
		return nil, nil
	}

	a := &authenticator{
		secret:     []byte(config.Server.JWTSecret),
		apiKeyHash: []byte(config.Server.APIKeyHash),
	}
	if config.Server.PublicKey != "" {
		key, err := crypt.DecodeVerificationKey(config.Server.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("loading webhook public key: %w", err)
		}
		a.publicKey = key
	}
	return a.middleware, nil
}

func (a *authenticator) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if key := c.Request().Header.Get(HeaderAPIKey); key != "" {
			if len(a.apiKeyHash) == 0 || bcrypt.CompareHashAndPassword(a.apiKeyHash, []byte(key)) != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}
			return next(c)
		}

		header := c.Request().Header.Get(echo.HeaderAuthorization)
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
		}

		token, err := jwt.Parse(raw, a.keyFor)
		if err != nil || !token.Valid {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token").SetInternal(err)
		}
		c.Set(ClaimsKey, token.Claims)
		return next(c)
	}
}

func (a *authenticator) keyFor(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(a.secret) == 0 {
			return nil, fmt.Errorf("HMAC tokens are not accepted")
		}
		return a.secret, nil
	case *jwt.SigningMethodECDSA:
		if a.publicKey == nil {
			return nil, fmt.Errorf("ECDSA tokens are not accepted")
		}
		return a.publicKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
}
