package handlers

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"uk.co.dudmesh.herald/internal/boot"
	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/pkg/crypt"
)

func TestAuthenticateDisabled(t *testing.T) {
	auth, err := Authenticate(&boot.Config{})
	require.NoError(t, err)
	assert.Nil(t, auth)
}

func TestAuthenticateBadPublicKey(t *testing.T) {
	config := &boot.Config{}
	config.Server.PublicKey = "not a key"
	_, err := Authenticate(config)
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	const secret = "s3cret"
	const apiKey = "orchestrator-key"

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.MinCost)
	require.NoError(t, err)
	signingKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	publicKey, err := crypt.EncodeVerificationKey(&signingKey.PublicKey, "orchestrator")
	require.NoError(t, err)
	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	config := &boot.Config{}
	config.Server.JWTSecret = secret
	config.Server.APIKeyHash = string(hash)
	config.Server.PublicKey = publicKey

	auth, err := Authenticate(config)
	require.NoError(t, err)
	require.NotNil(t, auth)

	claims := func(ttl time.Duration) jwt.MapClaims {
		return jwt.MapClaims{"sub": "orchestrator", "exp": time.Now().Add(ttl).Unix()}
	}
	sign := func(method jwt.SigningMethod, key interface{}, c jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(method, c).SignedString(key)
		require.NoError(t, err)
		return "Bearer " + token
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims(time.Minute)).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"no credentials", nil, http.StatusUnauthorized},
		{"api key", map[string]string{HeaderAPIKey: apiKey}, http.StatusOK},
		{"wrong api key", map[string]string{HeaderAPIKey: "guess"}, http.StatusUnauthorized},
		{"hs256", map[string]string{"Authorization": sign(jwt.SigningMethodHS256, []byte(secret), claims(time.Minute))}, http.StatusOK},
		{"hs256 wrong secret", map[string]string{"Authorization": sign(jwt.SigningMethodHS256, []byte("nope"), claims(time.Minute))}, http.StatusUnauthorized},
		{"hs256 expired", map[string]string{"Authorization": sign(jwt.SigningMethodHS256, []byte(secret), claims(-time.Minute))}, http.StatusUnauthorized},
		{"es256", map[string]string{"Authorization": sign(jwt.SigningMethodES256, signingKey, claims(time.Minute))}, http.StatusOK},
		{"es256 other key", map[string]string{"Authorization": sign(jwt.SigningMethodES256, otherKey, claims(time.Minute))}, http.StatusUnauthorized},
		{"alg none", map[string]string{"Authorization": "Bearer " + unsigned}, http.StatusUnauthorized},
		{"basic auth", map[string]string{"Authorization": "Basic dXNlcjpwYXNz"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{reports: map[string]*model.PublishReport{
				"d1": model.NewReport("rep1", &model.Draft{ID: "d1"}, "fp", nil),
			}}
			rec := do(newServer(svc, auth), http.MethodGet, "/reports/d1", "", tt.headers)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, "unauthorized", decodeError(t, rec).Error.Code)
			}
		})
	}
}
