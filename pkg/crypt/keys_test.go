package crypt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerificationKeyRoundTrip(t *testing.T) {
	require := require.New(t)

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	encoded, err := EncodeVerificationKey(&privateKey.PublicKey, "orchestrator")
	require.NoError(err)

	decoded, err := DecodeVerificationKey(encoded)
	require.NoError(err)
	assert.True(t, privateKey.PublicKey.Equal(decoded))
}

func TestDecodeVerificationKeyRejectsGarbage(t *testing.T) {
	_, err := DecodeVerificationKey("not base64!")
	assert.Error(t, err)

	_, err = DecodeVerificationKey("eyJrdHkiOiJvY3QiLCJrIjoiYzJWamNtVjAifQ==")
	assert.Error(t, err)
}
