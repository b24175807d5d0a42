// Package crypt handles the keys used to verify signed webhook calls.
package crypt

import (
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"

	"github.com/rakutentech/jwk-go/jwk"
)

const algorithmES256 = "ES256"

// EncodeVerificationKey renders the caller's public key in the form expected by
// WEBHOOK_PUBLIC_KEY: a base64 encoded JWK.
func EncodeVerificationKey(key *ecdsa.PublicKey, keyID string) (string, error) {
	raw, err := jwk.NewSpec(key).ToJWK()
	if err != nil {
		return "", fmt.Errorf("creating JWK: %w", err)
	}
	raw.Use = "sig"
	raw.Alg = algorithmES256
	raw.Kid = keyID

	keyData, err := raw.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshalling JWK: %w", err)
	}
	return base64.StdEncoding.EncodeToString(keyData), nil
}

func DecodeVerificationKey(encoded string) (*ecdsa.PublicKey, error) {
	keyData, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding verification key: %w", err)
	}

	spec, err := jwk.Parse(string(keyData))
	if err != nil {
		return nil, fmt.Errorf("parsing verification key: %w", err)
	}

	key, ok := spec.Key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("verification key must be an EC public key, got %T", spec.Key)
	}
	return key, nil
}
