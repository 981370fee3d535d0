// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

// Package webhook delivers task results to external endpoints and manages
// the signing keys those deliveries are authenticated with.
package webhook

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"
)

// JSONWebKey is one public key in JWK form. Only EC keys are produced here.
type JSONWebKey struct {
	KID string `json:"kid"`
	KTY string `json:"kty"`
	ALG string `json:"alg"`
	USE string `json:"use"`
	CRV string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JSONWebKeySet is the payload served at the JWKS endpoint.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// KeyPair holds a private key and its corresponding public JWK.
type KeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	PublicJWK  JSONWebKey
}

// KeyManager holds the ES256 key pairs used to sign outbound webhook
// deliveries, and serves their public halves as a JWKS so receivers can
// verify signatures.
type KeyManager struct {
	mu       sync.RWMutex
	keyPairs map[string]*KeyPair
	jwks     JSONWebKeySet
}

// NewKeyManager creates an empty key manager.
func NewKeyManager() *KeyManager {
	return &KeyManager{
		keyPairs: make(map[string]*KeyPair),
		jwks:     JSONWebKeySet{Keys: []JSONWebKey{}},
	}
}

// GenerateKeyPair generates a P-256 key pair under the given key id.
func (m *KeyManager) GenerateKeyPair(kid string) (*KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keyPairs[kid]; exists {
		return nil, fmt.Errorf("key pair already exists: %s", kid)
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	size := (privateKey.Curve.Params().BitSize + 7) / 8
	jwk := JSONWebKey{
		KID: kid,
		KTY: "EC",
		ALG: "ES256",
		USE: "sig",
		CRV: "P-256",
		X:   jwkCoordinate(privateKey.X, size),
		Y:   jwkCoordinate(privateKey.Y, size),
	}

	keyPair := &KeyPair{PrivateKey: privateKey, PublicJWK: jwk}
	m.keyPairs[kid] = keyPair
	m.jwks.Keys = append(m.jwks.Keys, jwk)
	return keyPair, nil
}

// KeyPair returns the key pair for a key id.
func (m *KeyManager) KeyPair(kid string) (*KeyPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keyPair, ok := m.keyPairs[kid]
	if !ok {
		return nil, fmt.Errorf("key pair not found: %s", kid)
	}
	return keyPair, nil
}

// JWKS returns the public key set.
func (m *KeyManager) JWKS() JSONWebKeySet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.jwks
}

// SignJWT signs claims with the key pair under kid using ES256.
func (m *KeyManager) SignJWT(kid string, claims jwt.Claims) (string, error) {
	keyPair, err := m.KeyPair(kid)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = kid
	return token.SignedString(keyPair.PrivateKey)
}

// JWKSHandler serves the public key set over HTTP.
func (m *KeyManager) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := sonic.ConfigDefault.Marshal(m.JWKS())
		if err != nil {
			http.Error(w, "failed to encode key set", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}
}

// jwkCoordinate encodes a curve coordinate at its fixed byte width.
// big.Int.Bytes drops leading zeros, which would shorten the coordinate for
// roughly one key in 256.
func jwkCoordinate(v *big.Int, size int) string {
	return base64.RawURLEncoding.EncodeToString(v.FillBytes(make([]byte, size)))
}

// deliveryClaims builds the claims attached to one signed delivery.
func deliveryClaims(issuer, audience, taskID string, now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": issuer,
		"sub": taskID,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
}
