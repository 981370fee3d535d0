// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"

	"github.com/agentwire/agentwire"
)

func TestDeliverPostsTaskResult(t *testing.T) {
	received := make(chan agentwire.WebhookRequest, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req agentwire.WebhookRequest
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode delivery: %v", err)
		}
		received <- req
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	d := NewDispatcher()
	task := &agentwire.Task{ID: "task-1", Status: agentwire.NewTaskStatus(agentwire.TaskStateCompleted)}
	if err := d.Deliver(context.Background(), ts.URL, "task-1", task); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	req := <-received
	if req.ID != "task-1" {
		t.Errorf("Expected task id %q, got %q", "task-1", req.ID)
	}
	if req.Result == nil || req.Result.Status.State != agentwire.TaskStateCompleted {
		t.Errorf("Unexpected delivered result: %+v", req.Result)
	}
}

func TestDeliverRejectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer ts.Close()

	d := NewDispatcher()
	task := &agentwire.Task{ID: "task-1", Status: agentwire.NewTaskStatus(agentwire.TaskStateCompleted)}
	if err := d.Deliver(context.Background(), ts.URL, "task-1", task); err == nil {
		t.Fatal("Expected error for rejected delivery")
	}
}

func TestSignedDeliveryVerifiesAgainstJWKS(t *testing.T) {
	keys := NewKeyManager()
	if _, err := keys.GenerateKeyPair("key-1"); err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	jwksServer := httptest.NewServer(keys.JWKSHandler())
	defer jwksServer.Close()

	verifier := NewVerifier(jwksServer.URL)

	tokens := make(chan string, 1)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if len(auth) < 8 {
			t.Errorf("Expected bearer token, got %q", auth)
		}
		tokens <- auth[len("Bearer "):]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	d := NewDispatcher(WithSigningKeys(keys, "key-1"), WithIssuer("test-agent"))
	task := &agentwire.Task{ID: "task-1", Status: agentwire.NewTaskStatus(agentwire.TaskStateCompleted)}
	if err := d.Deliver(context.Background(), receiver.URL, "task-1", task); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	claims, err := verifier.Verify(context.Background(), <-tokens)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if iss, _ := claims.GetIssuer(); iss != "test-agent" {
		t.Errorf("Expected issuer %q, got %q", "test-agent", iss)
	}
	if sub, _ := claims.GetSubject(); sub != "task-1" {
		t.Errorf("Expected subject %q, got %q", "task-1", sub)
	}
}

func TestVerifierRejectsUnknownKey(t *testing.T) {
	served := NewKeyManager()
	if _, err := served.GenerateKeyPair("key-1"); err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	jwksServer := httptest.NewServer(served.JWKSHandler())
	defer jwksServer.Close()

	// Sign with a key pair the JWKS endpoint does not serve.
	other := NewKeyManager()
	if _, err := other.GenerateKeyPair("rogue"); err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	token, err := other.SignJWT("rogue", jwt.MapClaims{"iss": "rogue"})
	if err != nil {
		t.Fatalf("SignJWT failed: %v", err)
	}

	verifier := NewVerifier(jwksServer.URL)
	if _, err := verifier.Verify(context.Background(), token); err == nil {
		t.Fatal("Expected verification to fail for unknown key")
	}
}

func TestMiddleware(t *testing.T) {
	keys := NewKeyManager()
	if _, err := keys.GenerateKeyPair("key-1"); err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	jwksServer := httptest.NewServer(keys.JWKSHandler())
	defer jwksServer.Close()

	verifier := NewVerifier(jwksServer.URL)
	protected := verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ClaimsFromContext(r.Context()); !ok {
			t.Error("Expected claims in request context")
		}
		w.WriteHeader(http.StatusOK)
	}))
	ts := httptest.NewServer(protected)
	defer ts.Close()

	// No token.
	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", resp.StatusCode)
	}

	// Valid token.
	token, err := keys.SignJWT("key-1", deliveryClaims("test", ts.URL, "task-1", time.Now()))
	if err != nil {
		t.Fatalf("SignJWT failed: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with valid token, got %d", resp.StatusCode)
	}
}

func TestJWKCoordinateFixedWidth(t *testing.T) {
	coord := jwkCoordinate(big.NewInt(7), 32)
	data, err := base64.RawURLEncoding.DecodeString(coord)
	if err != nil {
		t.Fatalf("Failed to decode coordinate: %v", err)
	}
	if len(data) != 32 {
		t.Errorf("Expected 32-byte coordinate, got %d", len(data))
	}
}
