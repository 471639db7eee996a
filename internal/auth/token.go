// Package auth verifies identity tokens issued by the external sign-in
// service. The engine never authenticates anyone itself; it only trusts a
// token's subject as the stable identity id.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Claims struct {
	// Sub is the stable identity id the remote document is addressed by.
	Sub  string `json:"sub"`
	Name string `json:"name,omitempty"`
	JTI  string `json:"jti,omitempty"`
	Iat  int64  `json:"iat,omitempty"`
	Exp  int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrNoToken      = errors.New("no bearer token")
)

func IssueToken(secret []byte, claims Claims) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("issue token: empty secret")
	}
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return payload + "." + sign(secret, payload), nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	return parseAt(secret, token, time.Now())
}

func parseAt(secret []byte, token string, now time.Time) (Claims, error) {
	if len(secret) == 0 {
		return Claims{}, ErrInvalidToken
	}
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}

	expected := sign(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Sub) == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if now.Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrNoToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}
