package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/user"
)

var (
	errTokenMalformed = errors.New("malformed token")
	errTokenSignature = errors.New("invalid signature")
	errTokenExpired   = errors.New("token expired")
	errTokenClaims    = errors.New("invalid token claims")
)

var b64 = base64.RawURLEncoding

// hs256Header is the encoded {"alg":"HS256","typ":"JWT"} header.
var hs256Header = b64.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

// tokenSigner issues and checks HS256 JWTs.
type tokenSigner struct {
	key []byte
}

func (t tokenSigner) mac(signingInput string) []byte {
	m := hmac.New(sha256.New, t.key)
	m.Write([]byte(signingInput))
	return m.Sum(nil)
}

func (t tokenSigner) sign(u *user.User, now time.Time, ttl time.Duration) (string, error) {
	payload, err := json.Marshal(user.TokenClaims{
		Subject:     u.ID,
		Username:    u.Username,
		IsSuperuser: u.IsSuperuser,
		IssuedAt:    now.Unix(),
		Expiry:      now.Add(ttl).Unix(),
		Issuer:      tokenIssuer,
	})
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	input := hs256Header + "." + b64.EncodeToString(payload)
	return input + "." + b64.EncodeToString(t.mac(input)), nil
}

// verify checks the signature before looking at the claims.
func (t tokenSigner) verify(token string, now time.Time) (*user.TokenClaims, error) {
	head, sig, ok := cutLast(token, '.')
	if !ok || strings.Count(head, ".") != 1 {
		return nil, errTokenMalformed
	}
	got, err := b64.DecodeString(sig)
	if err != nil || !hmac.Equal(got, t.mac(head)) {
		return nil, errTokenSignature
	}

	_, body, _ := strings.Cut(head, ".")
	payload, err := b64.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTokenMalformed, err)
	}
	var claims user.TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %w", errTokenMalformed, err)
	}

	switch {
	case now.Unix() > claims.Expiry:
		return nil, errTokenExpired
	case claims.Issuer != tokenIssuer, claims.Subject == "":
		return nil, errTokenClaims
	}
	return &claims, nil
}

func cutLast(s string, sep byte) (before, after string, found bool) {
	i := strings.LastIndexByte(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

// generateRandomToken returns n random bytes, hex encoded.
func generateRandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
