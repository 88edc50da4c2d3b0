package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

// HMACSignatureService implements ports.SignatureService. Gateways sign the
// raw webhook body with HMAC-SHA512; SHA-256 is accepted for providers that use it.
type HMACSignatureService struct {
	newHash func() hash.Hash
}

// NewHMACSignatureService creates a signature service for "sha512" (default) or "sha256".
func NewHMACSignatureService(algorithm string) *HMACSignatureService {
	h := sha512.New
	if strings.EqualFold(algorithm, "sha256") {
		h = sha256.New
	}
	return &HMACSignatureService{newHash: h}
}

// Sign computes the HMAC of payload using secretKey.
// Returns lowercase hex-encoded signature.
func (s *HMACSignatureService) Sign(secretKey string, payload []byte) string {
	mac := hmac.New(s.newHash, []byte(secretKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks if signature matches the HMAC of payload.
// Uses constant-time comparison to prevent timing attacks.
func (s *HMACSignatureService) Verify(secretKey string, payload []byte, signature string) bool {
	expected := s.Sign(secretKey, payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
