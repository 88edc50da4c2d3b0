package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService("sha512")
	secretKey := "whsec_test"
	payload := []byte(`{"event":"charge.success","data":{"reference":"pay_abc","amount":"2500.00"}}`)

	signature := svc.Sign(secretKey, payload)

	assert.Regexp(t, `^[0-9a-f]{128}$`, signature, "signature should be 128-char lowercase hex (SHA-512)")
	assert.True(t, svc.Verify(secretKey, payload, signature))
}

func TestHMACSignatureService_SHA256(t *testing.T) {
	svc := NewHMACSignatureService("sha256")

	signature := svc.Sign("key", []byte("data"))

	assert.Regexp(t, `^[0-9a-f]{64}$`, signature)
	assert.True(t, svc.Verify("key", []byte("data"), signature))
}

func TestHMACSignatureService_UppercaseSignatureAccepted(t *testing.T) {
	svc := NewHMACSignatureService("sha512")
	sig := svc.Sign("key", []byte("body"))

	upper := []byte(sig)
	for i, c := range upper {
		if c >= 'a' && c <= 'f' {
			upper[i] = c - 32
		}
	}
	assert.True(t, svc.Verify("key", []byte("body"), string(upper)))
}

func TestHMACSignatureService_VerifyFails_WrongKey(t *testing.T) {
	svc := NewHMACSignatureService("sha512")
	payload := []byte("test payload")

	signature := svc.Sign("correct-key", payload)
	assert.False(t, svc.Verify("wrong-key", payload, signature))
}

func TestHMACSignatureService_VerifyFails_WrongPayload(t *testing.T) {
	svc := NewHMACSignatureService("sha512")
	secretKey := "my-key"

	signature := svc.Sign(secretKey, []byte(`{"amount":"100.00"}`))
	assert.False(t, svc.Verify(secretKey, []byte(`{"amount":"100.00" }`), signature), "re-serialized body must not verify")
}

func TestHMACSignatureService_VerifyFails_WrongSignature(t *testing.T) {
	svc := NewHMACSignatureService("sha512")
	assert.False(t, svc.Verify("key", []byte("payload"), "invalidsignature"))
	assert.False(t, svc.Verify("key", []byte("payload"), ""))
}

func TestHMACSignatureService_DeterministicSign(t *testing.T) {
	svc := NewHMACSignatureService("")

	sig1 := svc.Sign("key", []byte("data"))
	sig2 := svc.Sign("key", []byte("data"))

	assert.Equal(t, sig1, sig2, "same key+payload should produce same signature")
	assert.Len(t, sig1, 128, "empty algorithm defaults to SHA-512")
}
