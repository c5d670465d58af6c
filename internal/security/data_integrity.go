// Package security provides cryptographic verification and data integrity
// features for coverage results that downstream systems cache or persist.
package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
)

// DataIntegrityService signs serialized coverage results so consumers can
// detect tampering between calculation and use.
type DataIntegrityService struct {
	privateKey       *ecdsa.PrivateKey
	publicKeyEncoded string
	verificationOpts VerificationOptions
}

// VerificationOptions configures the behavior of data integrity checks
type VerificationOptions struct {
	SignatureEnabled     bool          `json:"signature_enabled"`
	VerificationRequired bool          `json:"verification_required"`
	SignatureValidity    time.Duration `json:"signature_validity"`
	StrictMode           bool          `json:"strict_mode"`
}

// NewDataIntegrityService creates a new service for data integrity
func NewDataIntegrityService(opts VerificationOptions) (*DataIntegrityService, error) {
	// Generate a new ECDSA key pair
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	publicKeyBytes := elliptic.Marshal(elliptic.P256(), privateKey.PublicKey.X, privateKey.PublicKey.Y)
	publicKeyEncoded := base64.StdEncoding.EncodeToString(publicKeyBytes)

	service := &DataIntegrityService{
		privateKey:       privateKey,
		publicKeyEncoded: publicKeyEncoded,
		verificationOpts: opts,
	}

	logrus.Infof("Data integrity service initialized with public key: %s", publicKeyEncoded[:16]+"...")
	return service, nil
}

// SignPayload adds a cryptographic signature to a data payload
func (s *DataIntegrityService) SignPayload(payload interface{}) (map[string]interface{}, error) {
	if !s.verificationOpts.SignatureEnabled {
		// If signatures are disabled, return the payload as is
		payloadMap, ok := payload.(map[string]interface{})
		if !ok {
			payloadBytes, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal payload: %w", err)
			}
			var result map[string]interface{}
			if err := json.Unmarshal(payloadBytes, &result); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
			return result, nil
		}
		return payloadMap, nil
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	hash := sha256.Sum256(payloadBytes)

	r, sig, err := ecdsa.Sign(rand.Reader, s.privateKey, hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	signature := append(padTo32(r.Bytes()), padTo32(sig.Bytes())...)
	signatureEncoded := base64.StdEncoding.EncodeToString(signature)

	var resultMap map[string]interface{}
	if err := json.Unmarshal(payloadBytes, &resultMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	resultMap["_signature"] = map[string]interface{}{
		"signature":  signatureEncoded,
		"publicKey":  s.publicKeyEncoded,
		"algorithm":  "ECDSA-P256-SHA256",
		"timestamp":  time.Now().Unix(),
		"validUntil": time.Now().Add(s.verificationOpts.SignatureValidity).Unix(),
	}

	return resultMap, nil
}

// VerifyPayload verifies the cryptographic signature on a data payload
func (s *DataIntegrityService) VerifyPayload(signedPayload map[string]interface{}) (bool, error) {
	if !s.verificationOpts.SignatureEnabled || !s.verificationOpts.VerificationRequired {
		return true, nil
	}

	sigMetadata, ok := signedPayload["_signature"].(map[string]interface{})
	if !ok {
		if s.verificationOpts.StrictMode {
			return false, fmt.Errorf("signature metadata missing")
		}
		logrus.Warn("Signature metadata missing from payload")
		return false, nil
	}

	signatureStr, ok := sigMetadata["signature"].(string)
	if !ok {
		return false, fmt.Errorf("invalid signature format")
	}

	publicKeyStr, ok := sigMetadata["publicKey"].(string)
	if !ok {
		return false, fmt.Errorf("invalid public key format")
	}

	validUntil, ok := sigMetadata["validUntil"].(float64)
	if !ok {
		return false, fmt.Errorf("invalid validUntil format")
	}

	now := time.Now().Unix()
	if now > int64(validUntil) {
		return false, fmt.Errorf("signature expired at %v (current time: %v)",
			time.Unix(int64(validUntil), 0), time.Unix(now, 0))
	}

	signatureBytes, err := base64.StdEncoding.DecodeString(signatureStr)
	if err != nil {
		return false, fmt.Errorf("failed to decode signature: %w", err)
	}

	publicKeyBytes, err := base64.StdEncoding.DecodeString(publicKeyStr)
	if err != nil {
		return false, fmt.Errorf("failed to decode public key: %w", err)
	}

	x, y := elliptic.Unmarshal(elliptic.P256(), publicKeyBytes)
	if x == nil {
		return false, fmt.Errorf("failed to unmarshal public key")
	}
	publicKey := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     x,
		Y:     y,
	}

	// Remove signature from payload for hash calculation
	payloadCopy := make(map[string]interface{})
	for k, v := range signedPayload {
		if k != "_signature" {
			payloadCopy[k] = v
		}
	}

	payloadBytes, err := json.Marshal(payloadCopy)
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}
	hash := sha256.Sum256(payloadBytes)

	if len(signatureBytes) != 64 {
		return false, fmt.Errorf("invalid signature length: %d", len(signatureBytes))
	}
	r := new(big.Int).SetBytes(signatureBytes[:32])
	sig := new(big.Int).SetBytes(signatureBytes[32:])

	if !ecdsa.Verify(publicKey, hash[:], r, sig) {
		return false, fmt.Errorf("signature verification failed")
	}

	return true, nil
}

// GetPublicKey returns the base64-encoded public key
func (s *DataIntegrityService) GetPublicKey() string {
	return s.publicKeyEncoded
}

// CreateTamperProofWrapper adds tamper-proofing to the payload
func (s *DataIntegrityService) CreateTamperProofWrapper(payload interface{}, metadata map[string]interface{}) (map[string]interface{}, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	sha256Hash := sha256.Sum256(payloadBytes)

	wrapper := map[string]interface{}{
		"payload": payload,
		"integrity": map[string]interface{}{
			"sha256":    fmt.Sprintf("%x", sha256Hash),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}

	if metadata != nil {
		wrapper["metadata"] = metadata
	}

	return s.SignPayload(wrapper)
}

// VerifyIntegrity performs a comprehensive integrity check on wrapped data
func (s *DataIntegrityService) VerifyIntegrity(wrappedData map[string]interface{}) (bool, map[string]interface{}, error) {
	validSignature, err := s.VerifyPayload(wrappedData)
	if err != nil {
		return false, nil, fmt.Errorf("signature verification failed: %w", err)
	}

	if !validSignature {
		return false, nil, fmt.Errorf("invalid signature")
	}

	payload, ok := wrappedData["payload"]
	if !ok {
		return false, nil, fmt.Errorf("payload missing from wrapped data")
	}

	integrity, ok := wrappedData["integrity"].(map[string]interface{})
	if !ok {
		return false, nil, fmt.Errorf("integrity information missing")
	}

	expectedSHA256, ok := integrity["sha256"].(string)
	if !ok {
		return false, nil, fmt.Errorf("SHA256 hash missing")
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	actualSHA256 := fmt.Sprintf("%x", sha256.Sum256(payloadBytes))

	if expectedSHA256 != actualSHA256 {
		return false, nil, fmt.Errorf("SHA256 hash mismatch")
	}

	var metadata map[string]interface{}
	if meta, ok := wrappedData["metadata"].(map[string]interface{}); ok {
		metadata = meta
	}

	return true, map[string]interface{}{
		"payload":  payload,
		"metadata": metadata,
	}, nil
}

// padTo32 left-pads a big.Int byte representation to a fixed 32-byte width
// so the concatenated signature always decodes to exactly 64 bytes.
func padTo32(b []byte) []byte {
	if len(b) >= 32 {
		return b
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}
