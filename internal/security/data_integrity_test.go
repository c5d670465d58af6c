package security

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, opts VerificationOptions) *DataIntegrityService {
	t.Helper()
	svc, err := NewDataIntegrityService(opts)
	require.NoError(t, err)
	return svc
}

// transport simulates the JSON hop a downstream consumer sees before
// verifying a signed payload.
func transport(t *testing.T, payload map[string]interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	var received map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &received))
	return received
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	svc := newTestService(t, VerificationOptions{
		SignatureEnabled:     true,
		VerificationRequired: true,
		SignatureValidity:    time.Hour,
	})

	payload := map[string]interface{}{
		"sku":      "TEST-001",
		"coverage": 12.5,
	}

	signed, err := svc.SignPayload(payload)
	require.NoError(t, err)
	require.Contains(t, signed, "_signature")

	valid, err := svc.VerifyPayload(transport(t, signed))
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	svc := newTestService(t, VerificationOptions{
		SignatureEnabled:     true,
		VerificationRequired: true,
		SignatureValidity:    time.Hour,
	})

	payload := map[string]interface{}{
		"sku":      "TEST-001",
		"coverage": 12.5,
	}

	signed, err := svc.SignPayload(payload)
	require.NoError(t, err)

	received := transport(t, signed)
	received["coverage"] = 999.0

	valid, err := svc.VerifyPayload(received)
	assert.Error(t, err)
	assert.False(t, valid)
}

func TestVerifyRejectsExpiredSignature(t *testing.T) {
	svc := newTestService(t, VerificationOptions{
		SignatureEnabled:     true,
		VerificationRequired: true,
		SignatureValidity:    -time.Hour,
	})

	signed, err := svc.SignPayload(map[string]interface{}{"sku": "TEST-001"})
	require.NoError(t, err)

	valid, err := svc.VerifyPayload(transport(t, signed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
	assert.False(t, valid)
}

func TestSignDisabledIsPassthrough(t *testing.T) {
	svc := newTestService(t, VerificationOptions{SignatureEnabled: false})

	payload := map[string]interface{}{"sku": "TEST-001"}

	signed, err := svc.SignPayload(payload)
	require.NoError(t, err)
	assert.NotContains(t, signed, "_signature")

	// Without verification required, any payload passes.
	valid, err := svc.VerifyPayload(signed)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestTamperProofWrapper(t *testing.T) {
	svc := newTestService(t, VerificationOptions{
		SignatureEnabled:     true,
		VerificationRequired: true,
		SignatureValidity:    time.Hour,
	})

	payload := map[string]interface{}{
		"sku":      "TEST-001",
		"coverage": 12.5,
	}
	metadata := map[string]interface{}{"source": "erp"}

	wrapped, err := svc.CreateTamperProofWrapper(payload, metadata)
	require.NoError(t, err)

	received := transport(t, wrapped)

	ok, extracted, err := svc.VerifyIntegrity(received)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, extracted)

	inner, isMap := extracted["payload"].(map[string]interface{})
	require.True(t, isMap)
	assert.Equal(t, "TEST-001", inner["sku"])

	// Mutating the payload breaks the signature.
	received["payload"].(map[string]interface{})["coverage"] = 999.0
	ok, _, err = svc.VerifyIntegrity(received)
	assert.Error(t, err)
	assert.False(t, ok)
}
