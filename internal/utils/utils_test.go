package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSignatures(t *testing.T) {
	payload := []byte(`{"order_id":"ORD-1","gmv":"1000"}`)
	secret := "shared-secret"

	signature := SignWebhookPayload(payload, secret)
	assert.NotEmpty(t, signature)

	assert.True(t, VerifyWebhookSignature(payload, signature, secret))
	assert.False(t, VerifyWebhookSignature(payload, signature, "wrong-secret"))
	assert.False(t, VerifyWebhookSignature(append(payload, 'x'), signature, secret))
	assert.False(t, VerifyWebhookSignature(payload, "garbage", secret))
}

func TestGenerateReference(t *testing.T) {
	ref := GenerateReference("PAYOUT")
	assert.True(t, strings.HasPrefix(ref, "PAYOUT_"))

	other := GenerateReference("PAYOUT")
	assert.NotEqual(t, ref, other)
}

func TestGenerateAndValidateToken(t *testing.T) {
	userID := uuid.New()

	token, err := GenerateToken(userID, "maria@example.com", true, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "maria@example.com", claims.Email)
	assert.True(t, claims.IsAdmin)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	_, err := ValidateToken("not.a.token")
	assert.Error(t, err)
}
