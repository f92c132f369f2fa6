package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "0xbbbb000000000000000000000000000000000002"

func TestIssueAndValidateKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	raw, key, err := m.IssueKey(ctx, testAddr, "cli", 0)
	require.NoError(t, err)
	assert.True(t, len(raw) > 10)
	assert.Contains(t, raw, "esk_")
	assert.Equal(t, testAddr, key.AccountAddr)
	assert.Nil(t, key.ExpiresAt)

	got, err := m.ValidateKey(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)

	// Bearer prefix is tolerated.
	got, err = m.ValidateKey(ctx, "Bearer "+raw)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
}

func TestValidateKeyRejections(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	_, err := m.ValidateKey(ctx, "")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = m.ValidateKey(ctx, "sk_wrongscheme")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = m.ValidateKey(ctx, "esk_doesnotexist")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestRevokedKeyRejected(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	raw, key, err := m.IssueKey(ctx, testAddr, "", 0)
	require.NoError(t, err)

	require.NoError(t, m.RevokeKey(ctx, key.ID, testAddr))

	_, err = m.ValidateKey(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestExpiredKeyRejected(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	raw, key, err := m.IssueKey(ctx, testAddr, "short-lived", time.Nanosecond)
	require.NoError(t, err)
	require.NotNil(t, key.ExpiresAt)

	time.Sleep(10 * time.Millisecond)

	_, err = m.ValidateKey(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestRevokeOtherAccountKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	_, key, err := m.IssueKey(ctx, testAddr, "", 0)
	require.NoError(t, err)

	// A different account cannot revoke someone else's key.
	other := "0xcccc000000000000000000000000000000000003"
	err = m.RevokeKey(ctx, key.ID, other)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	keys, err := m.ListKeys(ctx, testAddr)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].Revoked)
}

func TestListKeysIsPerAccount(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	_, _, err := m.IssueKey(ctx, testAddr, "a", 0)
	require.NoError(t, err)
	_, _, err = m.IssueKey(ctx, testAddr, "b", 0)
	require.NoError(t, err)

	keys, err := m.ListKeys(ctx, testAddr)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = m.ListKeys(ctx, "0xdddd000000000000000000000000000000000004")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
