package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_RoundTrip(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	for _, password := range []string{"secret1", "correct horse battery", "пароль123", "p@ss w0rd!"} {
		hash, err := h.Hash(password)
		require.NoError(t, err)
		assert.NotEqual(t, password, hash)
		assert.True(t, h.Verify(password, hash), password)
	}
}

func TestHasher_SingleCharacterAlteration(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	password := "secret1"
	hash, err := h.Hash(password)
	require.NoError(t, err)

	for i := range password {
		altered := []byte(password)
		altered[i] ^= 0x01
		assert.False(t, h.Verify(string(altered), hash), "altered at %d", i)
	}
	assert.False(t, h.Verify(password+"x", hash))
	assert.False(t, h.Verify(password[:len(password)-1], hash))
}

func TestHasher_UniqueSalts(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	first, err := h.Hash("secret1")
	require.NoError(t, err)
	second, err := h.Hash("secret1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, h.Verify("secret1", first))
	assert.True(t, h.Verify("secret1", second))
}

func TestHasher_MalformedHashIsMismatch(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	assert.False(t, h.Verify("secret1", ""))
	assert.False(t, h.Verify("secret1", "not-a-bcrypt-hash"))
	assert.False(t, h.Verify("secret1", "$2a$10$short"))
}

func TestHasher_CostClamp(t *testing.T) {
	assert.Equal(t, DefaultBcryptCost, NewHasher(0).cost)
	assert.Equal(t, DefaultBcryptCost, NewHasher(bcrypt.MaxCost+1).cost)
	assert.Equal(t, bcrypt.MinCost, NewHasher(bcrypt.MinCost).cost)
}

func TestHasher_OldCostStillVerifies(t *testing.T) {
	old, err := NewHasher(bcrypt.MinCost).Hash("secret1")
	require.NoError(t, err)

	assert.True(t, NewHasher(bcrypt.MinCost+1).Verify("secret1", old))
}

func TestHasher_Burn(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	assert.NotPanics(t, func() {
		h.Burn("anything")
		h.Burn("anything else")
	})
	assert.NotEmpty(t, h.dummy)
}
