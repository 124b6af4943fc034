package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	p, err := NewMemoryKeyProvider()
	require.NoError(t, err)
	k := NewKeyring(p)

	msg := []byte("nexus-seal-value")
	sig, err := k.Sign(msg)
	require.NoError(t, err)

	assert.True(t, k.Verify(msg, sig))
	assert.False(t, k.Verify([]byte("tampered"), sig))
}

func TestDerivedKeyringIsDeterministic(t *testing.T) {
	ikm := []byte("01234567890123456789012345678901")

	a, err := NewDerivedKeyring(ikm, "evidence-seal")
	require.NoError(t, err)
	b, err := NewDerivedKeyring(ikm, "evidence-seal")
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey(), b.PublicKey(), "same master key must yield the same signing identity")

	msg := []byte("seal")
	sig, err := a.Sign(msg)
	require.NoError(t, err)
	assert.True(t, b.Verify(msg, sig), "a restart must still verify earlier signatures")
}

func TestDerivedKeyringInfoSeparatesIdentities(t *testing.T) {
	ikm := []byte("01234567890123456789012345678901")

	a, err := NewDerivedKeyring(ikm, "evidence-seal")
	require.NoError(t, err)
	b, err := NewDerivedKeyring(ikm, "another-purpose")
	require.NoError(t, err)

	assert.NotEqual(t, a.PublicKey(), b.PublicKey())
}

func TestDerivedKeyringRejectsEmptyKeyMaterial(t *testing.T) {
	_, err := NewDerivedKeyring(nil, "evidence-seal")
	assert.Error(t, err)
}
