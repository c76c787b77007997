package host

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProgram = BytesToPubkey(bytes.Repeat([]byte{0x42}, 32))

func TestFindProgramAddressDeterministic(t *testing.T) {
	seeds := [][]byte{{3}, []byte("0x00000000000000000000000000000000000000ff")[:20]}
	a, bumpA, err := FindProgramAddress(seeds, testProgram)
	require.NoError(t, err)
	b, bumpB, err := FindProgramAddress(seeds, testProgram)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, bumpA, bumpB)
	assert.False(t, IsOnCurve(a[:]))

	// Re-deriving with the bump appended gives the same address.
	direct, err := CreateProgramAddress(append(seeds, []byte{bumpA}), testProgram)
	require.NoError(t, err)
	assert.Equal(t, a, direct)
}

func TestFindProgramAddressDistinct(t *testing.T) {
	seen := make(map[Pubkey]bool)
	for i := 0; i < 32; i++ {
		key, _, err := FindProgramAddress([][]byte{{3}, {byte(i)}}, testProgram)
		require.NoError(t, err)
		assert.False(t, seen[key])
		seen[key] = true
	}
	other := BytesToPubkey([]byte{1})
	k1, _, _ := FindProgramAddress([][]byte{{3}, {1}}, testProgram)
	k2, _, _ := FindProgramAddress([][]byte{{3}, {1}}, other)
	assert.NotEqual(t, k1, k2, "program id must be part of the derivation")
}

func TestCreateProgramAddressSeedLimits(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{make([]byte, MaxSeedLength+1)}, testProgram)
	assert.ErrorIs(t, err, ErrMaxSeedLengthExceeded)

	seeds := make([][]byte, MaxSeeds+1)
	_, err = CreateProgramAddress(seeds, testProgram)
	assert.ErrorIs(t, err, ErrMaxSeedLengthExceeded)
}

func TestIsOnCurve(t *testing.T) {
	// The ed25519 base point encoding.
	base := []byte{
		0x58, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
		0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66, 0x66,
	}
	assert.True(t, IsOnCurve(base))
	assert.False(t, IsOnCurve([]byte{1, 2, 3}))
}

func TestPubkeyText(t *testing.T) {
	key := BytesToPubkey([]byte{0xde, 0xad, 0xbe, 0xef})
	parsed, err := ParsePubkey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	assert.Equal(t, "11111111111111111111111111111111", SystemProgramID.String())

	_, err = ParsePubkey("3mJr7AoUXx2Wqd")
	assert.Error(t, err)

	var out Pubkey
	require.NoError(t, out.UnmarshalText([]byte(key.String())))
	assert.Equal(t, key, out)
}
