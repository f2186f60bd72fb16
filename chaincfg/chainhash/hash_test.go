package chainhash

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestHashStringRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var h Hash
		b := rapid.SliceOfN(rapid.Byte(), HashSize, HashSize).Draw(t, "hash")
		copy(h[:], b)

		parsed, err := NewHashFromStr(h.String())
		require.NoError(t, err)
		require.Equal(t, h, *parsed)
	})
}

func TestHashMerkleBranchesCommutativity(t *testing.T) {
	a := HashH([]byte("left"))
	b := HashH([]byte("right"))

	ab := HashMerkleBranches(&a, &b)
	ba := HashMerkleBranches(&b, &a)

	require.NotEqual(t, ab, ba, "branch order must matter")
}

func TestDecodeRejectsOversizeString(t *testing.T) {
	long := make([]byte, MaxHashStringSize+2)
	for i := range long {
		long[i] = 'a'
	}
	var h Hash
	err := Decode(&h, string(long))
	require.ErrorIs(t, err, ErrHashStrSize)
}
