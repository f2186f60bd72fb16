package txscript

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestScriptNumRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.Int64Range(-(1<<32 - 1), 1<<32-1).Draw(rt, "n")
		b := ScriptNumBytes(n)
		require.LessOrEqual(t, len(b), MaxScriptNumLen)
		got, err := ScriptNumFromBytes(b)
		require.NoError(t, err)
		require.Equal(t, n, got)
	})
}

func TestScriptNumFromBytesRejectsOverlong(t *testing.T) {
	_, err := ScriptNumFromBytes([]byte{1, 2, 3, 4, 5, 6})
	require.ErrorIs(t, err, ErrScriptNumTooLong)
}

func TestScriptBuilderAddDataMinimalPush(t *testing.T) {
	data := make([]byte, 10)
	script, err := NewScriptBuilder().AddData(data).Script()
	require.NoError(t, err)
	require.Equal(t, byte(10), script[0])
	require.Len(t, script, 11)
}

func TestScriptBuilderAddInt64SmallValuesUseOpN(t *testing.T) {
	script, err := NewScriptBuilder().AddInt64(5).Script()
	require.NoError(t, err)
	require.Equal(t, []byte{OP_1 + 4}, script)
}
