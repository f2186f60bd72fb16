package txscript

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAndDecodeHTLC1SecretPlainRoundTrip(t *testing.T) {
	var hashlock [HashlockSize]byte
	h := sha256.Sum256([]byte("secret"))
	copy(hashlock[:], h[:])

	var destA, destB [20]byte
	destA[0] = 0xAA
	destB[0] = 0xBB

	script, err := BuildHTLC1SecretScript(hashlock, destA, destB, 700000, nil)
	require.NoError(t, err)

	p, err := DecodeHTLC1SecretScript(script)
	require.NoError(t, err)
	require.Equal(t, hashlock, p.Hashlock)
	require.Equal(t, destA, p.DestA)
	require.Equal(t, destB, p.DestB)
	require.Equal(t, int64(700000), p.Timelock)
	require.Nil(t, p.Covenant)
}

func TestBuildAndDecodeHTLC1SecretCovenantRoundTrip(t *testing.T) {
	var hashlock [HashlockSize]byte
	h := sha256.Sum256([]byte("secret"))
	copy(hashlock[:], h[:])

	var destA, destB [20]byte
	var commitment [32]byte
	commitment[0] = 0xCC

	script, err := BuildHTLC1SecretScript(hashlock, destA, destB, 1, &commitment)
	require.NoError(t, err)

	p, err := DecodeHTLC1SecretScript(script)
	require.NoError(t, err)
	require.NotNil(t, p.Covenant)
	require.Equal(t, commitment, *p.Covenant)
}

func TestDecodeHTLC1SecretRejectsTrailingGarbage(t *testing.T) {
	var hashlock [HashlockSize]byte
	var destA, destB [20]byte
	script, err := BuildHTLC1SecretScript(hashlock, destA, destB, 5, nil)
	require.NoError(t, err)

	script = append(script, OP_DROP)
	_, err = DecodeHTLC1SecretScript(script)
	require.Error(t, err)
}

func TestDecodeHTLC1SecretRejectsNonPositiveTimelock(t *testing.T) {
	var h [HashlockSize]byte
	var a, b [20]byte
	_, err := BuildHTLC1SecretScript(h, a, b, 0, nil)
	require.Error(t, err)
}

func TestBuildAndDecodeHTLC3SecretRoundTrip(t *testing.T) {
	hUser := sha256.Sum256([]byte("user"))
	hLp1 := sha256.Sum256([]byte("lp1"))
	hLp2 := sha256.Sum256([]byte("lp2"))

	var claimDest, refundDest [20]byte
	claimDest[0] = 1
	refundDest[0] = 2

	script, err := BuildHTLC3SecretScript(hUser, hLp1, hLp2, claimDest, refundDest, 4320, nil)
	require.NoError(t, err)

	p, err := DecodeHTLC3SecretScript(script)
	require.NoError(t, err)
	require.Equal(t, hUser, p.HashUser)
	require.Equal(t, hLp1, p.HashLP1)
	require.Equal(t, hLp2, p.HashLP2)
	require.Equal(t, claimDest, p.ClaimDest)
	require.Equal(t, refundDest, p.RefundDest)
}

func TestBuildHTLC3SecretClaimScriptSigOrder(t *testing.T) {
	sig := []byte("sig")
	pub := []byte("pub")
	sUser := []byte("s-user")
	sLP1 := []byte("s-lp1")
	sLP2 := []byte("s-lp2")
	redeem := []byte("redeem")

	scriptSig, err := BuildHTLC3SecretClaimScriptSig(sig, pub, sUser, sLP1, sLP2, redeem)
	require.NoError(t, err)

	tz := newTokenizer(scriptSig)
	var pushes [][]byte
	for tz.Next() {
		require.True(t, tz.tok.IsData || tz.tok.Opcode == OP_1)
		if tz.tok.IsData {
			pushes = append(pushes, tz.tok.Data)
		} else {
			pushes = append(pushes, []byte{0x01}) // marker for OP_TRUE
		}
	}
	require.True(t, tz.Done())
	require.Equal(t, [][]byte{sig, pub, sLP2, sLP1, sUser, {0x01}, redeem}, pushes)
}
