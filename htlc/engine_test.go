package htlc

import (
	"crypto/sha256"
	"os"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/txscript"
	"github.com/bathron-chain/bathron/wire"
)

func mustOpenEngine(t *testing.T) *Engine {
	t.Helper()
	dir, err := os.MkdirTemp("", "htlc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	e, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func fakeOutpoint(b byte) wire.OutPoint {
	var h chainhash.Hash
	h[0] = b
	return wire.OutPoint{Hash: h, Index: 0}
}

func TestCreate1SStoresActiveRecordAndHashlockIndex(t *testing.T) {
	e := mustOpenEngine(t)

	hashlock := sha256.Sum256([]byte("s1"))
	params := &txscript.HTLC1SecretParams{Hashlock: hashlock, Timelock: 500000}
	htlcOut := fakeOutpoint(1)
	orig := fakeOutpoint(2)
	createTxid := chainhash.HashH([]byte("create-tx"))

	require.NoError(t, e.Create1S(createTxid, 100, htlcOut, orig, 1000, params))

	rec, err := e.GetRecord1S(htlcOut)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, StatusActive, rec.Status)
	require.Equal(t, int64(1000), rec.Amount)
	require.Equal(t, hashlock, rec.Hashlock)
	require.Equal(t, int32(100), rec.CreateHeight)
	require.Equal(t, createTxid, rec.CreateTxid)

	found, err := e.FindByHashlock1S(hashlock)
	require.NoError(t, err)
	require.Equal(t, []wire.OutPoint{htlcOut}, found)
}

func TestResolve1SClaimTransitionsAndClearsIndex(t *testing.T) {
	e := mustOpenEngine(t)

	hashlock := sha256.Sum256([]byte("s1"))
	params := &txscript.HTLC1SecretParams{Hashlock: hashlock, Timelock: 500000}
	htlcOut := fakeOutpoint(1)
	createTxid := chainhash.HashH([]byte("create-tx"))
	require.NoError(t, e.Create1S(createTxid, 100, htlcOut, fakeOutpoint(2), 1000, params))

	claimTxid := chainhash.HashH([]byte("claim-tx"))
	require.NoError(t, e.Resolve1S(claimTxid, htlcOut, StatusClaimed))

	rec, err := e.GetRecord1S(htlcOut)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, rec.Status)

	found, err := e.FindByHashlock1S(hashlock)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestResolve1SRejectsDoubleResolution(t *testing.T) {
	e := mustOpenEngine(t)

	hashlock := sha256.Sum256([]byte("s1"))
	params := &txscript.HTLC1SecretParams{Hashlock: hashlock, Timelock: 500000}
	htlcOut := fakeOutpoint(1)
	require.NoError(t, e.Create1S(chainhash.HashH([]byte("c")), 100, htlcOut, fakeOutpoint(2), 1000, params))
	require.NoError(t, e.Resolve1S(chainhash.HashH([]byte("claim")), htlcOut, StatusClaimed))

	err := e.Resolve1S(chainhash.HashH([]byte("refund")), htlcOut, StatusRefunded)
	require.ErrorIs(t, err, ErrWrongStatus)
}

func TestResolve1SUnknownOutpoint(t *testing.T) {
	e := mustOpenEngine(t)
	err := e.Resolve1S(chainhash.HashH([]byte("x")), fakeOutpoint(9), StatusClaimed)
	require.ErrorIs(t, err, ErrUnknownHTLC)
}

func TestUndoCreate1SRemovesRecordAndRestoresReceipt(t *testing.T) {
	e := mustOpenEngine(t)

	hashlock := sha256.Sum256([]byte("s1"))
	params := &txscript.HTLC1SecretParams{Hashlock: hashlock, Timelock: 500000}
	htlcOut := fakeOutpoint(1)
	orig := fakeOutpoint(2)
	createTxid := chainhash.HashH([]byte("create-tx"))
	require.NoError(t, e.Create1S(createTxid, 100, htlcOut, orig, 1000, params))

	restoredOutpoint, restoredAmount, err := e.UndoCreate1S(createTxid, htlcOut)
	require.NoError(t, err)
	require.Equal(t, orig, restoredOutpoint)
	require.Equal(t, int64(1000), restoredAmount)

	rec, err := e.GetRecord1S(htlcOut)
	require.NoError(t, err)
	require.Nil(t, rec)

	found, err := e.FindByHashlock1S(hashlock)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestUndoResolve1SRestoresActiveRecordAndIndex(t *testing.T) {
	e := mustOpenEngine(t)

	hashlock := sha256.Sum256([]byte("s1"))
	params := &txscript.HTLC1SecretParams{Hashlock: hashlock, Timelock: 500000}
	htlcOut := fakeOutpoint(1)
	require.NoError(t, e.Create1S(chainhash.HashH([]byte("c")), 100, htlcOut, fakeOutpoint(2), 1000, params))

	claimTxid := chainhash.HashH([]byte("claim-tx"))
	require.NoError(t, e.Resolve1S(claimTxid, htlcOut, StatusClaimed))

	require.NoError(t, e.UndoResolve1S(claimTxid, htlcOut))

	rec, err := e.GetRecord1S(htlcOut)
	require.NoError(t, err)
	require.Equal(t, StatusActive, rec.Status)

	found, err := e.FindByHashlock1S(hashlock)
	require.NoError(t, err)
	require.Equal(t, []wire.OutPoint{htlcOut}, found)
}

// TestReorgRoundTripRestoresIdenticalRecord exercises spec.md §8's P8
// property for a single HTLC: resolving then undoing a resolve must leave
// the record byte-identical to its pre-resolution state, not merely
// "equivalent enough".
func TestReorgRoundTripRestoresIdenticalRecord(t *testing.T) {
	e := mustOpenEngine(t)

	hashlock := sha256.Sum256([]byte("s1"))
	params := &txscript.HTLC1SecretParams{Hashlock: hashlock, Timelock: 500000}
	htlcOut := fakeOutpoint(1)
	require.NoError(t, e.Create1S(chainhash.HashH([]byte("c")), 100, htlcOut, fakeOutpoint(2), 1000, params))

	before, err := e.GetRecord1S(htlcOut)
	require.NoError(t, err)

	claimTxid := chainhash.HashH([]byte("claim-tx"))
	require.NoError(t, e.Resolve1S(claimTxid, htlcOut, StatusClaimed))
	require.NoError(t, e.UndoResolve1S(claimTxid, htlcOut))

	after, err := e.GetRecord1S(htlcOut)
	require.NoError(t, err)

	if !reflect.DeepEqual(before, after) {
		t.Errorf("reorg round-trip diverged: got %v, want %v", spew.Sdump(after), spew.Sdump(before))
	}
}

func TestCreate3SAndResolveUpdatesAllThreeIndices(t *testing.T) {
	e := mustOpenEngine(t)

	hUser := sha256.Sum256([]byte("user"))
	hLp1 := sha256.Sum256([]byte("lp1"))
	hLp2 := sha256.Sum256([]byte("lp2"))
	params := &txscript.HTLC3SecretParams{HashUser: hUser, HashLP1: hLp1, HashLP2: hLp2, Timelock: 4320}
	htlcOut := fakeOutpoint(1)
	createTxid := chainhash.HashH([]byte("create-tx"))

	require.NoError(t, e.Create3S(createTxid, 200, htlcOut, fakeOutpoint(2), 5000, params))

	rec, err := e.GetRecord3S(htlcOut)
	require.NoError(t, err)
	require.Equal(t, StatusActive, rec.Status)

	for role, h := range map[string][32]byte{"user": hUser, "lp1": hLp1, "lp2": hLp2} {
		found, err := e.FindByHashlock3S(role, h)
		require.NoError(t, err)
		require.Equal(t, []wire.OutPoint{htlcOut}, found, "role %s", role)
	}

	claimTxid := chainhash.HashH([]byte("claim-tx"))
	require.NoError(t, e.Resolve3S(claimTxid, htlcOut, StatusClaimed))

	rec, err = e.GetRecord3S(htlcOut)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, rec.Status)

	for role, h := range map[string][32]byte{"user": hUser, "lp1": hLp1, "lp2": hLp2} {
		found, err := e.FindByHashlock3S(role, h)
		require.NoError(t, err)
		require.Empty(t, found, "role %s", role)
	}
}

func TestUndoCreate3SRemovesRecordAndAllIndices(t *testing.T) {
	e := mustOpenEngine(t)

	hUser := sha256.Sum256([]byte("user"))
	hLp1 := sha256.Sum256([]byte("lp1"))
	hLp2 := sha256.Sum256([]byte("lp2"))
	params := &txscript.HTLC3SecretParams{HashUser: hUser, HashLP1: hLp1, HashLP2: hLp2, Timelock: 4320}
	htlcOut := fakeOutpoint(1)
	createTxid := chainhash.HashH([]byte("create-tx"))
	require.NoError(t, e.Create3S(createTxid, 200, htlcOut, fakeOutpoint(2), 5000, params))

	rec, err := e.GetRecord3S(htlcOut)
	require.NoError(t, err)
	require.NotNil(t, rec)

	restoredOutpoint, restoredAmount, err := e.UndoCreate3S(createTxid, htlcOut)
	require.NoError(t, err)
	require.Equal(t, fakeOutpoint(2), restoredOutpoint)
	require.Equal(t, int64(5000), restoredAmount)

	rec, err = e.GetRecord3S(htlcOut)
	require.NoError(t, err)
	require.Nil(t, rec)

	for role, h := range map[string][32]byte{"user": hUser, "lp1": hLp1, "lp2": hLp2} {
		found, err := e.FindByHashlock3S(role, h)
		require.NoError(t, err)
		require.Empty(t, found, "role %s", role)
	}
}

func TestUndoResolve3SRestoresActiveRecordAndAllIndices(t *testing.T) {
	e := mustOpenEngine(t)

	hUser := sha256.Sum256([]byte("user"))
	hLp1 := sha256.Sum256([]byte("lp1"))
	hLp2 := sha256.Sum256([]byte("lp2"))
	params := &txscript.HTLC3SecretParams{HashUser: hUser, HashLP1: hLp1, HashLP2: hLp2, Timelock: 4320}
	htlcOut := fakeOutpoint(1)
	require.NoError(t, e.Create3S(chainhash.HashH([]byte("c")), 200, htlcOut, fakeOutpoint(2), 5000, params))

	claimTxid := chainhash.HashH([]byte("claim-tx"))
	require.NoError(t, e.Resolve3S(claimTxid, htlcOut, StatusClaimed))

	require.NoError(t, e.UndoResolve3S(claimTxid, htlcOut))

	rec, err := e.GetRecord3S(htlcOut)
	require.NoError(t, err)
	require.Equal(t, StatusActive, rec.Status)

	for role, h := range map[string][32]byte{"user": hUser, "lp1": hLp1, "lp2": hLp2} {
		found, err := e.FindByHashlock3S(role, h)
		require.NoError(t, err)
		require.Equal(t, []wire.OutPoint{htlcOut}, found, "role %s", role)
	}
}

func TestFindByHashlock3SRejectsUnknownRole(t *testing.T) {
	e := mustOpenEngine(t)
	_, err := e.FindByHashlock3S("bogus", sha256.Sum256([]byte("x")))
	require.Error(t, err)
}
