package btcspv

import "math/big"

// CompactToBig converts the unsigned 32-bit compact representation of a
// whole number N to a big.Int. This is the Bitcoin "nBits" encoding: the
// high 8 bits are an exponent, the low 23 bits are a mantissa, and bit 23
// is a sign bit. This is the same algorithm Bitcoin Core and btcd use to
// decode block header `bits`; no third-party library in the retrieved pack
// exposes it (btcd's own blockchain package, which carries this function,
// is not a module dependency here), so it is implemented directly against
// math/big per spec.md §3.1's "Chain work = ... where target is decoded
// from bits".
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	exponent := uint(compact >> 24)

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	if compact&0x00800000 != 0 {
		bn = bn.Neg(bn)
	}
	return bn
}

// BigToCompact converts a whole number N to a compact representation.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var negative bool
	if n.Sign() < 0 {
		negative = true
		n = new(big.Int).Neg(n)
	}

	exponent := uint(len(n.Bytes()))
	var mantissa uint32
	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(n)
		tn.Rsh(tn, 8*(exponent-3))
		mantissa = uint32(tn.Bits()[0])
	}

	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent<<24) | mantissa
	if negative {
		compact |= 0x00800000
	}
	return compact
}

// CalcWork computes the cumulative proof-of-work contribution of a single
// header given its target, using the identity from spec.md §3.1:
// `(~target / (target + 1)) + 1`.
func CalcWork(bits uint32) *big.Int {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}

	// ~target == 2^256 - 1 - target
	maxUint256 := new(big.Int).Lsh(big.NewInt(1), 256)
	maxUint256.Sub(maxUint256, big.NewInt(1))

	denom := new(big.Int).Add(target, big.NewInt(1))
	notTarget := new(big.Int).Sub(maxUint256, target)

	work := new(big.Int).Div(notTarget, denom)
	return work.Add(work, big.NewInt(1))
}

// HashToBig converts a hash (given in internal little-endian byte order)
// into a big.Int for comparison against a decoded PoW target.
func HashToBig(h [32]byte) *big.Int {
	var buf [32]byte
	for i := 0; i < 32; i++ {
		buf[i] = h[31-i]
	}
	return new(big.Int).SetBytes(buf[:])
}
