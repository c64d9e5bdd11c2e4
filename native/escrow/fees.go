package escrow

import "math/big"

// MaxFeeBps bounds the platform fee; values above this are rejected at
// configuration time.
const MaxFeeBps uint32 = 10_000

// SplitFee computes the platform fee and net payout for a gross amount at
// the given fee rate in basis points. The fee is truncated toward zero and
// the net is the exact remainder, so fee + net == gross always holds and no
// rounding loss is left unaccounted.
func SplitFee(gross *big.Int, feeBps uint32) (fee, net *big.Int) {
	if gross == nil || gross.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	fee = new(big.Int).Mul(gross, new(big.Int).SetUint64(uint64(feeBps)))
	fee.Div(fee, big.NewInt(int64(MaxFeeBps)))
	net = new(big.Int).Sub(gross, fee)
	return fee, net
}
