package escrow

import (
	"encoding/binary"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Namespace tags for deterministic address derivation. The escrow record
// lives under the state namespace; its vault address is derived from the
// escrow address itself so the pair stays bound without storing a pointer.
const (
	StateNamespace = "state"
	vaultNamespace = "vault"
)

// Derive maps (namespace, seed) to a deterministic account address plus the
// disambiguation nonce that produced it. The nonce space is searched in
// order so the result is stable; the chosen nonce must be persisted by the
// caller so later lookups can recompute the address without searching.
func Derive(namespace string, seed uint64) ([20]byte, uint8, error) {
	for nonce := 0; nonce < 256; nonce++ {
		addr := AddressAt(namespace, seed, uint8(nonce))
		if addr != ([20]byte{}) {
			return addr, uint8(nonce), nil
		}
	}
	return [20]byte{}, 0, fmt.Errorf("%w: namespace %q seed %d", ErrAddressSpaceExhausted, namespace, seed)
}

// AddressAt recomputes the address for a previously derived (namespace,
// seed, nonce) triple. It performs no validity search; callers are expected
// to pass the nonce persisted at creation.
func AddressAt(namespace string, seed uint64, nonce uint8) [20]byte {
	var seedBytes [8]byte
	binary.LittleEndian.PutUint64(seedBytes[:], seed)
	digest := ethcrypto.Keccak256([]byte(namespace), seedBytes[:], []byte{nonce})
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// VaultAddress derives the custodial holding address bound to an escrow.
// The derivation is a pure function of the escrow address, so any party can
// recompute the binding.
func VaultAddress(escrowAddr [20]byte) [20]byte {
	digest := ethcrypto.Keccak256([]byte(vaultNamespace), escrowAddr[:])
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}
