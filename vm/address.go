package vm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"
)

// keccak256 computes the legacy Keccak-256 digest over data.
func keccak256(data ...[]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// createAddress derives the address of a contract created by sender with
// the given account nonce: keccak256(rlp([sender, nonce]))[12:].
func createAddress(sender common.Address, nonce uint64) common.Address {
	enc, _ := rlp.EncodeToBytes([]interface{}{sender, nonce})
	return common.BytesToAddress(keccak256(enc).Bytes()[12:])
}

// create2Address derives the CREATE2 address:
// keccak256(0xff ++ sender ++ salt ++ keccak256(initCode))[12:]. It depends
// only on its inputs, never on world-state.
func create2Address(sender common.Address, salt common.Hash, initCodeHash common.Hash) common.Address {
	digest := keccak256([]byte{0xff}, sender.Bytes(), salt.Bytes(), initCodeHash.Bytes())
	return common.BytesToAddress(digest.Bytes()[12:])
}
