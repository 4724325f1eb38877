package vm

import "github.com/ethereum/go-ethereum/common"

// transientStorage is the per-transaction key-value store (EIP-1153 shape):
// scoped per address, wiped when a top-level call enters.
type transientStorage map[common.Address]map[common.Hash]common.Hash

func newTransientStorage() transientStorage {
	return make(transientStorage)
}

// Set stores key=value under addr.
func (t transientStorage) Set(addr common.Address, key, value common.Hash) {
	slots, ok := t[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		t[addr] = slots
	}
	slots[key] = value
}

// Get reads the value for key under addr; unset slots read as zero.
func (t transientStorage) Get(addr common.Address, key common.Hash) common.Hash {
	return t[addr][key]
}
