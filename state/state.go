package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Account is a single entry of the world-state. An account without code is
// an externally owned account; the presence of Code marks a contract. During
// contract creation Code temporarily holds the init code and CodeHash stays
// nil until the runtime code is installed.
type Account struct {
	Nonce    uint64
	Balance  *uint256.Int
	CodeHash *common.Hash
	Storage  map[common.Hash]common.Hash
	Code     []byte

	// hasCode distinguishes a contract with empty code from an EOA, the
	// same way an Option<Bytes> would.
	hasCode bool
}

// NewEOA returns an account with no code and no storage.
func NewEOA(nonce uint64, balance *uint256.Int) *Account {
	if balance == nil {
		balance = new(uint256.Int)
	}
	return &Account{
		Nonce:   nonce,
		Balance: balance,
	}
}

// NewContract returns an account carrying code and an empty storage map.
func NewContract(nonce uint64, balance *uint256.Int, code []byte) *Account {
	if balance == nil {
		balance = new(uint256.Int)
	}
	return &Account{
		Nonce:   nonce,
		Balance: balance,
		Storage: make(map[common.Hash]common.Hash),
		Code:    code,
		hasCode: true,
	}
}

// IsContract reports whether the account carries code.
func (acc *Account) IsContract() bool {
	return acc.hasCode
}

func (acc *Account) copy() *Account {
	cpy := &Account{
		Nonce:   acc.Nonce,
		Balance: new(uint256.Int).Set(acc.Balance),
		Code:    acc.Code,
		hasCode: acc.hasCode,
	}
	if acc.CodeHash != nil {
		h := *acc.CodeHash
		cpy.CodeHash = &h
	}
	if acc.Storage != nil {
		cpy.Storage = make(map[common.Hash]common.Hash, len(acc.Storage))
		for k, v := range acc.Storage {
			cpy.Storage[k] = v
		}
	}
	return cpy
}

// WorldState maps addresses to accounts. A WorldState is owned by a single
// machine; nested frames roll back by swapping in a Snapshot taken at frame
// entry.
type WorldState struct {
	state map[common.Address]*Account
}

// New returns an empty world-state.
func New() *WorldState {
	return &WorldState{state: make(map[common.Address]*Account)}
}

// NewAccount inserts or replaces the account at addr.
func (ws *WorldState) NewAccount(addr common.Address, acc *Account) {
	ws.state[addr] = acc
}

// RemoveAccount deletes the account at addr, if present.
func (ws *WorldState) RemoveAccount(addr common.Address) {
	delete(ws.state, addr)
}

// Exist reports whether an account is present at addr.
func (ws *WorldState) Exist(addr common.Address) bool {
	_, ok := ws.state[addr]
	return ok
}

// GetAccount returns the account at addr.
func (ws *WorldState) GetAccount(addr common.Address) (*Account, error) {
	acc, ok := ws.state[addr]
	if !ok {
		return nil, &AddressNotFoundError{Addr: addr}
	}
	return acc, nil
}

// GetNonce returns the nonce of addr.
func (ws *WorldState) GetNonce(addr common.Address) (uint64, error) {
	acc, ok := ws.state[addr]
	if !ok {
		return 0, &AddressNotFoundError{Addr: addr}
	}
	return acc.Nonce, nil
}

// SetNonce overwrites the nonce of addr.
func (ws *WorldState) SetNonce(addr common.Address, nonce uint64) error {
	acc, ok := ws.state[addr]
	if !ok {
		return &AddressNotFoundError{Addr: addr}
	}
	acc.Nonce = nonce
	return nil
}

// GetBalance returns the balance of addr.
func (ws *WorldState) GetBalance(addr common.Address) (*uint256.Int, error) {
	acc, ok := ws.state[addr]
	if !ok {
		return nil, &AddressNotFoundError{Addr: addr}
	}
	return new(uint256.Int).Set(acc.Balance), nil
}

// SetBalance overwrites the balance of addr. Unlike AddBalance and
// SubBalance it fails when the account is missing.
func (ws *WorldState) SetBalance(addr common.Address, value *uint256.Int) error {
	acc, ok := ws.state[addr]
	if !ok {
		return &AddressNotFoundError{Addr: addr}
	}
	acc.Balance = new(uint256.Int).Set(value)
	return nil
}

// AddBalance credits addr. A missing address is a silent no-op; callers that
// care about the credit landing must create the recipient first.
func (ws *WorldState) AddBalance(addr common.Address, value *uint256.Int) {
	if acc, ok := ws.state[addr]; ok {
		acc.Balance.Add(acc.Balance, value)
	}
}

// SubBalance debits addr. A missing address is a silent no-op.
func (ws *WorldState) SubBalance(addr common.Address, value *uint256.Int) {
	if acc, ok := ws.state[addr]; ok {
		acc.Balance.Sub(acc.Balance, value)
	}
}

// GetCode returns the code of addr. A present account without code yields
// NoContractError, an absent one AddressNotFoundError.
func (ws *WorldState) GetCode(addr common.Address) ([]byte, error) {
	acc, ok := ws.state[addr]
	if !ok {
		return nil, &AddressNotFoundError{Addr: addr}
	}
	if !acc.hasCode {
		return nil, &NoContractError{Addr: addr}
	}
	return acc.Code, nil
}

// GetCodeHash returns the code hash of addr.
func (ws *WorldState) GetCodeHash(addr common.Address) (common.Hash, error) {
	acc, ok := ws.state[addr]
	if !ok {
		return common.Hash{}, &AddressNotFoundError{Addr: addr}
	}
	if acc.CodeHash == nil {
		return common.Hash{}, &NoContractError{Addr: addr}
	}
	return *acc.CodeHash, nil
}

// InsertCode installs code at addr, promoting the account to a contract.
func (ws *WorldState) InsertCode(addr common.Address, code []byte) error {
	acc, ok := ws.state[addr]
	if !ok {
		return &AddressNotFoundError{Addr: addr}
	}
	acc.Code = code
	acc.hasCode = true
	if acc.Storage == nil {
		acc.Storage = make(map[common.Hash]common.Hash)
	}
	return nil
}

// InsertCodeHash records the hash of the installed code.
func (ws *WorldState) InsertCodeHash(addr common.Address, hash common.Hash) error {
	acc, ok := ws.state[addr]
	if !ok {
		return &AddressNotFoundError{Addr: addr}
	}
	acc.CodeHash = &hash
	return nil
}

// GetStorageValue reads one storage slot of addr. A slot never written
// yields StorageNotExistError; the EVM reads those as zero.
func (ws *WorldState) GetStorageValue(addr common.Address, key common.Hash) (common.Hash, error) {
	acc, ok := ws.state[addr]
	if !ok {
		return common.Hash{}, &AddressNotFoundError{Addr: addr}
	}
	if acc.Storage == nil {
		return common.Hash{}, &NoContractError{Addr: addr}
	}
	value, ok := acc.Storage[key]
	if !ok {
		return common.Hash{}, &StorageNotExistError{Key: key}
	}
	return value, nil
}

// InsertStorageValue writes one storage slot of addr, creating a zeroed
// contract account when the address is missing.
func (ws *WorldState) InsertStorageValue(addr common.Address, key, value common.Hash) error {
	acc, ok := ws.state[addr]
	if !ok {
		acc = NewContract(0, new(uint256.Int), nil)
		ws.state[addr] = acc
	}
	if acc.Storage == nil {
		return &NoContractError{Addr: addr}
	}
	acc.Storage[key] = value
	return nil
}

// Snapshot returns a deep copy of the world-state. Frames capture one at
// entry and swap it back in to roll back a revert.
func (ws *WorldState) Snapshot() *WorldState {
	cpy := &WorldState{state: make(map[common.Address]*Account, len(ws.state))}
	for addr, acc := range ws.state {
		cpy.state[addr] = acc.copy()
	}
	return cpy
}

// RevertTo replaces the store's contents with those of snapshot. Every
// holder of the store observes the rollback, since the store itself is
// shared while snapshots are private copies.
func (ws *WorldState) RevertTo(snapshot *WorldState) {
	ws.state = snapshot.state
}

// Accounts returns the address set of the world-state. The returned slice
// is freshly allocated; mutating it does not affect the store.
func (ws *WorldState) Accounts() []common.Address {
	addrs := make([]common.Address, 0, len(ws.state))
	for addr := range ws.state {
		addrs = append(addrs, addr)
	}
	return addrs
}
