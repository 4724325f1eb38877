package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AddressNotFoundError is returned when the queried address has no account
// in the world-state at all.
type AddressNotFoundError struct {
	Addr common.Address
}

func (e *AddressNotFoundError) Error() string {
	return fmt.Sprintf("address not found: %s", e.Addr.Hex())
}

// NoContractError is returned when the account exists but lacks the
// requested contract-only field (code, code hash or storage).
type NoContractError struct {
	Addr common.Address
}

func (e *NoContractError) Error() string {
	return fmt.Sprintf("not a contract: %s", e.Addr.Hex())
}

// StorageNotExistError is returned for storage slots that were never
// written.
type StorageNotExistError struct {
	Key common.Hash
}

func (e *StorageNotExistError) Error() string {
	return fmt.Sprintf("storage key not found: %s", e.Key.Hex())
}
