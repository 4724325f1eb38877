package vm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Georci/ken-evm/state"
)

// CallType labels how a frame was entered.
type CallType int

const (
	CallTypeNone CallType = iota
	CallTypeCall
	CallTypeCallCode
	CallTypeDelegateCall
	CallTypeStaticCall
	CallTypeCreate
	CallTypeCreate2
)

func (ct CallType) String() string {
	switch ct {
	case CallTypeCall:
		return "call"
	case CallTypeCallCode:
		return "callcode"
	case CallTypeDelegateCall:
		return "delegatecall"
	case CallTypeStaticCall:
		return "staticcall"
	case CallTypeCreate:
		return "create"
	case CallTypeCreate2:
		return "create2"
	default:
		return "none"
	}
}

// Frame is one entry of the call stack: the context of a message call or
// contract creation, plus what is needed to resume the caller afterwards.
type Frame struct {
	// From is the account the call originates from; value is debited here.
	From common.Address
	// To is the account whose code executes. Nil only while constructing a
	// deployment frame before the address is derived.
	To *common.Address
	// Caller is the msg.sender the executing code observes. It differs
	// from From only in delegate context.
	Caller common.Address
	// Address is the execution context: storage, balance and ADDRESS all
	// resolve here. Equals To except for DELEGATECALL/CALLCODE, where it
	// stays the caller's address.
	Address common.Address

	Value    *uint256.Int
	CallData []byte
	Type     CallType
	Depth    int

	// savedPC is the caller's program counter at the call opcode;
	// execution resumes at savedPC+1.
	savedPC uint64
	// snapshot of the world-state at frame entry, swapped back in to roll
	// back a revert, and unconditionally after a STATICCALL.
	snapshot *state.WorldState
}

// Block carries the read-only block-level context, set once per top-level
// execution.
type Block struct {
	BlockHash  common.Hash
	Coinbase   common.Address
	Timestamp  uint64
	Number     *big.Int
	PrevRandao common.Hash
	GasLimit   uint64
	ChainID    *big.Int
	BaseFee    *big.Int
}
