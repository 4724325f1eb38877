package vm

import (
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/Georci/ken-evm/state"
)

const (
	// MaxCallDepth is the limit on nested call frames.
	MaxCallDepth = 1024
	// MaxCodeSize bounds the runtime code a creation may install (EIP-170).
	MaxCodeSize = 24576
	// MaxInitCodeSize bounds creation init code (EIP-3860).
	MaxInitCodeSize = 2 * MaxCodeSize

	// haltPC is the sentinel a halting opcode sets; the interpreter loop
	// observes pc >= len(code) and stops.
	haltPC = math.MaxUint64
)

// PrefetchFunc runs before selected opcodes are dispatched, giving the host
// a chance to back-fill world-state (code, balances, storage) the opcode is
// about to touch. Returning an error aborts the execution.
type PrefetchFunc func(m *Machine, op OpCode) error

// Machine is the running EVM container: the current frame's stack, memory,
// program counter and bytecode, the suspended frames beneath it, and the
// world-state the whole execution mutates.
type Machine struct {
	stack    *Stack
	memory   *Memory
	pc       uint64
	bytecode []byte

	callStack   []*Frame
	stackStack  []*Stack
	memoryStack []*Memory

	transient transientStorage

	isConstructor bool
	isRevert      bool

	// returnData is the pending return buffer of the frame that is
	// currently halting; subReturnData is the buffer of the child call
	// that last completed, served by RETURNDATASIZE/RETURNDATACOPY.
	returnData    []byte
	subReturnData []byte

	origin   common.Address
	gasPrice *uint256.Int
	block    *Block
	getHash  func(uint64) common.Hash

	ws      *state.WorldState
	logs    []*types.Log
	gasUsed uint64

	prefetch PrefetchFunc
	debug    bool
}

// NewMachine constructs a zeroed machine owning the given world-state.
func NewMachine(ws *state.WorldState) *Machine {
	return &Machine{
		stack:     NewStack(),
		memory:    NewMemory(),
		transient: newTransientStorage(),
		ws:        ws,
	}
}

// Stack returns the current frame's operand stack.
func (m *Machine) Stack() *Stack { return m.stack }

// Memory returns the current frame's memory.
func (m *Machine) Memory() *Memory { return m.memory }

// WorldState returns the world-state the machine mutates.
func (m *Machine) WorldState() *state.WorldState { return m.ws }

// Origin returns the top-level transaction sender.
func (m *Machine) Origin() common.Address { return m.origin }

// Logs returns the log records captured since the last top-level entry.
func (m *Machine) Logs() []*types.Log { return m.logs }

// GasUsed returns the constant-cost gas consumed since the last top-level
// entry. The engine does not meter dynamic costs and never halts on gas.
func (m *Machine) GasUsed() uint64 { return m.gasUsed }

// Depth returns the number of live call frames.
func (m *Machine) Depth() int { return len(m.callStack) }

// SetBlock installs the read-only block context.
func (m *Machine) SetBlock(block *Block) { m.block = block }

// SetGasPrice installs the transaction gas price served by GASPRICE.
func (m *Machine) SetGasPrice(price *uint256.Int) { m.gasPrice = price }

// SetGetHashFn installs the block-hash lookup served by BLOCKHASH.
func (m *Machine) SetGetHashFn(fn func(uint64) common.Hash) { m.getHash = fn }

// SetPrefetch installs the host's state prefetch hook.
func (m *Machine) SetPrefetch(fn PrefetchFunc) { m.prefetch = fn }

// SetDebug toggles per-opcode debug logging.
func (m *Machine) SetDebug(debug bool) { m.debug = debug }

// SetTransientState writes a transient storage slot for addr.
func (m *Machine) SetTransientState(addr common.Address, key, value common.Hash) {
	m.transient.Set(addr, key, value)
}

// GetTransientState reads a transient storage slot for addr; unset slots
// read as zero.
func (m *Machine) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	return m.transient.Get(addr, key)
}

// ActiveFrame returns the innermost live frame. It must only be called
// while the machine is executing, e.g. from a prefetch hook.
func (m *Machine) ActiveFrame() *Frame {
	return m.currentFrame()
}

// currentFrame returns the innermost live frame.
func (m *Machine) currentFrame() *Frame {
	if len(m.callStack) == 0 {
		panic("vm: no active call frame")
	}
	return m.callStack[len(m.callStack)-1]
}

// inStaticCall reports whether any live frame was entered via STATICCALL,
// which forbids state mutation for the whole subtree.
func (m *Machine) inStaticCall() bool {
	for _, frame := range m.callStack {
		if frame.Type == CallTypeStaticCall {
			return true
		}
	}
	return false
}

// resetTopLevel clears all per-transaction machine state.
func (m *Machine) resetTopLevel() {
	m.stack = NewStack()
	m.memory = NewMemory()
	m.pc = 0
	m.transient = newTransientStorage()
	m.returnData = nil
	m.subReturnData = nil
	m.isRevert = false
	m.logs = nil
	m.gasUsed = 0
}

// ExternalCall runs a top-level message call described by call and returns
// the return data and whether the execution reverted. The call stack must
// be empty and call.To set; both are programming errors, not EVM
// conditions.
func (m *Machine) ExternalCall(call *Frame) ([]byte, bool, error) {
	if call.To == nil {
		panic("vm: external call without target")
	}
	if len(m.callStack) != 0 {
		panic("vm: external call with live frames")
	}
	code, err := m.ws.GetCode(*call.To)
	if err != nil {
		return nil, false, err
	}

	m.resetTopLevel()
	m.isConstructor = false
	m.origin = call.From
	m.bytecode = code

	if call.Value == nil {
		call.Value = new(uint256.Int)
	}
	call.Depth = 1
	call.snapshot = m.ws.Snapshot()
	m.callStack = append(m.callStack, call)

	if !call.Value.IsZero() {
		bal, err := m.ws.GetBalance(call.From)
		if err != nil {
			m.callStack = m.callStack[:0]
			return nil, false, err
		}
		if bal.Lt(call.Value) {
			m.callStack = m.callStack[:0]
			return nil, false, ErrOutOfFund
		}
		m.ws.SubBalance(call.From, call.Value)
		m.ws.AddBalance(*call.To, call.Value)
	}

	runErr := m.run()
	m.callStack = m.callStack[:0]

	ret := m.returnData
	m.returnData = nil
	reverted := m.isRevert || runErr != nil
	if reverted {
		m.ws.RevertTo(call.snapshot)
		if runErr != nil {
			log.Error("external call failed", "to", call.To.Hex(), "err", runErr)
		}
	}
	m.isRevert = false
	return ret, reverted, runErr
}

// Deploy runs initCode with constructor semantics on behalf of caller and
// installs the returned runtime code at the derived address. The account is
// removed again when the constructor reverts or errors.
func (m *Machine) Deploy(initCode []byte, caller common.Address, value *uint256.Int) (common.Address, error) {
	if len(m.callStack) != 0 {
		panic("vm: deploy with live frames")
	}
	if len(initCode) > MaxInitCodeSize {
		return common.Address{}, ErrCreateContractLimit
	}
	if value == nil {
		value = new(uint256.Int)
	}
	nonce, err := m.ws.GetNonce(caller)
	if err != nil {
		return common.Address{}, err
	}
	if nonce == math.MaxUint64 {
		return common.Address{}, ErrMaxNonce
	}
	addr := createAddress(caller, nonce)
	if acc, err := m.ws.GetAccount(addr); err == nil {
		if acc.Nonce > 0 || acc.IsContract() {
			return common.Address{}, ErrCreateCollision
		}
	}
	if !value.IsZero() {
		bal, err := m.ws.GetBalance(caller)
		if err != nil {
			return common.Address{}, err
		}
		if bal.Lt(value) {
			return common.Address{}, ErrOutOfFund
		}
	}
	m.ws.SetNonce(caller, nonce+1)

	m.resetTopLevel()
	m.isConstructor = true
	m.origin = caller
	m.bytecode = initCode

	snapshot := m.ws.Snapshot()
	m.ws.SubBalance(caller, value)
	m.ws.NewAccount(addr, state.NewContract(0, value, initCode))

	frame := &Frame{
		From:     caller,
		To:       &addr,
		Caller:   caller,
		Address:  addr,
		Value:    value,
		Type:     CallTypeCreate,
		Depth:    1,
		snapshot: snapshot,
	}
	m.callStack = append(m.callStack, frame)
	runErr := m.run()
	m.callStack = m.callStack[:0]
	m.isConstructor = false

	runtime := m.returnData
	m.returnData = nil
	if runErr != nil || m.isRevert || len(runtime) > MaxCodeSize {
		m.ws.RevertTo(snapshot)
		m.isRevert = false
		if runErr != nil {
			log.Error("deploy failed", "caller", caller.Hex(), "err", runErr)
		}
		return common.Address{}, ErrDeployContractFailed
	}
	m.ws.InsertCode(addr, runtime)
	m.ws.InsertCodeHash(addr, keccak256(runtime))
	return addr, nil
}
