package vm

import (
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/Georci/ken-evm/state"
)

// Control transfer ops.

func opStop(m *Machine) error {
	m.returnData = nil
	m.pc = haltPC
	return nil
}

func opReturn(m *Machine) error {
	offset, size := m.stack.pop(), m.stack.pop()
	sz, err := asOffset(&size)
	if err != nil {
		return err
	}
	var data []byte
	if sz > 0 {
		off, err := asOffset(&offset)
		if err != nil {
			return err
		}
		if data, err = m.memory.Read(off, sz); err != nil {
			return err
		}
	}
	m.returnData = data
	m.pc = haltPC
	return nil
}

func opRevert(m *Machine) error {
	offset, size := m.stack.pop(), m.stack.pop()
	sz, err := asOffset(&size)
	if err != nil {
		return err
	}
	var data []byte
	if sz > 0 {
		off, err := asOffset(&offset)
		if err != nil {
			return err
		}
		if data, err = m.memory.Read(off, sz); err != nil {
			return err
		}
	}
	m.returnData = data
	m.isRevert = true
	m.pc = haltPC
	return nil
}

func opInvalid(m *Machine) error {
	return ErrDesignatedInvalid
}

func opCallCode(m *Machine) error {
	return callCore(m, CallTypeCallCode)
}

func opSelfdestruct(m *Machine) error {
	if m.inStaticCall() {
		return ErrWriteProtection
	}
	a := m.stack.pop()
	beneficiary := common.Address(a.Bytes20())
	self := m.currentFrame().Address
	balance, err := m.ws.GetBalance(self)
	if err != nil {
		return err
	}
	if !m.ws.Exist(beneficiary) {
		m.ws.NewAccount(beneficiary, state.NewEOA(0, nil))
	}
	m.ws.AddBalance(beneficiary, balance)
	m.ws.RemoveAccount(self)
	m.returnData = nil
	m.pc = haltPC
	return nil
}

// Call ops. All four share the pop order gas, address, [value], argsOffset,
// argsSize, retOffset, retSize and the frame save/restore discipline in
// callCore.

func opCall(m *Machine) error {
	return callCore(m, CallTypeCall)
}

func opDelegateCall(m *Machine) error {
	return callCore(m, CallTypeDelegateCall)
}

func opStaticCall(m *Machine) error {
	return callCore(m, CallTypeStaticCall)
}

func callCore(m *Machine, typ CallType) error {
	// gas is popped for stack shape only; the engine does not meter.
	m.stack.pop()
	a := m.stack.pop()
	target := common.Address(a.Bytes20())

	value := new(uint256.Int)
	if typ == CallTypeCall || typ == CallTypeCallCode {
		v := m.stack.pop()
		value.Set(&v)
	}
	argsOffset, argsSize := m.stack.pop(), m.stack.pop()
	retOffset, retSize := m.stack.pop(), m.stack.pop()

	if typ == CallTypeCall && !value.IsZero() && m.inStaticCall() {
		return ErrWriteProtection
	}

	argsSz, err := asOffset(&argsSize)
	if err != nil {
		return err
	}
	var callData []byte
	if argsSz > 0 {
		argsOff, err := asOffset(&argsOffset)
		if err != nil {
			return err
		}
		if callData, err = m.memory.Read(argsOff, argsSz); err != nil {
			return err
		}
	}
	retSz, err := asOffset(&retSize)
	if err != nil {
		return err
	}
	retOff := uint64(0)
	if retSz > 0 {
		if retOff, err = asOffset(&retOffset); err != nil {
			return err
		}
	}

	parent := m.currentFrame()
	from := *parent.To

	// Depth cap: refuse the child without treating it as an error.
	if len(m.callStack) >= MaxCallDepth {
		log.Debug("call depth cap reached", "to", target.Hex(), "type", typ.String())
		m.subReturnData = nil
		m.stack.push(new(uint256.Int))
		m.pc++
		return nil
	}

	// Value transfers need the sender funded; an underfunded call reports
	// failure on the stack and carries on.
	transfers := typ == CallTypeCall && !value.IsZero()
	if !value.IsZero() && (typ == CallTypeCall || typ == CallTypeCallCode) {
		balance, err := m.ws.GetBalance(from)
		if err != nil || balance.Lt(value) {
			m.subReturnData = nil
			m.stack.push(new(uint256.Int))
			m.pc++
			return nil
		}
	}

	child := &Frame{
		From:     from,
		To:       &target,
		Value:    value,
		CallData: callData,
		Type:     typ,
		Depth:    len(m.callStack) + 1,
		savedPC:  m.pc,
	}
	switch typ {
	case CallTypeDelegateCall:
		child.Caller = parent.Caller
		child.Address = parent.Address
		if parent.Value != nil {
			child.Value = new(uint256.Int).Set(parent.Value)
		}
	case CallTypeCallCode:
		child.Caller = parent.Address
		child.Address = parent.Address
	default:
		child.Caller = parent.Address
		child.Address = target
	}

	code, err := m.ws.GetCode(target)
	if err != nil {
		// A target without code succeeds immediately with empty return
		// data; an attached value still moves. A target with no account
		// at all is not credited, since AddBalance skips missing addresses.
		if transfers {
			m.ws.SubBalance(from, value)
			m.ws.AddBalance(target, value)
		}
		m.subReturnData = nil
		m.stack.push(uint256.NewInt(1))
		m.pc++
		return nil
	}

	child.snapshot = m.ws.Snapshot()
	if transfers {
		m.ws.SubBalance(from, value)
		m.ws.AddBalance(target, value)
	}

	// Suspend the caller: stack, memory, bytecode and pc are restored after
	// the child halts.
	savedCode := m.bytecode
	m.stackStack = append(m.stackStack, m.stack)
	m.memoryStack = append(m.memoryStack, m.memory)
	m.callStack = append(m.callStack, child)
	m.stack = NewStack()
	m.memory = NewMemory()
	m.bytecode = code
	m.pc = 0

	runErr := m.run()

	m.bytecode = savedCode
	m.pc = child.savedPC + 1
	m.stack = m.stackStack[len(m.stackStack)-1]
	m.stackStack = m.stackStack[:len(m.stackStack)-1]
	m.memory = m.memoryStack[len(m.memoryStack)-1]
	m.memoryStack = m.memoryStack[:len(m.memoryStack)-1]
	m.callStack = m.callStack[:len(m.callStack)-1]

	if runErr != nil {
		log.Debug("child frame failed", "to", target.Hex(), "err", runErr)
	}

	m.subReturnData = m.returnData
	m.returnData = nil
	if retSz > 0 && len(m.subReturnData) > 0 {
		n := retSz
		if uint64(len(m.subReturnData)) < n {
			n = uint64(len(m.subReturnData))
		}
		if err := m.memory.Write(retOff, m.subReturnData[:n]); err != nil {
			return err
		}
	}

	// A static frame must not have observed state changes; swap the entry
	// snapshot back in regardless of outcome.
	if typ == CallTypeStaticCall {
		m.ws.RevertTo(child.snapshot)
	}
	if m.isRevert {
		m.ws.RevertTo(child.snapshot)
		m.isRevert = false
		m.stack.push(new(uint256.Int))
	} else {
		// A completed message call moves the executing account's nonce.
		// Not after STATICCALL: the world-state must stay bit-identical
		// to the entry snapshot.
		if typ != CallTypeStaticCall {
			if nonce, err := m.ws.GetNonce(parent.Address); err == nil && nonce < math.MaxUint64 {
				m.ws.SetNonce(parent.Address, nonce+1)
			}
		}
		m.stack.push(uint256.NewInt(1))
	}
	return nil
}

// Create ops.

func opCreate(m *Machine) error {
	return createCore(m, CallTypeCreate)
}

func opCreate2(m *Machine) error {
	return createCore(m, CallTypeCreate2)
}

func createCore(m *Machine, typ CallType) error {
	if m.inStaticCall() {
		return ErrWriteProtection
	}
	value := m.stack.pop()
	offset, size := m.stack.pop(), m.stack.pop()
	var salt uint256.Int
	if typ == CallTypeCreate2 {
		salt = m.stack.pop()
	}

	sz, err := asOffset(&size)
	if err != nil {
		return err
	}
	var initCode []byte
	if sz > 0 {
		off, err := asOffset(&offset)
		if err != nil {
			return err
		}
		if initCode, err = m.memory.Read(off, sz); err != nil {
			return err
		}
	}
	if len(initCode) > MaxInitCodeSize {
		return ErrCreateContractLimit
	}

	parent := m.currentFrame()
	sender := parent.Address

	if len(m.callStack) >= MaxCallDepth {
		m.subReturnData = nil
		m.stack.push(new(uint256.Int))
		m.pc++
		return nil
	}

	nonce, err := m.ws.GetNonce(sender)
	if err != nil {
		return err
	}
	if nonce == math.MaxUint64 {
		return ErrMaxNonce
	}

	var addr common.Address
	if typ == CallTypeCreate2 {
		addr = create2Address(sender, salt.Bytes32(), keccak256(initCode))
	} else {
		addr = createAddress(sender, nonce)
	}
	if acc, err := m.ws.GetAccount(addr); err == nil {
		if acc.Nonce > 0 || acc.IsContract() {
			return ErrCreateCollision
		}
	}

	if !value.IsZero() {
		balance, err := m.ws.GetBalance(sender)
		if err != nil || balance.Lt(&value) {
			m.subReturnData = nil
			m.stack.push(new(uint256.Int))
			m.pc++
			return nil
		}
	}

	// The creator's nonce moves before the snapshot: a failed create keeps
	// the increment.
	m.ws.SetNonce(sender, nonce+1)
	snapshot := m.ws.Snapshot()

	m.ws.SubBalance(sender, &value)
	m.ws.NewAccount(addr, state.NewContract(0, &value, initCode))

	child := &Frame{
		From:     sender,
		To:       &addr,
		Caller:   sender,
		Address:  addr,
		Value:    new(uint256.Int).Set(&value),
		Type:     typ,
		Depth:    len(m.callStack) + 1,
		savedPC:  m.pc,
		snapshot: snapshot,
	}

	savedCode := m.bytecode
	m.stackStack = append(m.stackStack, m.stack)
	m.memoryStack = append(m.memoryStack, m.memory)
	m.callStack = append(m.callStack, child)
	m.stack = NewStack()
	m.memory = NewMemory()
	m.bytecode = initCode
	m.pc = 0

	runErr := m.run()

	m.bytecode = savedCode
	m.pc = child.savedPC + 1
	m.stack = m.stackStack[len(m.stackStack)-1]
	m.stackStack = m.stackStack[:len(m.stackStack)-1]
	m.memory = m.memoryStack[len(m.memoryStack)-1]
	m.memoryStack = m.memoryStack[:len(m.memoryStack)-1]
	m.callStack = m.callStack[:len(m.callStack)-1]

	runtime := m.returnData
	m.subReturnData = m.returnData
	m.returnData = nil

	failed := runErr != nil || m.isRevert || len(runtime) > MaxCodeSize
	if failed {
		if runErr != nil {
			log.Debug("init code failed", "addr", addr.Hex(), "err", runErr)
		}
		// Rolling back to the entry snapshot removes the half-built
		// account.
		m.ws.RevertTo(snapshot)
		m.isRevert = false
		m.stack.push(new(uint256.Int))
		return nil
	}
	m.subReturnData = nil
	m.ws.InsertCode(addr, runtime)
	m.ws.InsertCodeHash(addr, keccak256(runtime))
	m.stack.push(new(uint256.Int).SetBytes(addr.Bytes()))
	return nil
}
