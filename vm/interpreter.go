package vm

import (
	"github.com/ethereum/go-ethereum/log"
)

// run executes the machine's current bytecode until the frame halts. A
// handler error halts the frame as a revert; the interpreter never advances
// past a failed instruction. Between instructions the machine is in a
// well-defined state.
func (m *Machine) run() error {
	if len(m.callStack) == 0 {
		panic("vm: interpreter invoked with empty call stack")
	}
	for m.pc < uint64(len(m.bytecode)) {
		op := OpCode(m.bytecode[m.pc])
		operation := shanghaiInstructionSet[op]
		if operation == nil {
			// Unassigned byte: behaves like INVALID.
			m.isRevert = true
			return &NotImplementedError{Op: byte(op)}
		}
		if m.prefetch != nil {
			if err := m.prefetch(m, op); err != nil {
				m.isRevert = true
				return err
			}
		}
		if m.debug {
			log.Debug("EVM step", "pc", m.pc, "op", op.String(),
				"stack", m.stack.Len(), "mem", m.memory.Len(), "depth", len(m.callStack))
		}
		if sLen := m.stack.Len(); sLen < operation.minStack {
			m.isRevert = true
			return ErrStackUnderflow
		} else if sLen > operation.maxStack {
			m.isRevert = true
			return ErrStackOverflow
		}
		m.gasUsed += operation.constantGas
		if err := operation.execute(m); err != nil {
			m.isRevert = true
			return err
		}
	}
	return nil
}

// validJumpdest reports whether dest is a JUMPDEST in the current bytecode
// and not part of the immediate data of a PUSH.
func (m *Machine) validJumpdest(dest uint64) bool {
	code := m.bytecode
	if dest >= uint64(len(code)) || OpCode(code[dest]) != JUMPDEST {
		return false
	}
	for i := uint64(0); i < uint64(len(code)); {
		op := OpCode(code[i])
		if i == dest {
			return op == JUMPDEST
		}
		if op.IsPush() {
			i += op.pushBytes() + 1
		} else {
			i++
		}
	}
	return false
}
