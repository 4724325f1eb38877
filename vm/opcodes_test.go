package vm

import (
	"strings"
	"testing"
)

func TestOpCodeRoundTrip(t *testing.T) {
	for op := range opCodeNames {
		if got := StringToOp(op.String()); got != op {
			t.Errorf("round trip failed for %s: have %v", op.String(), got)
		}
	}
}

func TestUnassignedOpCodes(t *testing.T) {
	for _, b := range []byte{0x0c, 0x0d, 0x1e, 0x21, 0x49, 0x5c, 0x5d, 0xa5, 0xef, 0xf6} {
		op := OpCode(b)
		if op.IsAssigned() {
			t.Errorf("byte %#x should be unassigned", b)
		}
		if !strings.Contains(op.String(), "not defined") {
			t.Errorf("unassigned byte %#x stringifies as %q", b, op.String())
		}
		if shanghaiInstructionSet[op] != nil {
			t.Errorf("unassigned byte %#x has a jump table entry", b)
		}
	}
}

func TestJumpTableCoverage(t *testing.T) {
	// Every assigned opcode must dispatch.
	for op := range opCodeNames {
		if shanghaiInstructionSet[op] == nil {
			t.Errorf("assigned opcode %s has no jump table entry", op.String())
		}
	}
}

func TestIsPush(t *testing.T) {
	if !PUSH0.IsPush() || !PUSH1.IsPush() || !PUSH32.IsPush() {
		t.Fatal("push opcodes not recognized")
	}
	if ADD.IsPush() || DUP1.IsPush() {
		t.Fatal("non-push opcode recognized as push")
	}
	if PUSH0.pushBytes() != 0 || PUSH1.pushBytes() != 1 || PUSH32.pushBytes() != 32 {
		t.Fatal("push immediate lengths wrong")
	}
}
