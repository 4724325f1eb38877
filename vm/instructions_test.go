package vm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Georci/ken-evm/state"
)

var testContractAddr = common.HexToAddress("0x0000000000000000000000000000000000000011")

// newTestMachine returns a machine with a single live frame executing at
// testContractAddr, ready for direct handler invocation.
func newTestMachine() *Machine {
	ws := state.New()
	ws.NewAccount(testContractAddr, state.NewContract(0, uint256.NewInt(1000), []byte{0x00}))
	m := NewMachine(ws)
	to := testContractAddr
	m.callStack = append(m.callStack, &Frame{
		From:    testContractAddr,
		To:      &to,
		Caller:  testContractAddr,
		Address: testContractAddr,
		Value:   new(uint256.Int),
		Type:    CallTypeCall,
		Depth:   1,
	})
	return m
}

// mustHex parses a hex word.
func mustHex(t *testing.T, s string) *uint256.Int {
	t.Helper()
	val, err := uint256.FromHex(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return val
}

type twoOperandTest struct {
	name string
	// top is the first operand popped, second the one below it.
	top, second, want string
}

func testTwoOperandOp(t *testing.T, op executionFunc, tests []twoOperandTest) {
	t.Helper()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMachine()
			m.stack.push(mustHex(t, tc.second))
			m.stack.push(mustHex(t, tc.top))
			if err := op(m); err != nil {
				t.Fatal(err)
			}
			got := m.stack.pop()
			if want := mustHex(t, tc.want); !got.Eq(want) {
				t.Fatalf("have %s want %s", got.Hex(), want.Hex())
			}
		})
	}
}

const (
	maxWord = "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	minInt  = "0x8000000000000000000000000000000000000000000000000000000000000000"
)

func TestArithmeticBoundaries(t *testing.T) {
	testTwoOperandOp(t, opAdd, []twoOperandTest{
		{"wraps", maxWord, "0x2", "0x1"},
		{"plain", "0x3", "0x4", "0x7"},
	})
	testTwoOperandOp(t, opSub, []twoOperandTest{
		{"wraps", "0x0", "0x1", maxWord},
	})
	testTwoOperandOp(t, opMul, []twoOperandTest{
		{"wraps", minInt, "0x2", "0x0"},
	})
	testTwoOperandOp(t, opDiv, []twoOperandTest{
		{"by zero", "0x7", "0x0", "0x0"},
		{"plain", "0x8", "0x2", "0x4"},
	})
	testTwoOperandOp(t, opSdiv, []twoOperandTest{
		{"min by minus one", minInt, maxWord, minInt},
		{"by zero", "0x7", "0x0", "0x0"},
	})
	testTwoOperandOp(t, opMod, []twoOperandTest{
		{"by zero", "0x7", "0x0", "0x0"},
		{"plain", "0x7", "0x3", "0x1"},
	})
	testTwoOperandOp(t, opSmod, []twoOperandTest{
		{"by zero", "0x7", "0x0", "0x0"},
	})
	testTwoOperandOp(t, opExp, []twoOperandTest{
		{"zero to zero", "0x0", "0x0", "0x1"},
		{"wraps", "0x2", "0x100", "0x0"},
		{"plain", "0x2", "0x8", "0x100"},
	})
	testTwoOperandOp(t, opSignExtend, []twoOperandTest{
		{"k over 31 is identity", "0x20", "0x12345678", "0x12345678"},
		{"extends byte zero", "0x0", "0xff", maxWord},
		{"positive byte zero", "0x0", "0x7f", "0x7f"},
	})
}

func TestShiftBoundaries(t *testing.T) {
	testTwoOperandOp(t, opSHL, []twoOperandTest{
		{"shift 256", "0x100", "0x1", "0x0"},
		{"plain", "0x4", "0x1", "0x10"},
	})
	testTwoOperandOp(t, opSHR, []twoOperandTest{
		{"shift 256", "0x100", maxWord, "0x0"},
		{"plain", "0x4", "0x10", "0x1"},
	})
	testTwoOperandOp(t, opSAR, []twoOperandTest{
		{"shift 256 non-negative", "0x100", "0x7f", "0x0"},
		{"shift 256 negative", "0x100", minInt, maxWord},
		{"sign preserved", "0x4", minInt, "0xf800000000000000000000000000000000000000000000000000000000000000"},
	})
	testTwoOperandOp(t, opByte, []twoOperandTest{
		{"last byte", "0x1f", "0xff", "0xff"},
		{"out of range", "0x20", maxWord, "0x0"},
		{"most significant", "0x0", minInt, "0x80"},
	})
}

func TestModArithmetic512(t *testing.T) {
	// (2^256 - 1 + 2) mod 3 computed in 512-bit precision is 2; a wrapped
	// 256-bit sum would give 1.
	m := newTestMachine()
	m.stack.push(uint256.NewInt(3))
	m.stack.push(uint256.NewInt(2))
	m.stack.push(mustHex(t, maxWord))
	if err := opAddmod(m); err != nil {
		t.Fatal(err)
	}
	got := m.stack.pop()
	if !got.Eq(uint256.NewInt(2)) {
		t.Fatalf("addmod: have %s want 2", got.Hex())
	}

	// N = 0 yields 0 for both ADDMOD and MULMOD.
	m = newTestMachine()
	m.stack.push(uint256.NewInt(0))
	m.stack.push(uint256.NewInt(2))
	m.stack.push(uint256.NewInt(5))
	if err := opMulmod(m); err != nil {
		t.Fatal(err)
	}
	got = m.stack.pop()
	if !got.IsZero() {
		t.Fatalf("mulmod N=0: have %s want 0", got.Hex())
	}
}

func TestCalldataLoadPadding(t *testing.T) {
	m := newTestMachine()
	m.currentFrame().CallData = []byte{0x01, 0x02, 0x03}

	m.stack.push(uint256.NewInt(1))
	if err := opCalldataLoad(m); err != nil {
		t.Fatal(err)
	}
	got := m.stack.pop()
	// Bytes 02 03 followed by 30 zero bytes.
	want := mustHex(t, "0x203000000000000000000000000000000000000000000000000000000000000")
	if !got.Eq(want) {
		t.Fatalf("have %s want %s", got.Hex(), want.Hex())
	}

	// Entirely past the end reads as zero.
	m.stack.push(uint256.NewInt(100))
	if err := opCalldataLoad(m); err != nil {
		t.Fatal(err)
	}
	got = m.stack.pop()
	if !got.IsZero() {
		t.Fatalf("past-end load: have %s want 0", got.Hex())
	}
}

func TestReturnDataCopyBounds(t *testing.T) {
	m := newTestMachine()
	m.subReturnData = []byte{0xaa, 0xbb}

	// In-bounds copy.
	m.stack.push(uint256.NewInt(2)) // size
	m.stack.push(uint256.NewInt(0)) // offset
	m.stack.push(uint256.NewInt(0)) // dest
	if err := opReturnDataCopy(m); err != nil {
		t.Fatal(err)
	}
	if m.memory.Data()[0] != 0xaa || m.memory.Data()[1] != 0xbb {
		t.Fatalf("copy result: %x", m.memory.Data()[:2])
	}

	// Past the end fails hard, unlike the zero-padding copies.
	m.stack.push(uint256.NewInt(2)) // size
	m.stack.push(uint256.NewInt(1)) // offset
	m.stack.push(uint256.NewInt(0)) // dest
	if err := opReturnDataCopy(m); err != ErrOutOfOffset {
		t.Fatalf("want ErrOutOfOffset, got %v", err)
	}
}

func TestSloadUnsetSlotIsZero(t *testing.T) {
	m := newTestMachine()
	m.stack.push(uint256.NewInt(5))
	if err := opSload(m); err != nil {
		t.Fatal(err)
	}
	got := m.stack.pop()
	if !got.IsZero() {
		t.Fatalf("unset slot: have %s want 0", got.Hex())
	}
}

func TestSstoreThenSload(t *testing.T) {
	m := newTestMachine()
	m.stack.push(uint256.NewInt(7)) // value
	m.stack.push(uint256.NewInt(1)) // key
	if err := opSstore(m); err != nil {
		t.Fatal(err)
	}
	m.stack.push(uint256.NewInt(1))
	if err := opSload(m); err != nil {
		t.Fatal(err)
	}
	got := m.stack.pop()
	if !got.Eq(uint256.NewInt(7)) {
		t.Fatalf("have %s want 7", got.Hex())
	}
}

func TestSstoreRejectedInStaticFrame(t *testing.T) {
	m := newTestMachine()
	m.currentFrame().Type = CallTypeStaticCall
	m.stack.push(uint256.NewInt(7))
	m.stack.push(uint256.NewInt(1))
	if err := opSstore(m); err != ErrWriteProtection {
		t.Fatalf("want ErrWriteProtection, got %v", err)
	}
}

func TestLogCapture(t *testing.T) {
	m := newTestMachine()
	m.memory.Write(0, []byte{0xde, 0xad})
	m.stack.push(mustHex(t, "0xcafe")) // topic
	m.stack.push(uint256.NewInt(2))    // size
	m.stack.push(uint256.NewInt(0))    // offset
	if err := makeLog(1)(m); err != nil {
		t.Fatal(err)
	}
	if len(m.logs) != 1 {
		t.Fatalf("log count: %d", len(m.logs))
	}
	entry := m.logs[0]
	if entry.Address != testContractAddr {
		t.Fatalf("log address: %s", entry.Address.Hex())
	}
	if len(entry.Topics) != 1 || entry.Topics[0] != common.HexToHash("0xcafe") {
		t.Fatalf("log topics: %v", entry.Topics)
	}
	if entry.Data[0] != 0xde || entry.Data[1] != 0xad {
		t.Fatalf("log data: %x", entry.Data)
	}
}

func TestLogRejectedInStaticFrame(t *testing.T) {
	m := newTestMachine()
	m.currentFrame().Type = CallTypeStaticCall
	m.stack.push(uint256.NewInt(0))
	m.stack.push(uint256.NewInt(0))
	if err := makeLog(0)(m); err != ErrWriteProtection {
		t.Fatalf("want ErrWriteProtection, got %v", err)
	}
}

func TestPcPushesOwnPosition(t *testing.T) {
	m := newTestMachine()
	m.bytecode = []byte{byte(JUMPDEST), byte(PC)}
	m.pc = 1
	if err := opPc(m); err != nil {
		t.Fatal(err)
	}
	got := m.stack.pop()
	if !got.Eq(uint256.NewInt(1)) {
		t.Fatalf("PC pushed %s, want 1", got.Hex())
	}
	if m.pc != 2 {
		t.Fatalf("pc after PC: %d", m.pc)
	}
}

func TestGasSentinel(t *testing.T) {
	m := newTestMachine()
	if err := opGas(m); err != nil {
		t.Fatal(err)
	}
	got := m.stack.pop()
	if !got.Eq(mustHex(t, maxWord)) {
		t.Fatalf("GAS sentinel: %s", got.Hex())
	}
}

func TestKeccakEmpty(t *testing.T) {
	m := newTestMachine()
	m.stack.push(uint256.NewInt(0)) // size
	m.stack.push(uint256.NewInt(0)) // offset
	if err := opKeccak256(m); err != nil {
		t.Fatal(err)
	}
	got := m.stack.pop()
	// keccak256("")
	want := mustHex(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")
	if !got.Eq(want) {
		t.Fatalf("have %s want %s", got.Hex(), want.Hex())
	}
}

func TestCreate2AddressDerivation(t *testing.T) {
	sender := common.HexToAddress("0xdeadbeef00000000000000000000000000000000")
	salt := common.Hash{}
	initCode := []byte{0x60, 0x00}

	a := create2Address(sender, salt, keccak256(initCode))
	b := create2Address(sender, salt, keccak256(initCode))
	if a != b {
		t.Fatal("create2 address not stable")
	}
	if c := create2Address(sender, common.HexToHash("0x01"), keccak256(initCode)); c == a {
		t.Fatal("salt does not affect create2 address")
	}
}

func TestCreateAddressDerivation(t *testing.T) {
	sender := common.HexToAddress("0xbCDF0E814b7c65B238E2815289aCc05D3B933624")
	if createAddress(sender, 0) != createAddress(sender, 0) {
		t.Fatal("create address not a pure function")
	}
	if createAddress(sender, 0) == createAddress(sender, 1) {
		t.Fatal("nonce does not affect create address")
	}
}
