package vm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Georci/ken-evm/state"
)

var (
	callerAddr = common.HexToAddress("0xbCDF0E814b7c65B238E2815289aCc05D3B933624")
	parentAddr = common.HexToAddress("0x0000000000000000000000000000000000000101")
	childAddr  = common.HexToAddress("0x0000000000000000000000000000000000000202")
)

// newCallWorld seeds a world-state with a funded caller and contracts at
// parentAddr/childAddr running the given code.
func newCallWorld(parentCode, childCode []byte) *state.WorldState {
	ws := state.New()
	ws.NewAccount(callerAddr, state.NewEOA(0, uint256.NewInt(1_000_000)))
	if parentCode != nil {
		ws.NewAccount(parentAddr, state.NewContract(0, nil, parentCode))
	}
	if childCode != nil {
		ws.NewAccount(childAddr, state.NewContract(0, nil, childCode))
	}
	return ws
}

func externalCall(t *testing.T, ws *state.WorldState, to common.Address, input []byte) (*Machine, []byte, bool, error) {
	t.Helper()
	m := NewMachine(ws)
	target := to
	ret, reverted, err := m.ExternalCall(&Frame{
		From:     callerAddr,
		To:       &target,
		Caller:   callerAddr,
		Address:  target,
		CallData: input,
		Type:     CallTypeCall,
	})
	return m, ret, reverted, err
}

// pushAddr builds PUSH20 <addr>.
func pushAddr(addr common.Address) []byte {
	return append([]byte{byte(PUSH20)}, addr.Bytes()...)
}

func TestPushAddReturn(t *testing.T) {
	// PUSH1 3, PUSH1 4, ADD, PUSH1 0, MSTORE, PUSH1 32, PUSH1 0, RETURN.
	code := []byte{
		byte(PUSH1), 3, byte(PUSH1), 4, byte(ADD),
		byte(PUSH1), 0, byte(MSTORE),
		byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
	}
	ws := newCallWorld(code, nil)
	_, ret, reverted, err := externalCall(t, ws, parentAddr, nil)
	if err != nil || reverted {
		t.Fatalf("execution failed: reverted=%v err=%v", reverted, err)
	}
	if len(ret) != 32 {
		t.Fatalf("return size: %d", len(ret))
	}
	if got := new(uint256.Int).SetBytes(ret); !got.Eq(uint256.NewInt(7)) {
		t.Fatalf("return value: have %s want 7", got)
	}
}

func TestDeployAndCall(t *testing.T) {
	// Runtime: store calldata word 0 at slot 0 and echo it back.
	runtimeCode := []byte{
		byte(PUSH0), byte(CALLDATALOAD),
		byte(PUSH0), byte(SSTORE),
		byte(PUSH0), byte(SLOAD),
		byte(PUSH0), byte(MSTORE),
		byte(PUSH1), 0x20, byte(PUSH0), byte(RETURN),
	}
	initCode := append([]byte{
		byte(PUSH1), byte(len(runtimeCode)),
		byte(PUSH1), 12,
		byte(PUSH0), byte(CODECOPY),
		byte(PUSH1), byte(len(runtimeCode)),
		byte(PUSH0), byte(RETURN),
		byte(STOP), byte(STOP),
	}, runtimeCode...)

	ws := newCallWorld(nil, nil)
	m := NewMachine(ws)
	addr, err := m.Deploy(initCode, callerAddr, nil)
	if err != nil {
		t.Fatal(err)
	}
	if addr != createAddress(callerAddr, 0) {
		t.Fatalf("derived address mismatch: %s", addr.Hex())
	}
	if nonce, _ := ws.GetNonce(callerAddr); nonce != 1 {
		t.Fatalf("caller nonce after deploy: %d", nonce)
	}
	installed, err := ws.GetCode(addr)
	if err != nil {
		t.Fatal(err)
	}
	if len(installed) != len(runtimeCode) {
		t.Fatalf("runtime code length: have %d want %d", len(installed), len(runtimeCode))
	}
	hash, err := ws.GetCodeHash(addr)
	if err != nil {
		t.Fatal(err)
	}
	if hash != keccak256(runtimeCode) {
		t.Fatal("code hash mismatch")
	}

	input := common.LeftPadBytes(big.NewInt(12).Bytes(), 32)
	target := addr
	ret, reverted, err := m.ExternalCall(&Frame{
		From: callerAddr, To: &target, Caller: callerAddr, Address: target,
		CallData: input, Type: CallTypeCall,
	})
	if err != nil || reverted {
		t.Fatalf("call failed: reverted=%v err=%v", reverted, err)
	}
	if got := new(uint256.Int).SetBytes(ret); !got.Eq(uint256.NewInt(12)) {
		t.Fatalf("return value: have %s want 12", got)
	}
	stored, err := ws.GetStorageValue(addr, common.Hash{})
	if err != nil {
		t.Fatal(err)
	}
	if stored != common.HexToHash("0x0c") {
		t.Fatalf("stored slot: %s", stored.Hex())
	}
}

func TestRevertPropagation(t *testing.T) {
	// Child reverts with empty data.
	childCode := []byte{byte(PUSH1), 0, byte(PUSH1), 0, byte(REVERT)}
	// Parent stores 1 at slot 1, calls the child, stores the call result
	// at slot 2.
	parentCode := []byte{
		byte(PUSH1), 1, byte(PUSH1), 1, byte(SSTORE),
		byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0,
	}
	parentCode = append(parentCode, pushAddr(childAddr)...)
	parentCode = append(parentCode,
		byte(PUSH1), 0, byte(CALL),
		byte(PUSH1), 2, byte(SSTORE),
		byte(STOP),
	)

	ws := newCallWorld(parentCode, childCode)
	_, _, reverted, err := externalCall(t, ws, parentAddr, nil)
	if err != nil || reverted {
		t.Fatalf("parent must not revert: reverted=%v err=%v", reverted, err)
	}

	// The write before the call survives.
	slot1, err := ws.GetStorageValue(parentAddr, common.HexToHash("0x01"))
	if err != nil || slot1 != common.HexToHash("0x01") {
		t.Fatalf("pre-call write lost: %s %v", slot1.Hex(), err)
	}
	// The child's failure surfaced as 0 on the parent's stack.
	slot2, err := ws.GetStorageValue(parentAddr, common.HexToHash("0x02"))
	if err != nil || slot2 != (common.Hash{}) {
		t.Fatalf("call result: %s %v", slot2.Hex(), err)
	}
	// A reverted call does not move the executing account's nonce.
	if nonce, _ := ws.GetNonce(parentAddr); nonce != 0 {
		t.Fatalf("nonce after reverted call: have %d want 0", nonce)
	}
}

func TestRevertDataReachesParent(t *testing.T) {
	// Child writes 0xaa to memory and reverts with that one byte.
	childCode := []byte{
		byte(PUSH1), 0xaa, byte(PUSH1), 0, byte(MSTORE8),
		byte(PUSH1), 1, byte(PUSH1), 0, byte(REVERT),
	}
	// Parent calls the child with retSize 1 and returns memory byte 0.
	parentCode := []byte{
		byte(PUSH1), 1, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0,
	}
	parentCode = append(parentCode, pushAddr(childAddr)...)
	parentCode = append(parentCode,
		byte(PUSH1), 0, byte(CALL),
		byte(PUSH1), 1, byte(PUSH1), 0, byte(RETURN),
	)

	ws := newCallWorld(parentCode, childCode)
	_, ret, reverted, err := externalCall(t, ws, parentAddr, nil)
	if err != nil || reverted {
		t.Fatalf("parent must not revert: reverted=%v err=%v", reverted, err)
	}
	if len(ret) != 1 || ret[0] != 0xaa {
		t.Fatalf("revert data not copied: %x", ret)
	}
}

func TestStaticCallBlocksSstore(t *testing.T) {
	// Child attempts a storage write.
	childCode := []byte{byte(PUSH1), 1, byte(PUSH1), 0, byte(SSTORE), byte(STOP)}
	// Parent STATICCALLs the child and returns the result word.
	parentCode := []byte{
		byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0,
	}
	parentCode = append(parentCode, pushAddr(childAddr)...)
	parentCode = append(parentCode,
		byte(PUSH1), 0, byte(STATICCALL),
		byte(PUSH1), 0, byte(MSTORE),
		byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
	)

	ws := newCallWorld(parentCode, childCode)
	_, ret, reverted, err := externalCall(t, ws, parentAddr, nil)
	if err != nil || reverted {
		t.Fatalf("parent must not revert: reverted=%v err=%v", reverted, err)
	}
	if got := new(uint256.Int).SetBytes(ret); !got.IsZero() {
		t.Fatalf("static call result: have %s want 0", got)
	}
	// The child's storage stayed untouched.
	if _, err := ws.GetStorageValue(childAddr, common.Hash{}); err == nil {
		t.Fatal("storage written under STATICCALL")
	}
}

func TestDelegateCallContext(t *testing.T) {
	// Child stores CALLER at slot 0 of the delegate context.
	childCode := []byte{
		byte(CALLER),
		byte(PUSH1), 0, byte(SSTORE),
		byte(STOP),
	}
	parentCode := []byte{
		byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0,
	}
	parentCode = append(parentCode, pushAddr(childAddr)...)
	parentCode = append(parentCode,
		byte(PUSH1), 0, byte(DELEGATECALL),
		byte(STOP),
	)

	ws := newCallWorld(parentCode, childCode)
	_, _, reverted, err := externalCall(t, ws, parentAddr, nil)
	if err != nil || reverted {
		t.Fatalf("execution failed: reverted=%v err=%v", reverted, err)
	}
	// The write landed in the parent's storage (delegate context), and the
	// caller observed by the child is the parent's caller.
	stored, err := ws.GetStorageValue(parentAddr, common.Hash{})
	if err != nil {
		t.Fatal("delegate write missing from parent storage")
	}
	if common.BytesToAddress(stored.Bytes()) != callerAddr {
		t.Fatalf("delegate caller: %s", stored.Hex())
	}
	if _, err := ws.GetStorageValue(childAddr, common.Hash{}); err == nil {
		t.Fatal("delegate write leaked into child storage")
	}
	// The completed message call moved the executing account's nonce.
	if nonce, _ := ws.GetNonce(parentAddr); nonce != 1 {
		t.Fatalf("nonce after message call: have %d want 1", nonce)
	}
}

func TestCallCodeRunsInCallerContext(t *testing.T) {
	// Child stores 5 at slot 0; via CALLCODE the write lands in the
	// parent's storage.
	childCode := []byte{byte(PUSH1), 5, byte(PUSH1), 0, byte(SSTORE), byte(STOP)}
	parentCode := []byte{
		byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0,
	}
	parentCode = append(parentCode, pushAddr(childAddr)...)
	parentCode = append(parentCode,
		byte(PUSH1), 0, byte(CALLCODE),
		byte(POP), byte(STOP),
	)

	ws := newCallWorld(parentCode, childCode)
	_, _, reverted, err := externalCall(t, ws, parentAddr, nil)
	if err != nil || reverted {
		t.Fatalf("execution failed: reverted=%v err=%v", reverted, err)
	}
	stored, err := ws.GetStorageValue(parentAddr, common.Hash{})
	if err != nil || stored != common.HexToHash("0x05") {
		t.Fatalf("callcode write: %s %v", stored.Hex(), err)
	}
	if _, err := ws.GetStorageValue(childAddr, common.Hash{}); err == nil {
		t.Fatal("callcode write leaked into child storage")
	}
}

func TestCreate2Determinism(t *testing.T) {
	// Store init code PUSH1 0 (0x6000) at memory 0..2, CREATE2 with salt 0
	// and return the new address.
	code := []byte{
		byte(PUSH1), 0x60, byte(PUSH1), 0, byte(MSTORE8),
		byte(PUSH1), 0, byte(PUSH1), 2, byte(PUSH1), 0, byte(PUSH1), 0, byte(CREATE2),
		byte(PUSH1), 0, byte(MSTORE),
		byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
	}

	run := func() common.Address {
		ws := newCallWorld(code, nil)
		_, ret, reverted, err := externalCall(t, ws, parentAddr, nil)
		if err != nil || reverted {
			t.Fatalf("execution failed: reverted=%v err=%v", reverted, err)
		}
		return common.BytesToAddress(ret)
	}

	first, second := run(), run()
	if first != second {
		t.Fatalf("create2 address unstable: %s vs %s", first.Hex(), second.Hex())
	}
	want := create2Address(parentAddr, common.Hash{}, keccak256([]byte{0x60, 0x00}))
	if first != want {
		t.Fatalf("create2 address: have %s want %s", first.Hex(), want.Hex())
	}
}

func TestJumpValidation(t *testing.T) {
	// PUSH1 3, JUMP, JUMPDEST, STOP: jumps and halts cleanly.
	ws := newCallWorld([]byte{byte(PUSH1), 3, byte(JUMP), byte(JUMPDEST), byte(STOP)}, nil)
	_, _, reverted, err := externalCall(t, ws, parentAddr, nil)
	if err != nil || reverted {
		t.Fatalf("valid jump failed: reverted=%v err=%v", reverted, err)
	}

	// Target is not a JUMPDEST.
	ws = newCallWorld([]byte{byte(PUSH1), 3, byte(JUMP), byte(STOP), byte(STOP)}, nil)
	_, _, reverted, err = externalCall(t, ws, parentAddr, nil)
	if !errors.Is(err, ErrInvalidJump) || !reverted {
		t.Fatalf("want InvalidJump revert, got reverted=%v err=%v", reverted, err)
	}

	// Target is a 0x5b byte inside PUSH immediate data.
	ws = newCallWorld([]byte{byte(PUSH1), 4, byte(JUMP), byte(PUSH1), byte(JUMPDEST), byte(STOP)}, nil)
	_, _, reverted, err = externalCall(t, ws, parentAddr, nil)
	if !errors.Is(err, ErrInvalidJump) || !reverted {
		t.Fatalf("want InvalidJump for push data target, got reverted=%v err=%v", reverted, err)
	}

	// JUMPI only jumps on a non-zero condition.
	ws = newCallWorld([]byte{
		byte(PUSH1), 0, byte(PUSH1), 7, byte(JUMPI), // not taken
		byte(PUSH0), byte(STOP), byte(JUMPDEST), byte(STOP),
	}, nil)
	m, _, reverted, err := externalCall(t, ws, parentAddr, nil)
	if err != nil || reverted {
		t.Fatalf("jumpi fall-through failed: reverted=%v err=%v", reverted, err)
	}
	_ = m
}

func TestCallDepthLimit(t *testing.T) {
	// Each level increments slot 0 and calls itself; the cap stops the
	// recursion at depth 1024.
	code := []byte{
		byte(PUSH1), 0, byte(SLOAD),
		byte(PUSH1), 1, byte(ADD),
		byte(PUSH1), 0, byte(SSTORE),
		byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0,
		byte(ADDRESS),
		byte(PUSH1), 0, byte(CALL),
		byte(POP),
		byte(STOP),
	}
	ws := newCallWorld(code, nil)
	_, _, reverted, err := externalCall(t, ws, parentAddr, nil)
	if err != nil || reverted {
		t.Fatalf("recursion failed: reverted=%v err=%v", reverted, err)
	}
	counter, err := ws.GetStorageValue(parentAddr, common.Hash{})
	if err != nil {
		t.Fatal(err)
	}
	if got := new(uint256.Int).SetBytes(counter.Bytes()); !got.Eq(uint256.NewInt(MaxCallDepth)) {
		t.Fatalf("deepest frame: have %s want %d", got, MaxCallDepth)
	}
}

func TestCallToEOASucceeds(t *testing.T) {
	// Value-bearing call to an account without code succeeds immediately.
	parentCode := []byte{
		byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 5,
	}
	parentCode = append(parentCode, pushAddr(callerAddr)...)
	parentCode = append(parentCode,
		byte(PUSH1), 0, byte(CALL),
		byte(PUSH1), 0, byte(MSTORE),
		byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
	)
	ws := newCallWorld(parentCode, nil)
	ws.SetBalance(parentAddr, uint256.NewInt(100))

	_, ret, reverted, err := externalCall(t, ws, parentAddr, nil)
	if err != nil || reverted {
		t.Fatalf("execution failed: reverted=%v err=%v", reverted, err)
	}
	if got := new(uint256.Int).SetBytes(ret); !got.Eq(uint256.NewInt(1)) {
		t.Fatalf("EOA call result: have %s want 1", got)
	}
	balance, _ := ws.GetBalance(callerAddr)
	if !balance.Eq(uint256.NewInt(1_000_005)) {
		t.Fatalf("value did not move: %s", balance)
	}
}

func TestInsufficientFundsPushesZero(t *testing.T) {
	// Parent has no balance but attaches value 5.
	parentCode := []byte{
		byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 5,
	}
	parentCode = append(parentCode, pushAddr(childAddr)...)
	parentCode = append(parentCode,
		byte(PUSH1), 0, byte(CALL),
		byte(PUSH1), 0, byte(MSTORE),
		byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
	)
	childCode := []byte{byte(STOP)}
	ws := newCallWorld(parentCode, childCode)

	_, ret, reverted, err := externalCall(t, ws, parentAddr, nil)
	if err != nil || reverted {
		t.Fatalf("execution failed: reverted=%v err=%v", reverted, err)
	}
	if got := new(uint256.Int).SetBytes(ret); !got.IsZero() {
		t.Fatalf("underfunded call result: have %s want 0", got)
	}
}

func TestSelfDestruct(t *testing.T) {
	beneficiary := common.HexToAddress("0x0000000000000000000000000000000000000303")
	code := append(pushAddr(beneficiary), byte(SELFDESTRUCT))
	ws := newCallWorld(code, nil)
	ws.SetBalance(parentAddr, uint256.NewInt(77))

	_, _, reverted, err := externalCall(t, ws, parentAddr, nil)
	if err != nil || reverted {
		t.Fatalf("execution failed: reverted=%v err=%v", reverted, err)
	}
	if ws.Exist(parentAddr) {
		t.Fatal("self-destructed account still present")
	}
	balance, err := ws.GetBalance(beneficiary)
	if err != nil {
		t.Fatal("beneficiary not auto-created")
	}
	if !balance.Eq(uint256.NewInt(77)) {
		t.Fatalf("beneficiary balance: %s", balance)
	}
}

func TestInvalidOpcodeReverts(t *testing.T) {
	ws := newCallWorld([]byte{byte(INVALID)}, nil)
	_, _, reverted, err := externalCall(t, ws, parentAddr, nil)
	if !errors.Is(err, ErrDesignatedInvalid) || !reverted {
		t.Fatalf("want DesignatedInvalid revert, got reverted=%v err=%v", reverted, err)
	}

	// Unassigned bytes behave like INVALID but carry the byte.
	ws = newCallWorld([]byte{0x0c}, nil)
	_, _, reverted, err = externalCall(t, ws, parentAddr, nil)
	var notImpl *NotImplementedError
	if !errors.As(err, &notImpl) || !reverted {
		t.Fatalf("want NotImplementedError revert, got reverted=%v err=%v", reverted, err)
	}
	if notImpl.Op != 0x0c {
		t.Fatalf("captured byte: %#x", notImpl.Op)
	}
}

func TestErrorDoesNotAdvance(t *testing.T) {
	// A handler error halts the frame as a revert; the rollback undoes the
	// write made before it, so the slot must be gone afterwards.
	code := []byte{
		byte(PUSH1), 1, byte(PUSH1), 0, byte(SSTORE),
		byte(PUSH1), 3, byte(JUMP), // invalid target
		byte(PUSH1), 9, byte(PUSH1), 0, byte(SSTORE), // unreachable
	}
	ws := newCallWorld(code, nil)
	_, _, reverted, err := externalCall(t, ws, parentAddr, nil)
	if !reverted || !errors.Is(err, ErrInvalidJump) {
		t.Fatalf("want InvalidJump revert, got reverted=%v err=%v", reverted, err)
	}
	if _, err := ws.GetStorageValue(parentAddr, common.Hash{}); err == nil {
		t.Fatal("reverted frame left storage behind")
	}
}

func TestTransientStorageWipedAtTopLevel(t *testing.T) {
	ws := newCallWorld([]byte{byte(STOP)}, nil)
	m := NewMachine(ws)
	m.SetTransientState(parentAddr, common.HexToHash("0x01"), common.HexToHash("0x02"))
	if m.GetTransientState(parentAddr, common.HexToHash("0x01")) != common.HexToHash("0x02") {
		t.Fatal("transient write not visible")
	}
	target := parentAddr
	if _, _, err := m.ExternalCall(&Frame{From: callerAddr, To: &target, Caller: callerAddr, Address: target, Type: CallTypeCall}); err != nil {
		t.Fatal(err)
	}
	if m.GetTransientState(parentAddr, common.HexToHash("0x01")) != (common.Hash{}) {
		t.Fatal("transient storage survived top-level entry")
	}
}

func TestExternalCallPanics(t *testing.T) {
	ws := newCallWorld([]byte{byte(STOP)}, nil)
	m := NewMachine(ws)
	defer func() {
		if recover() == nil {
			t.Fatal("missing target must panic")
		}
	}()
	m.ExternalCall(&Frame{From: callerAddr, Type: CallTypeCall})
}

func TestDeployRevertRemovesAccount(t *testing.T) {
	// Init code reverts immediately.
	initCode := []byte{byte(PUSH1), 0, byte(PUSH1), 0, byte(REVERT)}
	ws := newCallWorld(nil, nil)
	m := NewMachine(ws)
	addr := createAddress(callerAddr, 0)
	if _, err := m.Deploy(initCode, callerAddr, nil); !errors.Is(err, ErrDeployContractFailed) {
		t.Fatalf("want ErrDeployContractFailed, got %v", err)
	}
	if ws.Exist(addr) {
		t.Fatal("failed deploy left the account behind")
	}
	// The nonce moves even for a failed create.
	if nonce, _ := ws.GetNonce(callerAddr); nonce != 1 {
		t.Fatalf("nonce after failed deploy: %d", nonce)
	}
}
