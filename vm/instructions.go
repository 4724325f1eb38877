package vm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// executionFunc is the signature of an opcode handler. Handlers mutate the
// machine and advance the program counter themselves: plain opcodes by one,
// pushes by 1+immediate, jumps to their target and halting opcodes to the
// sentinel.
type executionFunc func(m *Machine) error

// asOffset narrows a 256-bit word to a memory/buffer offset.
func asOffset(v *uint256.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, ErrOutOfOffset
	}
	return v.Uint64(), nil
}

// getData returns size bytes of data starting at start, zero-padded past
// the end of the source.
func getData(data []byte, start, size uint64) []byte {
	length := uint64(len(data))
	if start > length {
		start = length
	}
	end := start + size
	if end < start || end > length {
		end = length
	}
	ret := make([]byte, size)
	copy(ret, data[start:end])
	return ret
}

// Arithmetic ops.

func opAdd(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Add(&x, y)
	m.pc++
	return nil
}

func opMul(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Mul(&x, y)
	m.pc++
	return nil
}

func opSub(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Sub(&x, y)
	m.pc++
	return nil
}

func opDiv(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Div(&x, y)
	m.pc++
	return nil
}

func opSdiv(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.SDiv(&x, y)
	m.pc++
	return nil
}

func opMod(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Mod(&x, y)
	m.pc++
	return nil
}

func opSmod(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.SMod(&x, y)
	m.pc++
	return nil
}

func opAddmod(m *Machine) error {
	x, y, z := m.stack.pop(), m.stack.pop(), m.stack.peek()
	z.AddMod(&x, &y, z)
	m.pc++
	return nil
}

func opMulmod(m *Machine) error {
	x, y, z := m.stack.pop(), m.stack.pop(), m.stack.peek()
	z.MulMod(&x, &y, z)
	m.pc++
	return nil
}

func opExp(m *Machine) error {
	base, exponent := m.stack.pop(), m.stack.peek()
	exponent.Exp(&base, exponent)
	m.pc++
	return nil
}

func opSignExtend(m *Machine) error {
	back, num := m.stack.pop(), m.stack.peek()
	num.ExtendSign(num, &back)
	m.pc++
	return nil
}

// Comparison ops.

func opLt(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Lt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	m.pc++
	return nil
}

func opGt(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Gt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	m.pc++
	return nil
}

func opSlt(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Slt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	m.pc++
	return nil
}

func opSgt(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Sgt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	m.pc++
	return nil
}

func opEq(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Eq(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	m.pc++
	return nil
}

func opIszero(m *Machine) error {
	x := m.stack.peek()
	if x.IsZero() {
		x.SetOne()
	} else {
		x.Clear()
	}
	m.pc++
	return nil
}

// Bitwise ops.

func opAnd(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.And(&x, y)
	m.pc++
	return nil
}

func opOr(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Or(&x, y)
	m.pc++
	return nil
}

func opXor(m *Machine) error {
	x, y := m.stack.pop(), m.stack.peek()
	y.Xor(&x, y)
	m.pc++
	return nil
}

func opNot(m *Machine) error {
	x := m.stack.peek()
	x.Not(x)
	m.pc++
	return nil
}

func opByte(m *Machine) error {
	th, val := m.stack.pop(), m.stack.peek()
	val.Byte(&th)
	m.pc++
	return nil
}

func opSHL(m *Machine) error {
	shift, value := m.stack.pop(), m.stack.peek()
	if shift.LtUint64(256) {
		value.Lsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	m.pc++
	return nil
}

func opSHR(m *Machine) error {
	shift, value := m.stack.pop(), m.stack.peek()
	if shift.LtUint64(256) {
		value.Rsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	m.pc++
	return nil
}

func opSAR(m *Machine) error {
	shift, value := m.stack.pop(), m.stack.peek()
	if shift.GtUint64(255) {
		if value.Sign() >= 0 {
			value.Clear()
		} else {
			value.SetAllOne()
		}
	} else {
		value.SRsh(value, uint(shift.Uint64()))
	}
	m.pc++
	return nil
}

func opKeccak256(m *Machine) error {
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
	hash := keccak256(data)
	m.stack.push(new(uint256.Int).SetBytes(hash.Bytes()))
	m.pc++
	return nil
}

// Environment ops.

func opAddress(m *Machine) error {
	m.stack.push(new(uint256.Int).SetBytes(m.currentFrame().Address.Bytes()))
	m.pc++
	return nil
}

func opBalance(m *Machine) error {
	slot := m.stack.peek()
	addr := common.Address(slot.Bytes20())
	balance, err := m.ws.GetBalance(addr)
	if err != nil {
		return err
	}
	slot.Set(balance)
	m.pc++
	return nil
}

func opOrigin(m *Machine) error {
	m.stack.push(new(uint256.Int).SetBytes(m.origin.Bytes()))
	m.pc++
	return nil
}

func opCaller(m *Machine) error {
	m.stack.push(new(uint256.Int).SetBytes(m.currentFrame().Caller.Bytes()))
	m.pc++
	return nil
}

func opCallValue(m *Machine) error {
	value := m.currentFrame().Value
	if value == nil {
		value = new(uint256.Int)
	}
	m.stack.push(new(uint256.Int).Set(value))
	m.pc++
	return nil
}

func opCalldataLoad(m *Machine) error {
	x := m.stack.peek()
	if offset, overflow := x.Uint64WithOverflow(); !overflow {
		data := getData(m.currentFrame().CallData, offset, 32)
		x.SetBytes(data)
	} else {
		x.Clear()
	}
	m.pc++
	return nil
}

func opCalldataSize(m *Machine) error {
	m.stack.push(new(uint256.Int).SetUint64(uint64(len(m.currentFrame().CallData))))
	m.pc++
	return nil
}

func opCalldataCopy(m *Machine) error {
	dest, offset, size := m.stack.pop(), m.stack.pop(), m.stack.pop()
	sz, err := asOffset(&size)
	if err != nil {
		return err
	}
	if sz == 0 {
		m.pc++
		return nil
	}
	dst, err := asOffset(&dest)
	if err != nil {
		return err
	}
	src, _ := offset.Uint64WithOverflow()
	if !offset.IsUint64() {
		src = uint64(len(m.currentFrame().CallData))
	}
	if err := m.memory.Write(dst, getData(m.currentFrame().CallData, src, sz)); err != nil {
		return err
	}
	m.pc++
	return nil
}

func opCodeSize(m *Machine) error {
	m.stack.push(new(uint256.Int).SetUint64(uint64(len(m.bytecode))))
	m.pc++
	return nil
}

func opCodeCopy(m *Machine) error {
	dest, offset, size := m.stack.pop(), m.stack.pop(), m.stack.pop()
	sz, err := asOffset(&size)
	if err != nil {
		return err
	}
	if sz == 0 {
		m.pc++
		return nil
	}
	dst, err := asOffset(&dest)
	if err != nil {
		return err
	}
	src, _ := offset.Uint64WithOverflow()
	if !offset.IsUint64() {
		src = uint64(len(m.bytecode))
	}
	if err := m.memory.Write(dst, getData(m.bytecode, src, sz)); err != nil {
		return err
	}
	m.pc++
	return nil
}

func opGasprice(m *Machine) error {
	price := m.gasPrice
	if price == nil {
		price = new(uint256.Int)
	}
	m.stack.push(new(uint256.Int).Set(price))
	m.pc++
	return nil
}

func opExtCodeSize(m *Machine) error {
	slot := m.stack.peek()
	code, err := m.ws.GetCode(common.Address(slot.Bytes20()))
	if err != nil {
		return err
	}
	slot.SetUint64(uint64(len(code)))
	m.pc++
	return nil
}

func opExtCodeCopy(m *Machine) error {
	a, dest, offset, size := m.stack.pop(), m.stack.pop(), m.stack.pop(), m.stack.pop()
	code, err := m.ws.GetCode(common.Address(a.Bytes20()))
	if err != nil {
		return err
	}
	sz, err := asOffset(&size)
	if err != nil {
		return err
	}
	if sz == 0 {
		m.pc++
		return nil
	}
	dst, err := asOffset(&dest)
	if err != nil {
		return err
	}
	src, _ := offset.Uint64WithOverflow()
	if !offset.IsUint64() {
		src = uint64(len(code))
	}
	if err := m.memory.Write(dst, getData(code, src, sz)); err != nil {
		return err
	}
	m.pc++
	return nil
}

func opExtCodeHash(m *Machine) error {
	slot := m.stack.peek()
	hash, err := m.ws.GetCodeHash(common.Address(slot.Bytes20()))
	if err != nil {
		return err
	}
	slot.SetBytes(hash.Bytes())
	m.pc++
	return nil
}

func opReturnDataSize(m *Machine) error {
	m.stack.push(new(uint256.Int).SetUint64(uint64(len(m.subReturnData))))
	m.pc++
	return nil
}

func opReturnDataCopy(m *Machine) error {
	dest, offset, size := m.stack.pop(), m.stack.pop(), m.stack.pop()
	sz, err := asOffset(&size)
	if err != nil {
		return err
	}
	src, err := asOffset(&offset)
	if err != nil {
		return err
	}
	// Unlike the other copies, reads past the end of the return buffer are
	// a hard failure rather than zero-padded.
	end := src + sz
	if end < src || end > uint64(len(m.subReturnData)) {
		return ErrOutOfOffset
	}
	if sz == 0 {
		m.pc++
		return nil
	}
	dst, err := asOffset(&dest)
	if err != nil {
		return err
	}
	if err := m.memory.Write(dst, m.subReturnData[src:end]); err != nil {
		return err
	}
	m.pc++
	return nil
}

// Block ops.

func opBlockhash(m *Machine) error {
	num := m.stack.peek()
	if m.getHash != nil {
		if n, overflow := num.Uint64WithOverflow(); !overflow {
			num.SetBytes(m.getHash(n).Bytes())
			m.pc++
			return nil
		}
	}
	if m.block != nil {
		num.SetBytes(m.block.BlockHash.Bytes())
	} else {
		num.Clear()
	}
	m.pc++
	return nil
}

func opCoinbase(m *Machine) error {
	var coinbase common.Address
	if m.block != nil {
		coinbase = m.block.Coinbase
	}
	m.stack.push(new(uint256.Int).SetBytes(coinbase.Bytes()))
	m.pc++
	return nil
}

func opTimestamp(m *Machine) error {
	var ts uint64
	if m.block != nil {
		ts = m.block.Timestamp
	}
	m.stack.push(new(uint256.Int).SetUint64(ts))
	m.pc++
	return nil
}

func opNumber(m *Machine) error {
	number := new(uint256.Int)
	if m.block != nil && m.block.Number != nil {
		number.SetFromBig(m.block.Number)
	}
	m.stack.push(number)
	m.pc++
	return nil
}

func opPrevRandao(m *Machine) error {
	var randao common.Hash
	if m.block != nil {
		randao = m.block.PrevRandao
	}
	m.stack.push(new(uint256.Int).SetBytes(randao.Bytes()))
	m.pc++
	return nil
}

func opGasLimit(m *Machine) error {
	limit := new(uint256.Int).SetAllOne()
	if m.block != nil && m.block.GasLimit != 0 {
		limit.SetUint64(m.block.GasLimit)
	}
	m.stack.push(limit)
	m.pc++
	return nil
}

func opChainID(m *Machine) error {
	chainID := uint256.NewInt(1)
	if m.block != nil && m.block.ChainID != nil {
		chainID.SetFromBig(m.block.ChainID)
	}
	m.stack.push(chainID)
	m.pc++
	return nil
}

func opSelfBalance(m *Machine) error {
	balance, err := m.ws.GetBalance(m.currentFrame().Address)
	if err != nil {
		return err
	}
	m.stack.push(balance)
	m.pc++
	return nil
}

func opBaseFee(m *Machine) error {
	baseFee := new(uint256.Int)
	if m.block != nil && m.block.BaseFee != nil {
		baseFee.SetFromBig(m.block.BaseFee)
	}
	m.stack.push(baseFee)
	m.pc++
	return nil
}

// Stack, memory and storage ops.

func opPop(m *Machine) error {
	m.stack.pop()
	m.pc++
	return nil
}

func opMload(m *Machine) error {
	v := m.stack.peek()
	offset, err := asOffset(v)
	if err != nil {
		return err
	}
	word, err := m.memory.Load32(offset)
	if err != nil {
		return err
	}
	v.Set(&word)
	m.pc++
	return nil
}

func opMstore(m *Machine) error {
	mStart, val := m.stack.pop(), m.stack.pop()
	offset, err := asOffset(&mStart)
	if err != nil {
		return err
	}
	if err := m.memory.Store32(offset, &val); err != nil {
		return err
	}
	m.pc++
	return nil
}

func opMstore8(m *Machine) error {
	mStart, val := m.stack.pop(), m.stack.pop()
	offset, err := asOffset(&mStart)
	if err != nil {
		return err
	}
	if err := m.memory.StoreByte(offset, byte(val.Uint64())); err != nil {
		return err
	}
	m.pc++
	return nil
}

func opSload(m *Machine) error {
	loc := m.stack.peek()
	key := common.Hash(loc.Bytes32())
	// Slots never written, and accounts the host never materialized, read
	// as zero.
	value, err := m.ws.GetStorageValue(m.currentFrame().Address, key)
	if err != nil {
		loc.Clear()
	} else {
		loc.SetBytes(value.Bytes())
	}
	m.pc++
	return nil
}

func opSstore(m *Machine) error {
	if m.inStaticCall() {
		return ErrWriteProtection
	}
	loc, val := m.stack.pop(), m.stack.pop()
	key := common.Hash(loc.Bytes32())
	value := common.Hash(val.Bytes32())
	if err := m.ws.InsertStorageValue(m.currentFrame().Address, key, value); err != nil {
		return err
	}
	m.pc++
	return nil
}

func opJump(m *Machine) error {
	pos := m.stack.pop()
	if !pos.IsUint64() || !m.validJumpdest(pos.Uint64()) {
		return ErrInvalidJump
	}
	m.pc = pos.Uint64()
	return nil
}

func opJumpi(m *Machine) error {
	pos, cond := m.stack.pop(), m.stack.pop()
	if cond.IsZero() {
		m.pc++
		return nil
	}
	if !pos.IsUint64() || !m.validJumpdest(pos.Uint64()) {
		return ErrInvalidJump
	}
	m.pc = pos.Uint64()
	return nil
}

func opPc(m *Machine) error {
	// The PC of the opcode itself, captured before any increment.
	m.stack.push(new(uint256.Int).SetUint64(m.pc))
	m.pc++
	return nil
}

func opMsize(m *Machine) error {
	m.stack.push(new(uint256.Int).SetUint64(m.memory.Len()))
	m.pc++
	return nil
}

func opGas(m *Machine) error {
	// The engine does not meter; GAS answers with the sentinel maximum.
	m.stack.push(new(uint256.Int).SetAllOne())
	m.pc++
	return nil
}

func opJumpdest(m *Machine) error {
	m.pc++
	return nil
}

func opMcopy(m *Machine) error {
	dst, src, length := m.stack.pop(), m.stack.pop(), m.stack.pop()
	sz, err := asOffset(&length)
	if err != nil {
		return err
	}
	if sz == 0 {
		m.pc++
		return nil
	}
	dstOff, err := asOffset(&dst)
	if err != nil {
		return err
	}
	srcOff, err := asOffset(&src)
	if err != nil {
		return err
	}
	if err := m.memory.Copy(dstOff, srcOff, sz); err != nil {
		return err
	}
	m.pc++
	return nil
}

func opPush0(m *Machine) error {
	m.stack.push(new(uint256.Int))
	m.pc++
	return nil
}

// makePush builds the handler for PUSH1..PUSH32: read size immediate bytes
// big-endian, zero-padded past the end of the code.
func makePush(size uint64) executionFunc {
	return func(m *Machine) error {
		data := getData(m.bytecode, m.pc+1, size)
		m.stack.push(new(uint256.Int).SetBytes(data))
		m.pc += size + 1
		return nil
	}
}

// makeDup builds the handler for DUP1..DUP16.
func makeDup(n int) executionFunc {
	return func(m *Machine) error {
		if err := m.stack.Dup(n); err != nil {
			return err
		}
		m.pc++
		return nil
	}
}

// makeSwap builds the handler for SWAP1..SWAP16.
func makeSwap(n int) executionFunc {
	return func(m *Machine) error {
		if err := m.stack.Swap(n); err != nil {
			return err
		}
		m.pc++
		return nil
	}
}

// makeLog builds the handler for LOG0..LOG4. A record is appended to the
// transaction-scoped log list under the executing address.
func makeLog(topicCount int) executionFunc {
	return func(m *Machine) error {
		if m.inStaticCall() {
			return ErrWriteProtection
		}
		offset, size := m.stack.pop(), m.stack.pop()
		topics := make([]common.Hash, topicCount)
		for i := 0; i < topicCount; i++ {
			t := m.stack.pop()
			topics[i] = t.Bytes32()
		}
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
		m.logs = append(m.logs, &types.Log{
			Address: m.currentFrame().Address,
			Topics:  topics,
			Data:    data,
		})
		m.pc++
		return nil
	}
}
