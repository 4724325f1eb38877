package vm

// operation holds the dispatch metadata of a single opcode.
type operation struct {
	execute     executionFunc
	constantGas uint64
	// minStack is the number of stack items the operation needs; maxStack
	// is the largest stack length the operation can run on without
	// overflowing 1024.
	minStack int
	maxStack int
}

// JumpTable maps every opcode byte to its operation. Unassigned bytes stay
// nil and behave like INVALID.
type JumpTable [256]*operation

func minStack(pops, pushes int) int {
	return pops
}

func maxStack(pops, pushes int) int {
	return StackLimit + pops - pushes
}

// shanghaiInstructionSet is the dispatch table for the supported opcode set:
// the Shanghai assignment plus MCOPY.
var shanghaiInstructionSet JumpTable

func init() {
	shanghaiInstructionSet = newShanghaiInstructionSet()
}

func newShanghaiInstructionSet() JumpTable {
	tbl := JumpTable{
		STOP:       {execute: opStop, constantGas: GasZero, minStack: minStack(0, 0), maxStack: maxStack(0, 0)},
		ADD:        {execute: opAdd, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		MUL:        {execute: opMul, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SUB:        {execute: opSub, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		DIV:        {execute: opDiv, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SDIV:       {execute: opSdiv, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		MOD:        {execute: opMod, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SMOD:       {execute: opSmod, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		ADDMOD:     {execute: opAddmod, constantGas: GasMidStep, minStack: minStack(3, 1), maxStack: maxStack(3, 1)},
		MULMOD:     {execute: opMulmod, constantGas: GasMidStep, minStack: minStack(3, 1), maxStack: maxStack(3, 1)},
		EXP:        {execute: opExp, constantGas: GasSlowStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SIGNEXTEND: {execute: opSignExtend, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},

		LT:     {execute: opLt, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		GT:     {execute: opGt, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SLT:    {execute: opSlt, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SGT:    {execute: opSgt, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		EQ:     {execute: opEq, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		ISZERO: {execute: opIszero, constantGas: GasFastestStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		AND:    {execute: opAnd, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		OR:     {execute: opOr, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		XOR:    {execute: opXor, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		NOT:    {execute: opNot, constantGas: GasFastestStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		BYTE:   {execute: opByte, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SHL:    {execute: opSHL, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SHR:    {execute: opSHR, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},
		SAR:    {execute: opSAR, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},

		KECCAK256: {execute: opKeccak256, constantGas: GasKeccak256, minStack: minStack(2, 1), maxStack: maxStack(2, 1)},

		ADDRESS:        {execute: opAddress, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		BALANCE:        {execute: opBalance, constantGas: GasWarmAccess, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		ORIGIN:         {execute: opOrigin, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		CALLER:         {execute: opCaller, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		CALLVALUE:      {execute: opCallValue, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		CALLDATALOAD:   {execute: opCalldataLoad, constantGas: GasFastestStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		CALLDATASIZE:   {execute: opCalldataSize, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		CALLDATACOPY:   {execute: opCalldataCopy, constantGas: GasFastestStep, minStack: minStack(3, 0), maxStack: maxStack(3, 0)},
		CODESIZE:       {execute: opCodeSize, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		CODECOPY:       {execute: opCodeCopy, constantGas: GasFastestStep, minStack: minStack(3, 0), maxStack: maxStack(3, 0)},
		GASPRICE:       {execute: opGasprice, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		EXTCODESIZE:    {execute: opExtCodeSize, constantGas: GasWarmAccess, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		EXTCODECOPY:    {execute: opExtCodeCopy, constantGas: GasWarmAccess, minStack: minStack(4, 0), maxStack: maxStack(4, 0)},
		RETURNDATASIZE: {execute: opReturnDataSize, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		RETURNDATACOPY: {execute: opReturnDataCopy, constantGas: GasFastestStep, minStack: minStack(3, 0), maxStack: maxStack(3, 0)},
		EXTCODEHASH:    {execute: opExtCodeHash, constantGas: GasWarmAccess, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},

		BLOCKHASH:   {execute: opBlockhash, constantGas: GasExtStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		COINBASE:    {execute: opCoinbase, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		TIMESTAMP:   {execute: opTimestamp, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		NUMBER:      {execute: opNumber, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		PREVRANDAO:  {execute: opPrevRandao, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		GASLIMIT:    {execute: opGasLimit, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		CHAINID:     {execute: opChainID, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		SELFBALANCE: {execute: opSelfBalance, constantGas: GasFastStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		BASEFEE:     {execute: opBaseFee, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},

		POP:      {execute: opPop, constantGas: GasQuickStep, minStack: minStack(1, 0), maxStack: maxStack(1, 0)},
		MLOAD:    {execute: opMload, constantGas: GasFastestStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		MSTORE:   {execute: opMstore, constantGas: GasFastestStep, minStack: minStack(2, 0), maxStack: maxStack(2, 0)},
		MSTORE8:  {execute: opMstore8, constantGas: GasFastestStep, minStack: minStack(2, 0), maxStack: maxStack(2, 0)},
		SLOAD:    {execute: opSload, constantGas: GasColdSload, minStack: minStack(1, 1), maxStack: maxStack(1, 1)},
		SSTORE:   {execute: opSstore, constantGas: GasColdSload, minStack: minStack(2, 0), maxStack: maxStack(2, 0)},
		JUMP:     {execute: opJump, constantGas: GasMidStep, minStack: minStack(1, 0), maxStack: maxStack(1, 0)},
		JUMPI:    {execute: opJumpi, constantGas: GasSlowStep, minStack: minStack(2, 0), maxStack: maxStack(2, 0)},
		PC:       {execute: opPc, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		MSIZE:    {execute: opMsize, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		GAS:      {execute: opGas, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},
		JUMPDEST: {execute: opJumpdest, constantGas: GasJumpdest, minStack: minStack(0, 0), maxStack: maxStack(0, 0)},
		MCOPY:    {execute: opMcopy, constantGas: GasFastestStep, minStack: minStack(3, 0), maxStack: maxStack(3, 0)},
		PUSH0:    {execute: opPush0, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)},

		LOG0: {execute: makeLog(0), constantGas: GasLog, minStack: minStack(2, 0), maxStack: maxStack(2, 0)},
		LOG1: {execute: makeLog(1), constantGas: GasLog + GasLogTopic, minStack: minStack(3, 0), maxStack: maxStack(3, 0)},
		LOG2: {execute: makeLog(2), constantGas: GasLog + 2*GasLogTopic, minStack: minStack(4, 0), maxStack: maxStack(4, 0)},
		LOG3: {execute: makeLog(3), constantGas: GasLog + 3*GasLogTopic, minStack: minStack(5, 0), maxStack: maxStack(5, 0)},
		LOG4: {execute: makeLog(4), constantGas: GasLog + 4*GasLogTopic, minStack: minStack(6, 0), maxStack: maxStack(6, 0)},

		CREATE:       {execute: opCreate, constantGas: GasCreate, minStack: minStack(3, 1), maxStack: maxStack(3, 1)},
		CALL:         {execute: opCall, constantGas: GasWarmAccess, minStack: minStack(7, 1), maxStack: maxStack(7, 1)},
		CALLCODE:     {execute: opCallCode, constantGas: GasWarmAccess, minStack: minStack(7, 1), maxStack: maxStack(7, 1)},
		RETURN:       {execute: opReturn, constantGas: GasZero, minStack: minStack(2, 0), maxStack: maxStack(2, 0)},
		DELEGATECALL: {execute: opDelegateCall, constantGas: GasWarmAccess, minStack: minStack(6, 1), maxStack: maxStack(6, 1)},
		CREATE2:      {execute: opCreate2, constantGas: GasCreate, minStack: minStack(4, 1), maxStack: maxStack(4, 1)},
		STATICCALL:   {execute: opStaticCall, constantGas: GasWarmAccess, minStack: minStack(6, 1), maxStack: maxStack(6, 1)},
		REVERT:       {execute: opRevert, constantGas: GasZero, minStack: minStack(2, 0), maxStack: maxStack(2, 0)},
		INVALID:      {execute: opInvalid, constantGas: GasZero, minStack: minStack(0, 0), maxStack: maxStack(0, 0)},
		SELFDESTRUCT: {execute: opSelfdestruct, constantGas: GasSelfdestruct, minStack: minStack(1, 0), maxStack: maxStack(1, 0)},
	}
	for i := 0; i < 32; i++ {
		op := PUSH1 + OpCode(i)
		tbl[op] = &operation{execute: makePush(uint64(i + 1)), constantGas: GasFastestStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	}
	for i := 0; i < 16; i++ {
		tbl[DUP1+OpCode(i)] = &operation{execute: makeDup(i + 1), constantGas: GasFastestStep, minStack: minStack(i+1, i+2), maxStack: maxStack(i+1, i+2)}
		tbl[SWAP1+OpCode(i)] = &operation{execute: makeSwap(i + 1), constantGas: GasFastestStep, minStack: minStack(i+2, i+2), maxStack: maxStack(i+2, i+2)}
	}
	return tbl
}
