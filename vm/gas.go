package vm

// Constant gas costs per opcode tier. The engine sums these into
// Machine.GasUsed but never halts on gas: a conforming meter would extend
// the operation table with dynamic costs and charge them in the dispatch
// loop.
const (
	GasZero        uint64 = 0
	GasQuickStep   uint64 = 2
	GasFastestStep uint64 = 3
	GasFastStep    uint64 = 5
	GasMidStep     uint64 = 8
	GasSlowStep    uint64 = 10
	GasExtStep     uint64 = 20

	GasKeccak256    uint64 = 30
	GasWarmAccess   uint64 = 100
	GasColdSload    uint64 = 2100
	GasColdAccount  uint64 = 2600
	GasJumpdest     uint64 = 1
	GasSelfdestruct uint64 = 5000
	GasCreate       uint64 = 32000
	GasLog          uint64 = 375
	GasLogTopic     uint64 = 375
	GasCallStipend  uint64 = 2300
)
