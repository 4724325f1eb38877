package runtime

import (
	"errors"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/Georci/ken-evm/state"
	"github.com/Georci/ken-evm/vm"
)

// Config is a basic type specifying certain configuration flags for running
// the EVM.
type Config struct {
	Origin      common.Address
	Coinbase    common.Address
	BlockHash   common.Hash
	BlockNumber *big.Int
	Time        uint64
	GasLimit    uint64
	GasPrice    *big.Int
	Value       *big.Int
	ChainID     *big.Int
	BaseFee     *big.Int
	Random      *common.Hash
	Debug       bool
	RPCEndpoint string

	GetHashFn func(n uint64) common.Hash
	Prefetch  vm.PrefetchFunc
}

// SetDefaults fills unset fields of the config.
func SetDefaults(cfg *Config) {
	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(1)
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = math.MaxUint64
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = new(big.Int)
	}
	if cfg.Value == nil {
		cfg.Value = new(big.Int)
	}
	if cfg.BlockNumber == nil {
		cfg.BlockNumber = new(big.Int)
	}
	if cfg.BaseFee == nil {
		cfg.BaseFee = new(big.Int)
	}
	if cfg.Random == nil {
		cfg.Random = &common.Hash{}
	}
}

// ExecutionResult is what a top-level execution hands back to the host.
type ExecutionResult struct {
	Ret      []byte
	Reverted bool
	GasUsed  uint64
	Logs     []*types.Log
}

// block assembles the machine's read-only block context from the config.
func block(cfg *Config) *vm.Block {
	return &vm.Block{
		BlockHash:  cfg.BlockHash,
		Coinbase:   cfg.Coinbase,
		Timestamp:  cfg.Time,
		Number:     cfg.BlockNumber,
		PrevRandao: *cfg.Random,
		GasLimit:   cfg.GasLimit,
		ChainID:    cfg.ChainID,
		BaseFee:    cfg.BaseFee,
	}
}

// newMachine builds a machine wired up per the config.
func newMachine(cfg *Config, ws *state.WorldState) *vm.Machine {
	machine := vm.NewMachine(ws)
	machine.SetBlock(block(cfg))
	machine.SetGasPrice(uint256.MustFromBig(cfg.GasPrice))
	machine.SetDebug(cfg.Debug)
	if cfg.GetHashFn != nil {
		machine.SetGetHashFn(cfg.GetHashFn)
	}
	if cfg.Prefetch != nil {
		machine.SetPrefetch(cfg.Prefetch)
	}
	return machine
}

// Execute runs code installed at address against the given world-state,
// using input as call data. Execute sets up a temporary environment: the
// origin account is created when missing, and the target account is created
// and loaded with code when the state does not carry it yet.
func Execute(address common.Address, code, input []byte, cfg *Config, ws *state.WorldState) (*ExecutionResult, error) {
	if cfg == nil {
		cfg = new(Config)
	}
	SetDefaults(cfg)
	if ws == nil {
		return nil, errors.New("world state missing, please provide one")
	}

	value := uint256.MustFromBig(cfg.Value)
	if !ws.Exist(cfg.Origin) {
		ws.NewAccount(cfg.Origin, state.NewEOA(0, new(uint256.Int).Set(value)))
	}
	if _, err := ws.GetCode(address); err != nil {
		if ws.Exist(address) {
			ws.InsertCode(address, code)
		} else {
			ws.NewAccount(address, state.NewContract(0, nil, code))
		}
	}

	machine := newMachine(cfg, ws)
	call := &vm.Frame{
		From:     cfg.Origin,
		To:       &address,
		Caller:   cfg.Origin,
		Address:  address,
		Value:    value,
		CallData: input,
		Type:     vm.CallTypeCall,
	}
	ret, reverted, err := machine.ExternalCall(call)
	if err != nil {
		return nil, err
	}
	return &ExecutionResult{
		Ret:      ret,
		Reverted: reverted,
		GasUsed:  machine.GasUsed(),
		Logs:     machine.Logs(),
	}, nil
}

// Create deploys initCode on behalf of cfg.Origin and returns the runtime
// code together with the derived address.
func Create(initCode []byte, cfg *Config, ws *state.WorldState) ([]byte, common.Address, error) {
	if cfg == nil {
		cfg = new(Config)
	}
	SetDefaults(cfg)
	if ws == nil {
		return nil, common.Address{}, errors.New("world state missing, please provide one")
	}

	value := uint256.MustFromBig(cfg.Value)
	if !ws.Exist(cfg.Origin) {
		ws.NewAccount(cfg.Origin, state.NewEOA(0, new(uint256.Int).Set(value)))
	}

	machine := newMachine(cfg, ws)
	addr, err := machine.Deploy(initCode, cfg.Origin, value)
	if err != nil {
		return nil, common.Address{}, err
	}
	runtimeCode, err := machine.WorldState().GetCode(addr)
	if err != nil {
		return nil, common.Address{}, err
	}
	return runtimeCode, addr, nil
}
