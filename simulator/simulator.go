package simulator

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/Georci/ken-evm/rpc"
	"github.com/Georci/ken-evm/state"
	"github.com/Georci/ken-evm/vm/runtime"
)

// Simulation describes one transaction-like call to run against forked
// chain state.
type Simulation struct {
	From        common.Address
	To          common.Address
	BlockNumber *big.Int
	GasLimit    uint64
	GasPrice    *big.Int
	Value       *big.Int
	Input       []byte
	Code        []byte
}

type Simulator struct {
	RPCClt *rpc.Client
}

type SimulationResult struct {
	ReturnedData []byte
	GasUsed      uint64
	Reverted     bool
	Logs         []*types.Log
	Record       *RecordToInitiateState
}

func NewSimulator(rpcClt *rpc.Client) (*Simulator, error) {
	return &Simulator{RPCClt: rpcClt}, nil
}

// RecordToInitiateState tracks which pieces of remote state were already
// back-filled, so repeated simulations against the same world-state skip the
// HTTP round trips, plus the access list of touched storage slots.
type RecordToInitiateState struct {
	AddressCodeSet    map[common.Address]struct{}
	AddressBalanceSet map[common.Address]struct{}
	// key is address:slot
	AddressStorageSet map[string]common.Hash
	AccessList        types.AccessList
}

func newRecord() *RecordToInitiateState {
	return &RecordToInitiateState{
		AddressCodeSet:    make(map[common.Address]struct{}),
		AddressBalanceSet: make(map[common.Address]struct{}),
		AddressStorageSet: make(map[string]common.Hash),
	}
}

func blockTag(number *big.Int) string {
	if number == nil || number.Sign() <= 0 {
		return "latest"
	}
	return "0x" + number.Text(16)
}

// Simulate performs the simulation of a transaction against a world-state
// that is lazily back-filled from the fork. Gas usage is the engine's
// constant-cost approximation, not a proper estimate.
func (s *Simulator) Simulate(simulation Simulation, ws *state.WorldState, record *RecordToInitiateState) (*SimulationResult, error) {
	if ws == nil {
		ws = state.New()
	}
	if record == nil {
		record = newRecord()
	}

	blk := blockTag(simulation.BlockNumber)

	code := simulation.Code
	if len(code) == 0 {
		if existing, err := ws.GetCode(simulation.To); err == nil && len(existing) > 0 {
			code = existing
		} else {
			// fetch the target's code from the fork
			fetched, err := s.RPCClt.GetCode(simulation.To.Hex(), blk)
			if err != nil {
				return nil, err
			}
			code = fetched
			record.AddressCodeSet[simulation.To] = struct{}{}
		}
	}

	if simulation.Value != nil && simulation.Value.Sign() > 0 {
		funded := false
		if balance, err := ws.GetBalance(simulation.From); err == nil && balance.CmpBig(simulation.Value) > 0 {
			funded = true
		}
		if !funded {
			balance, err := s.RPCClt.GetBalance(simulation.From.Hex(), blk)
			if err != nil {
				return nil, err
			}
			if balance.Cmp(simulation.Value) <= 0 {
				return nil, errors.New("insufficient balance to proceed with simulation")
			}
			if !ws.Exist(simulation.From) {
				ws.NewAccount(simulation.From, state.NewEOA(0, nil))
			}
			ws.SetBalance(simulation.From, uint256.MustFromBig(balance))
			record.AddressBalanceSet[simulation.From] = struct{}{}
		}
	}

	prefetcher := &prefetcher{clt: s.RPCClt, record: record, blk: blk}
	cfg := s.configFromSimulation(simulation)
	cfg.Prefetch = prefetcher.hook

	result, err := runtime.Execute(simulation.To, code, simulation.Input, cfg, ws)
	if err != nil {
		return nil, err
	}

	return &SimulationResult{
		ReturnedData: result.Ret,
		GasUsed:      result.GasUsed,
		Reverted:     result.Reverted,
		Logs:         result.Logs,
		Record:       record,
	}, nil
}

// SimulateBundle simulates a sequence of transactions sharing the same
// world-state; state changes of earlier transactions are visible to later
// ones.
func (s *Simulator) SimulateBundle(simulations []Simulation, ws *state.WorldState, record *RecordToInitiateState) ([]*SimulationResult, error) {
	if ws == nil {
		ws = state.New()
	}
	if record == nil {
		record = newRecord()
	}

	results := make([]*SimulationResult, len(simulations))
	for i := range simulations {
		result, err := s.Simulate(simulations[i], ws, record)
		if err != nil {
			return nil, err
		}
		results[i] = result
		record = result.Record
	}

	return results, nil
}

// ReplayTransaction fetches a historical transaction and its block header
// and runs the call against fork state at that block.
func (s *Simulator) ReplayTransaction(txHash string) (*SimulationResult, error) {
	tx, err := s.RPCClt.GetTransactionByHash(txHash)
	if err != nil {
		return nil, err
	}
	if tx.To == nil {
		return nil, errors.New("replay of contract creations is not supported")
	}
	header, err := s.RPCClt.GetBlockByNumber(blockTag((*big.Int)(tx.BlockNumber)))
	if err != nil {
		return nil, err
	}

	log.Info("replaying transaction", "hash", tx.TxHash.Hex(), "block", header.Number)

	simulation := Simulation{
		From:        tx.From,
		To:          *tx.To,
		BlockNumber: (*big.Int)(tx.BlockNumber),
		GasLimit:    uint64(tx.Gas),
		GasPrice:    (*big.Int)(tx.GasPrice),
		Value:       (*big.Int)(tx.Value),
		Input:       tx.Calldata,
	}
	cfg := s.configFromSimulation(simulation)
	cfg.BlockHash = header.Hash
	cfg.Coinbase = header.Coinbase
	cfg.Time = uint64(header.Timestamp)
	cfg.BaseFee = (*big.Int)(header.BaseFee)
	cfg.ChainID = (*big.Int)(tx.ChainID)
	prevRandao := header.PrevRandao
	cfg.Random = &prevRandao
	if header.GasLimit != 0 {
		cfg.GasLimit = uint64(header.GasLimit)
	}

	ws := state.New()
	record := newRecord()
	blk := blockTag(simulation.BlockNumber)

	// Pre-state of the sender.
	nonce, err := s.RPCClt.GetTransactionCount(tx.From.Hex(), blk)
	if err != nil {
		return nil, err
	}
	balance, err := s.RPCClt.GetBalance(tx.From.Hex(), blk)
	if err != nil {
		return nil, err
	}
	ws.NewAccount(tx.From, state.NewEOA(nonce, uint256.MustFromBig(balance)))
	record.AddressBalanceSet[tx.From] = struct{}{}

	code, err := s.RPCClt.GetCode(tx.To.Hex(), blk)
	if err != nil {
		return nil, err
	}
	ws.NewAccount(*tx.To, state.NewContract(0, nil, code))
	record.AddressCodeSet[*tx.To] = struct{}{}

	prefetcher := &prefetcher{clt: s.RPCClt, record: record, blk: blk}
	cfg.Prefetch = prefetcher.hook

	result, err := runtime.Execute(*tx.To, code, tx.Calldata, cfg, ws)
	if err != nil {
		return nil, err
	}
	return &SimulationResult{
		ReturnedData: result.Ret,
		GasUsed:      result.GasUsed,
		Reverted:     result.Reverted,
		Logs:         result.Logs,
		Record:       record,
	}, nil
}

func (s *Simulator) configFromSimulation(simulation Simulation) *runtime.Config {
	endpoint := ""
	if s.RPCClt != nil {
		endpoint = s.RPCClt.Endpoint
	}
	return &runtime.Config{
		Origin:      simulation.From,
		BlockNumber: simulation.BlockNumber,
		GasLimit:    simulation.GasLimit,
		GasPrice:    simulation.GasPrice,
		Value:       simulation.Value,
		RPCEndpoint: endpoint,
	}
}

// CombineRecords merges several initialization records, keeping the first
// occurrence of every storage key.
func CombineRecords(records []*RecordToInitiateState) *RecordToInitiateState {
	record := newRecord()
	for _, r := range records {
		if r == nil {
			continue
		}
		for k, v := range r.AddressCodeSet {
			record.AddressCodeSet[k] = v
		}
		for k, v := range r.AddressBalanceSet {
			record.AddressBalanceSet[k] = v
		}
		for k, v := range r.AddressStorageSet {
			if _, ok := record.AddressStorageSet[k]; !ok {
				record.AddressStorageSet[k] = v
			}
		}
	}
	return record
}
