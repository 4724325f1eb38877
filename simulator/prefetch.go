package simulator

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/Georci/ken-evm/rpc"
	"github.com/Georci/ken-evm/state"
	"github.com/Georci/ken-evm/vm"
)

// prefetcher back-fills world-state from the fork right before an opcode
// that is about to touch it: target code for the call family, code for the
// EXTCODE* family, storage slots for SLOAD and balances for BALANCE. SSTORE
// only adds its slot to the access list. Code, slots and balances that were
// back-filled are tracked in the record and not fetched again.
type prefetcher struct {
	clt    *rpc.Client
	record *RecordToInitiateState
	blk    string

	slotSeen map[string]struct{}
}

func isCall(op vm.OpCode) bool {
	return op == vm.CALL || op == vm.CALLCODE || op == vm.DELEGATECALL || op == vm.STATICCALL
}

func isExtCode(op vm.OpCode) bool {
	return op == vm.EXTCODECOPY || op == vm.EXTCODEHASH || op == vm.EXTCODESIZE
}

func (p *prefetcher) hook(m *vm.Machine, op vm.OpCode) error {
	if p.clt == nil || p.clt.Endpoint == "" {
		return nil
	}
	switch {
	case op == vm.SLOAD || op == vm.SSTORE:
		p.appendToAccessList(m)
		if op == vm.SLOAD {
			return p.registerStorage(m)
		}
		return nil
	case isCall(op):
		return p.registerCallTarget(m, op)
	case isExtCode(op) || op == vm.BALANCE:
		return p.registerAddress(m, op)
	}
	return nil
}

// registerStorage fetches the slot SLOAD is about to read and registers it
// in the executing account's storage.
func (p *prefetcher) registerStorage(m *vm.Machine) error {
	data := m.Stack().Data()
	if len(data) < 1 {
		return errors.New("insufficient elements in stack")
	}
	addr := m.ActiveFrame().Address
	slot := common.Hash(data[len(data)-1].Bytes32())

	key := addr.Hex() + ":" + slot.Hex()
	if _, ok := p.record.AddressStorageSet[key]; ok {
		return nil
	}

	value, err := p.clt.GetStorageAt(addr.Hex(), slot.Hex(), p.blk)
	if err != nil {
		return err
	}
	if err := m.WorldState().InsertStorageValue(addr, slot, value); err != nil {
		return err
	}
	p.record.AddressStorageSet[key] = value
	log.Debug("prefetched storage", "addr", addr.Hex(), "slot", slot.Hex())
	return nil
}

// registerCallTarget fetches the code of the address a call-family opcode
// is about to enter, and tops up its balance when the call carries value.
func (p *prefetcher) registerCallTarget(m *vm.Machine, op vm.OpCode) error {
	data := m.Stack().Data()
	if len(data) < 3 {
		return errors.New("insufficient elements in stack")
	}
	addr := common.Address(data[len(data)-2].Bytes20())

	if err := p.fetchCode(m, addr); err != nil {
		return err
	}

	if op == vm.CALL || op == vm.CALLCODE {
		value := data[len(data)-3]
		if value.IsZero() {
			return nil
		}
		if _, ok := p.record.AddressBalanceSet[addr]; ok {
			return nil
		}
		current, err := m.WorldState().GetBalance(addr)
		if err != nil {
			current = new(uint256.Int)
		}
		if value.Cmp(current) > 0 {
			fetched, err := p.clt.GetBalance(addr.Hex(), p.blk)
			if err != nil {
				return err
			}
			balance := uint256.MustFromBig(fetched)
			if balance.Cmp(&value) >= 0 {
				diff := new(uint256.Int).Sub(balance, current)
				m.WorldState().AddBalance(addr, diff)
				p.record.AddressBalanceSet[addr] = struct{}{}
			}
		}
	}
	return nil
}

// registerAddress fetches the code (EXTCODE*) or balance (BALANCE) of the
// address on top of the stack.
func (p *prefetcher) registerAddress(m *vm.Machine, op vm.OpCode) error {
	data := m.Stack().Data()
	if len(data) < 1 {
		return errors.New("insufficient elements in stack")
	}
	addr := common.Address(data[len(data)-1].Bytes20())

	if op == vm.BALANCE {
		if _, ok := p.record.AddressBalanceSet[addr]; ok {
			return nil
		}
		fetched, err := p.clt.GetBalance(addr.Hex(), p.blk)
		if err != nil {
			return err
		}
		ws := m.WorldState()
		if !ws.Exist(addr) {
			ws.NewAccount(addr, state.NewEOA(0, nil))
		}
		ws.SetBalance(addr, uint256.MustFromBig(fetched))
		p.record.AddressBalanceSet[addr] = struct{}{}
		return nil
	}
	return p.fetchCode(m, addr)
}

func (p *prefetcher) fetchCode(m *vm.Machine, addr common.Address) error {
	if _, ok := p.record.AddressCodeSet[addr]; ok {
		return nil
	}
	code, err := p.clt.GetCode(addr.Hex(), p.blk)
	if err != nil {
		return err
	}
	ws := m.WorldState()
	if len(code) > 0 {
		if !ws.Exist(addr) {
			ws.NewAccount(addr, state.NewContract(0, nil, code))
		} else if err := ws.InsertCode(addr, code); err != nil {
			return err
		}
	}
	p.record.AddressCodeSet[addr] = struct{}{}
	log.Debug("prefetched code", "addr", addr.Hex(), "size", len(code))
	return nil
}

// appendToAccessList records the slot a SLOAD/SSTORE touches without
// duplicating addresses.
func (p *prefetcher) appendToAccessList(m *vm.Machine) {
	data := m.Stack().Data()
	if len(data) < 1 {
		return
	}
	addr := m.ActiveFrame().Address
	slot := common.Hash(data[len(data)-1].Bytes32())
	key := addr.Hex() + ":" + slot.Hex()

	if p.slotSeen == nil {
		p.slotSeen = make(map[string]struct{})
	}
	if _, ok := p.slotSeen[key]; ok {
		return
	}

	found := false
	for i, tuple := range p.record.AccessList {
		if tuple.Address == addr {
			p.record.AccessList[i].StorageKeys = append(p.record.AccessList[i].StorageKeys, slot)
			found = true
			break
		}
	}
	if !found {
		p.record.AccessList = append(p.record.AccessList, types.AccessTuple{
			Address:     addr,
			StorageKeys: []common.Hash{slot},
		})
	}
	p.slotSeen[key] = struct{}{}
}
