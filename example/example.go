package main

import (
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/Georci/ken-evm/rpc"
	"github.com/Georci/ken-evm/simulator"
	"github.com/Georci/ken-evm/state"
	"github.com/Georci/ken-evm/vm"
)

func main() {
	exampleDeployAndCall()
}

// exampleDeployAndCall deploys a small contract from literal init code and
// calls it: the constructor returns runtime code that stores calldata word
// zero and echoes it back.
func exampleDeployAndCall() {
	// Runtime: store calldata[0] at slot 0, load it back, return it.
	runtimeCode := []byte{
		byte(vm.PUSH0), byte(vm.CALLDATALOAD),
		byte(vm.PUSH0), byte(vm.SSTORE),
		byte(vm.PUSH0), byte(vm.SLOAD),
		byte(vm.PUSH0), byte(vm.MSTORE),
		byte(vm.PUSH1), 0x20, byte(vm.PUSH0), byte(vm.RETURN),
	}
	// Init: CODECOPY the runtime tail into memory and return it.
	offset := byte(12)
	initCode := append([]byte{
		byte(vm.PUSH1), byte(len(runtimeCode)),
		byte(vm.PUSH1), offset,
		byte(vm.PUSH0), byte(vm.CODECOPY),
		byte(vm.PUSH1), byte(len(runtimeCode)),
		byte(vm.PUSH0), byte(vm.RETURN),
		byte(vm.STOP), byte(vm.STOP),
	}, runtimeCode...)

	caller := common.HexToAddress("0xbCDF0E814b7c65B238E2815289aCc05D3B933624")

	ws := state.New()
	ws.NewAccount(caller, state.NewEOA(0, uint256.NewInt(1_000_000)))

	machine := vm.NewMachine(ws)
	contractAddr, err := machine.Deploy(initCode, caller, nil)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("deployed contract at", contractAddr.Hex())

	call := &vm.Frame{
		From:     caller,
		To:       &contractAddr,
		Caller:   caller,
		Address:  contractAddr,
		Type:     vm.CallTypeCall,
		CallData: hexutil.MustDecode(`0x000000000000000000000000000000000000000000000000000000000000002a`),
	}
	ret, reverted, err := machine.ExternalCall(call)
	if err != nil {
		log.Fatal(err)
	}

	log.Println("-----------------------------------------------------------")
	log.Println("reverted:", reverted)
	log.Println("returned:", hexutil.Encode(ret))
	log.Println("gas used:", machine.GasUsed())
}

// exampleSimulate runs the same little contract through the simulator
// against a mainnet fork endpoint.
func exampleSimulate() {
	code := []byte{
		byte(vm.PUSH0), byte(vm.CALLDATALOAD),
		byte(vm.PUSH0), byte(vm.SSTORE),
		byte(vm.PUSH0), byte(vm.SLOAD),
		byte(vm.PUSH0), byte(vm.MSTORE),
		byte(vm.PUSH1), 0x20, byte(vm.PUSH0), byte(vm.RETURN),
	}

	rpcEndpoint := "https://eth.llamarpc.com"

	rpcClt := rpc.NewClient(rpcEndpoint)
	sim, err := simulator.NewSimulator(rpcClt)
	if err != nil {
		log.Fatal(err)
	}

	simulation := simulator.Simulation{
		From:        common.HexToAddress("0x0000000000000000000000000000000000000000"),
		To:          common.HexToAddress("0x0000000000000000000000000000000000000011"),
		Code:        code,
		BlockNumber: big.NewInt(1),
		GasLimit:    300000,
		GasPrice:    big.NewInt(0),
		Value:       big.NewInt(0),
		Input:       hexutil.MustDecode(`0x0000000000000000000000000000000000000000000000000000000000000020`),
	}

	result, err := sim.Simulate(simulation, state.New(), nil)
	if err != nil {
		log.Fatal(err)
	}

	log.Println("-----------------------------------------------------------")
	log.Println(hexutil.Encode(result.ReturnedData))
	log.Println(result.GasUsed)

	for _, l := range result.Record.AccessList {
		log.Println("ADDRESS: ", l.Address.Hex())
		for _, st := range l.StorageKeys {
			log.Println(st.Hex())
		}
	}
}
