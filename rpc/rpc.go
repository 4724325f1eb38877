package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client is a minimal JSON-RPC client for the handful of eth_ methods the
// engine needs to back-fill world-state and replay historical transactions.
type Client struct {
	Endpoint string
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint}
}

// normalizeBlock turns a hex block number into a valid block tag, falling
// back to "latest" for empty or non-positive input.
func normalizeBlock(blk string) string {
	blkNumber, ok := new(big.Int).SetString(strings.TrimPrefix(blk, "0x"), 16)
	if !ok || blkNumber.Cmp(big.NewInt(0)) <= 0 {
		return "latest"
	}
	return blk
}

func (c *Client) GetCode(address, blk string) ([]byte, error) {
	params := []interface{}{
		address, normalizeBlock(blk),
	}

	rpcResp, err := rpcPost(c.Endpoint, "eth_getCode", params)
	if err != nil {
		return nil, err
	}

	var result string
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return nil, err
	}

	return hexutil.Decode(result)
}

func (c *Client) GetStorageAt(address, position, blk string) (common.Hash, error) {
	params := []interface{}{
		address, position, normalizeBlock(blk),
	}

	rpcResp, err := rpcPost(c.Endpoint, "eth_getStorageAt", params)
	if err != nil {
		return common.Hash{}, err
	}

	var result string
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return common.Hash{}, err
	}

	return common.HexToHash(result), nil
}

func (c *Client) GetCodeAndStorageAt(address, position, blk string) ([]byte, common.Hash, error) {
	// fetch code and storage
	code, err := c.GetCode(address, blk)
	if err != nil {
		return nil, common.Hash{}, err
	}

	storage, err := c.GetStorageAt(address, position, blk)
	if err != nil {
		return nil, common.Hash{}, err
	}

	return code, storage, nil
}

func (c *Client) GetBalance(address, blk string) (*big.Int, error) {
	params := []interface{}{
		address, normalizeBlock(blk),
	}

	rpcResp, err := rpcPost(c.Endpoint, "eth_getBalance", params)
	if err != nil {
		return nil, err
	}

	var result string
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return nil, err
	}

	balance, ok := new(big.Int).SetString(strings.TrimPrefix(result, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("invalid balance received in response: %s", result)
	}

	return balance, nil
}

// GetTransactionCount returns the nonce of address at the given block.
func (c *Client) GetTransactionCount(address, blk string) (uint64, error) {
	params := []interface{}{
		address, normalizeBlock(blk),
	}

	rpcResp, err := rpcPost(c.Endpoint, "eth_getTransactionCount", params)
	if err != nil {
		return 0, err
	}

	var result hexutil.Uint64
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return 0, err
	}

	return uint64(result), nil
}

// TransactionEnv is the envelope of a historical transaction, as needed to
// replay it: sender, target, value, calldata and the block coordinates.
type TransactionEnv struct {
	TxHash      common.Hash     `json:"hash"`
	Nonce       hexutil.Uint64  `json:"nonce"`
	BlockHash   common.Hash     `json:"blockHash"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	GasPrice    *hexutil.Big    `json:"gasPrice"`
	Gas         hexutil.Uint64  `json:"gas"`
	Calldata    hexutil.Bytes   `json:"input"`
	ChainID     *hexutil.Big    `json:"chainId"`
}

// GetTransactionByHash fetches the envelope of the transaction with the
// given hash.
func (c *Client) GetTransactionByHash(txHash string) (*TransactionEnv, error) {
	params := []interface{}{txHash}

	rpcResp, err := rpcPost(c.Endpoint, "eth_getTransactionByHash", params)
	if err != nil {
		return nil, err
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil, fmt.Errorf("transaction not found: %s", txHash)
	}

	var tx TransactionEnv
	if err := json.Unmarshal(rpcResp.Result, &tx); err != nil {
		return nil, err
	}

	return &tx, nil
}

// BlockEnv carries the header fields the engine exposes through the block
// context opcodes.
type BlockEnv struct {
	Hash       common.Hash    `json:"hash"`
	Coinbase   common.Address `json:"miner"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
	Number     *hexutil.Big   `json:"number"`
	Difficulty *hexutil.Big   `json:"difficulty"`
	PrevRandao common.Hash    `json:"mixHash"`
	GasLimit   hexutil.Uint64 `json:"gasLimit"`
	BaseFee    *hexutil.Big   `json:"baseFeePerGas"`
}

// GetBlockByNumber fetches the header of the given block, without its
// transaction bodies.
func (c *Client) GetBlockByNumber(blk string) (*BlockEnv, error) {
	params := []interface{}{normalizeBlock(blk), false}

	rpcResp, err := rpcPost(c.Endpoint, "eth_getBlockByNumber", params)
	if err != nil {
		return nil, err
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil, fmt.Errorf("block not found: %s", blk)
	}

	var header BlockEnv
	if err := json.Unmarshal(rpcResp.Result, &header); err != nil {
		return nil, err
	}

	return &header, nil
}

type RPCRequest struct {
	ID      int           `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type RPCResponse struct {
	ID      int             `json:"id"`
	JSONRpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Err     *ErrResponse    `json:"error,omitempty"`
}

type ErrResponse struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *ErrResponse) Error() string {
	return fmt.Sprintf(`{"code": "%d", "message": "%s"}`, e.Code, e.Message)
}

func rpcPost(rpcEndpoint, method string, params []interface{}) (*RPCResponse, error) {
	payload := RPCRequest{
		ID:      1,
		JSONRpc: "2.0",
		Method:  method,
		Params:  params,
	}

	data, err := json.Marshal(&payload)
	if err != nil {
		return nil, err
	}
	body := bytes.NewBuffer(data)

	resp, err := http.Post(rpcEndpoint, "application/json", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result RPCResponse
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}

	return &result, nil
}
