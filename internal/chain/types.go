package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// =============================================================================
// JSON-RPC Wire Types
// =============================================================================

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      int             `json:"id"`
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// isNotFoundError reports whether the node rejected a lookup because the
// entity is not known yet. Nodes answer this for transactions that have not
// been included in a block.
func isNotFoundError(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	if rpcErr.Code == -100 {
		return true
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "unknown transaction") || strings.Contains(msg, "not found")
}

// =============================================================================
// Invocation Types
// =============================================================================

// StackItem is one item of an invocation result stack.
type StackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// InvokeResult is the result of an invokefunction call.
type InvokeResult struct {
	Script      string      `json:"script"`
	State       string      `json:"state"`
	GasConsumed string      `json:"gasconsumed"`
	Exception   string      `json:"exception"`
	Stack       []StackItem `json:"stack"`
	Tx          string      `json:"tx"`
}

// ContractParam is a typed argument for a contract invocation.
type ContractParam struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// NewStringParam builds a String contract parameter.
func NewStringParam(value string) ContractParam {
	return ContractParam{Type: "String", Value: value}
}

// NewByteArrayParam builds a ByteArray contract parameter (hex encoded).
func NewByteArrayParam(value []byte) ContractParam {
	return ContractParam{Type: "ByteArray", Value: fmt.Sprintf("%x", value)}
}

// NewIntegerParam builds an Integer contract parameter.
func NewIntegerParam(value *big.Int) ContractParam {
	return ContractParam{Type: "Integer", Value: value.String()}
}

// NewHash160Param builds a Hash160 contract parameter from a little-endian
// script hash.
func NewHash160Param(scriptHash string) ContractParam {
	return ContractParam{Type: "Hash160", Value: scriptHash}
}

// TxResult bundles the broadcast result of a contract invocation.
type TxResult struct {
	TxHash  string
	VMState string
	AppLog  *ApplicationLog
}

// =============================================================================
// Execution Log Types
// =============================================================================

// ApplicationLog is the execution log of a transaction.
type ApplicationLog struct {
	TxID       string      `json:"txid"`
	Executions []Execution `json:"executions"`
}

// Execution is one execution entry of an application log.
type Execution struct {
	Trigger       string         `json:"trigger"`
	VMState       string         `json:"vmstate"`
	GasConsumed   string         `json:"gasconsumed"`
	Exception     string         `json:"exception"`
	Stack         []StackItem    `json:"stack"`
	Notifications []Notification `json:"notifications"`
}

// Notification is a contract notification raised during execution.
type Notification struct {
	Contract  string    `json:"contract"`
	EventName string    `json:"eventname"`
	State     StackItem `json:"state"`
}
