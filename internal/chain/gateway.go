// Package chain defines the ChainGateway collaborator contract (spec §6.3).
// The core never talks to a real chain-RPC client directly; it depends only
// on this interface, grounded on the teacher's services/otc-gateway/swaprpc
// client but narrowed to the three primitives the spec names.
package chain

import "context"

// TxStatus mirrors the tri-state lifecycle of an on-chain transaction
// (spec §3 ChainSyncRecord.tx_status).
type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
)

// InvokeResult is returned by Invoke for a submitted contract call.
type InvokeResult struct {
	Hash   string
	Status TxStatus
	Err    string
}

// Gateway is the black-box chain collaborator described in spec §6.3. A real
// implementation owns simulation, signing, submission, polling, and event
// decoding; the core treats it only through this contract.
type Gateway interface {
	// Invoke submits a named contract function call and returns its initial
	// status. signerSecret is opaque to the core; it is forwarded verbatim.
	Invoke(ctx context.Context, contractID, functionName string, argsJSON []byte, signerSecret string) (InvokeResult, error)

	// GetTxStatus polls the current status of a previously submitted tx. The
	// returned block height is non-nil only once status is TxSuccess.
	GetTxStatus(ctx context.Context, hash string) (TxStatus, *int64, error)

	// GetContractState performs a read-only query against contract state.
	GetContractState(ctx context.Context, contractID, queryFn string, argsJSON []byte) ([]byte, error)
}
