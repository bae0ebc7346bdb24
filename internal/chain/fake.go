package chain

import (
	"context"
	"fmt"
	"sync"
)

// FakeGateway is an in-memory Gateway used by unit tests across the core
// packages (spec §9 "Testing uses in-memory fakes"). It lets tests script
// deterministic responses per function name and force a divergent on-chain
// state for reconciliation scenarios.
type FakeGateway struct {
	mu sync.Mutex

	nextHash    int
	nextHeight  int64
	results     map[string]InvokeResult // keyed by functionName, overrides default success
	errs        map[string]error        // keyed by functionName
	txStatus    map[string]TxStatus      // keyed by hash
	blockHeight map[string]int64         // keyed by hash, set once a hash lands TxSuccess
	state       map[string][]byte        // keyed by contractID+":"+queryFn

	invocations []Invocation
}

// Invocation records a single Invoke call for test assertions.
type Invocation struct {
	ContractID   string
	FunctionName string
	ArgsJSON     []byte
}

// NewFakeGateway constructs an empty FakeGateway.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		results:     map[string]InvokeResult{},
		errs:        map[string]error{},
		txStatus:    map[string]TxStatus{},
		blockHeight: map[string]int64{},
		state:       map[string][]byte{},
	}
}

// SetError forces the next Invoke call for the given function name to fail
// with err. GetTxStatus and GetContractState do not consult it.
func (f *FakeGateway) SetError(functionName string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[functionName] = err
}

// SetContractState seeds the value returned by GetContractState for a given
// contract/query pair, used to simulate on-chain divergence in reconciler
// tests (spec S6).
func (f *FakeGateway) SetContractState(contractID, queryFn string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[contractID+":"+queryFn] = value
}

// Invocations returns the recorded calls in order, for asserting
// single-execution (spec I-2/I-5 style properties).
func (f *FakeGateway) Invocations() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Invocation, len(f.invocations))
	copy(out, f.invocations)
	return out
}

func (f *FakeGateway) Invoke(_ context.Context, contractID, functionName string, argsJSON []byte, _ string) (InvokeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.invocations = append(f.invocations, Invocation{ContractID: contractID, FunctionName: functionName, ArgsJSON: argsJSON})

	if err, ok := f.errs[functionName]; ok {
		delete(f.errs, functionName)
		return InvokeResult{}, err
	}
	if res, ok := f.results[functionName]; ok {
		return res, nil
	}
	f.nextHash++
	hash := fmt.Sprintf("0xfake%d", f.nextHash)
	f.txStatus[hash] = TxSuccess
	f.nextHeight++
	f.blockHeight[hash] = f.nextHeight
	return InvokeResult{Hash: hash, Status: TxSuccess}, nil
}

func (f *FakeGateway) GetTxStatus(_ context.Context, hash string) (TxStatus, *int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.txStatus[hash]
	if !ok {
		return TxFailed, nil, fmt.Errorf("chain: unknown tx hash %q", hash)
	}
	if status != TxSuccess {
		return status, nil, nil
	}
	height := f.blockHeight[hash]
	return status, &height, nil
}

func (f *FakeGateway) GetContractState(_ context.Context, contractID, queryFn string, _ []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.state[contractID+":"+queryFn]; ok {
		return v, nil
	}
	return nil, nil
}
