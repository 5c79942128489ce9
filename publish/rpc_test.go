package publish

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcHandler func(params []json.RawMessage) (any, error)

// fakeNode answers JSON-RPC over HTTP from per-method handlers, single or
// batched.
type fakeNode struct {
	t        *testing.T
	mu       sync.Mutex
	handlers map[string]rpcHandler
	calls    []string
	sent     []*types.Transaction
}

func newFakeNode(t *testing.T) (*fakeNode, string) {
	t.Helper()
	n := &fakeNode{t: t, handlers: map[string]rpcHandler{}}
	n.handle("eth_sendRawTransaction", func(params []json.RawMessage) (any, error) {
		var raw hexutil.Bytes
		if err := json.Unmarshal(params[0], &raw); err != nil {
			return nil, err
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, err
		}
		n.mu.Lock()
		n.sent = append(n.sent, tx)
		n.mu.Unlock()
		return tx.Hash(), nil
	})
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return n, srv.URL
}

func (n *fakeNode) handle(method string, h rpcHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

func (n *fakeNode) result(method string, v any) {
	n.handle(method, func([]json.RawMessage) (any, error) { return v, nil })
}

func (n *fakeNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var c int
	for _, m := range n.calls {
		if m == method {
			c++
		}
	}
	return c
}

func (n *fakeNode) sentTxs() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

func (n *fakeNode) serve(req rpcRequest) rpcResponse {
	n.mu.Lock()
	n.calls = append(n.calls, req.Method)
	h, ok := n.handlers[req.Method]
	n.mu.Unlock()

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if !ok {
		resp.Error = &rpcError{Code: -32601, Message: "method not found: " + req.Method}
		return resp
	}
	res, err := h(req.Params)
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
		return resp
	}
	resp.Result = res
	return resp
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var reqs []rpcRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([]rpcResponse, len(reqs))
		for i, req := range reqs {
			out[i] = n.serve(req)
		}
		_ = json.NewEncoder(w).Encode(out)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(n.serve(req))
}
