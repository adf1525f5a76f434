package ethereum

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/tarancss/tokenmon/lib/block/types"
)

// addresses used by the mock node
const (
	tokenAddr  = "0xC18360217D8F7Ab5e7c516566761Ea12Ce7F9D72"
	walletAddr = "0x357dd3856d856197c1a000bbAb4aBCB97Dfc92c4"
	poolAddr   = "0xa1181481bEb2dc5De0DaF2c85392d81C704BF75D"
	quoterAddr = "0xb27308f9F90D607463bb33eA1BeBb41C27CE5AB6"
	usdcAddr   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	brokenAddr = "0x000000000000000000000000000000000000dEaD"
	revertAddr = "0x000000000000000000000000000000000000bEEF"
	emptyAddr  = "0x000000000000000000000000000000000000cafe"
)

// mockReply is what the mock node answers to an eth_call on a contract/method.
type mockReply struct {
	vals   []interface{} // values packed with the method outputs
	raw    string        // raw hex result, used when vals is nil
	revert bool
}

// mockNode is a JSON-RPC server answering eth_call by contract and method selector.
type mockNode struct {
	l       sync.Mutex
	replies map[string]mockReply // key is lower(to)+"."+method
	calls   map[string][]interface{}
}

type mockRequest struct {
	Version string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type mockResponse struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   interface{}     `json:"error,omitempty"`
}

type mockError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (m *mockNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req mockRequest

	res := mockResponse{Version: "2.0"}

	defer func() {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	}()

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		res.Error = mockError{Code: -32700, Message: err.Error()}

		return
	}

	res.ID = req.ID

	if req.Method != "eth_call" || len(req.Params) == 0 {
		res.Error = mockError{Code: -32601, Message: "method not found"}

		return
	}

	var call map[string]string
	if err := json.Unmarshal(req.Params[0], &call); err != nil {
		res.Error = mockError{Code: -32602, Message: err.Error()}

		return
	}

	input := call["data"]
	if input == "" {
		input = call["input"]
	}

	data, err := hexutil.Decode(input)
	if err != nil || len(data) < 4 {
		res.Error = mockError{Code: -32602, Message: "bad call data"}

		return
	}

	var method *abi.Method

	for _, def := range []abi.ABI{erc20ABI, pairABI, quoterABI} {
		if method, err = def.MethodById(data[:4]); err == nil {
			break
		}
	}

	if method == nil {
		res.Error = mockError{Code: 3, Message: "execution reverted"}

		return
	}

	args, _ := method.Inputs.Unpack(data[4:])
	key := strings.ToLower(call["to"]) + "." + method.Name

	m.l.Lock()
	m.calls[key] = args
	reply, ok := m.replies[key]
	m.l.Unlock()

	switch {
	case !ok || reply.revert:
		res.Error = mockError{Code: 3, Message: "execution reverted"}
	case reply.vals != nil:
		out, errPack := method.Outputs.Pack(reply.vals...)
		if errPack != nil {
			res.Error = mockError{Code: -32603, Message: errPack.Error()}

			return
		}

		res.Result = hexutil.Encode(out)
	default:
		res.Result = reply.raw
	}
}

func key(to, method string) string {
	return strings.ToLower(to) + "." + method
}

func newMock() *mockNode {
	return &mockNode{
		replies: map[string]mockReply{
			key(tokenAddr, "name"):                   {vals: []interface{}{"Ethereum Name Service"}},
			key(tokenAddr, "decimals"):               {vals: []interface{}{uint8(18)}},
			key(tokenAddr, "balanceOf"):              {vals: []interface{}{pow10(5, 18)}},
			key(poolAddr, "getReserves"):             {vals: []interface{}{pow10(1000000, 6), pow10(500, 18), uint32(1700000000)}},
			key(quoterAddr, "quoteExactInputSingle"): {vals: []interface{}{pow10(3000, 6)}},
			key(brokenAddr, "decimals"):              {raw: "0x01"},
			key(emptyAddr, "name"):                   {raw: "0x"},
			key(revertAddr, "name"):                  {revert: true},
		},
		calls: make(map[string][]interface{}),
	}
}

// pow10 returns n * 10^exp.
func pow10(n int64, exp int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil))
}

// TestEthereum runs every read-only call against the mock node.
func TestEthereum(t *testing.T) {
	node := newMock()
	srv := httptest.NewServer(node)
	t.Logf("Info: running tests against mock blockchain in %s", srv.URL)

	defer srv.Close()

	e, err := Init(srv.URL, "")
	if err != nil {
		t.Fatalf("Init err:%v", err)
	}
	defer e.Close()

	if e.Node() != srv.URL {
		t.Errorf("Node is %s, expected %s", e.Node(), srv.URL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name, err := e.Name(ctx, tokenAddr)
	if err != nil || name != "Ethereum Name Service" {
		t.Errorf("Name:%s err:%v", name, err)
	}

	dec, err := e.Decimals(ctx, tokenAddr)
	if err != nil || dec != 18 {
		t.Errorf("Decimals:%d err:%v", dec, err)
	}

	bal, err := e.BalanceOf(ctx, tokenAddr, walletAddr)
	if err != nil || bal.Cmp(pow10(5, 18)) != 0 {
		t.Errorf("BalanceOf:%v err:%v", bal, err)
	}

	r0, r1, err := e.V2Reserves(ctx, poolAddr)
	if err != nil || r0.Cmp(pow10(1000000, 6)) != 0 || r1.Cmp(pow10(500, 18)) != 0 {
		t.Errorf("V2Reserves:%v %v err:%v", r0, r1, err)
	}

	out, err := e.V3Quote(ctx, quoterAddr, tokenAddr, usdcAddr, 3000, pow10(1, 18))
	if err != nil || out.Cmp(pow10(3000, 6)) != 0 {
		t.Errorf("V3Quote:%v err:%v", out, err)
	}

	// check the quote arguments reached the node
	node.l.Lock()
	args := node.calls[key(quoterAddr, "quoteExactInputSingle")]
	node.l.Unlock()

	if len(args) != 5 || args[2].(*big.Int).Int64() != 3000 || args[3].(*big.Int).Cmp(pow10(1, 18)) != 0 ||
		args[4].(*big.Int).Sign() != 0 {
		t.Errorf("quoteExactInputSingle args:%v", args)
	}
}

// TestEthereumErrors checks every failure is classed as a provider or parse failure.
func TestEthereumErrors(t *testing.T) {
	srv := httptest.NewServer(newMock())
	defer srv.Close()

	e, err := Init(srv.URL, "user:secret")
	if err != nil {
		t.Fatalf("Init err:%v", err)
	}
	defer e.Close()

	// a node that is not listening anymore
	gone := httptest.NewServer(http.NotFoundHandler())
	gone.Close()

	down, err := Init(gone.URL, "")
	if err != nil {
		t.Fatalf("Init err:%v", err)
	}
	defer down.Close()

	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
		exp  error
	}{
		{"revert", func() error { _, err := e.Name(ctx, revertAddr); return err }, types.ErrProvider},
		{"unknownMethod", func() error { _, _, err := e.V2Reserves(ctx, tokenAddr); return err }, types.ErrProvider},
		{"shortResult", func() error { _, err := e.Decimals(ctx, brokenAddr); return err }, types.ErrParse},
		{"emptyResult", func() error { _, err := e.Name(ctx, emptyAddr); return err }, types.ErrParse},
		{"badToken", func() error { _, err := e.Name(ctx, "0x1234"); return err }, types.ErrParse},
		{"badWallet", func() error { _, err := e.BalanceOf(ctx, tokenAddr, "nope"); return err }, types.ErrParse},
		{"bigFee", func() error {
			_, err := e.V3Quote(ctx, quoterAddr, tokenAddr, usdcAddr, 1<<24, big.NewInt(1))
			return err
		}, types.ErrOverflow},
		{"nodeDown", func() error { _, err := down.Decimals(ctx, tokenAddr); return err }, types.ErrProvider},
	}

	for _, c := range cases {
		if err := c.call(); !errors.Is(err, c.exp) {
			t.Errorf("[%s] err:%v expected:%v", c.name, err, c.exp)
		}
	}
}

// TestEthereumTimeout checks a context deadline bounds a call to a node that never answers.
func TestEthereumTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))

	defer srv.Close()
	defer close(release)

	e, err := Init(srv.URL, "")
	if err != nil {
		t.Fatalf("Init err:%v", err)
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()

	if _, err = e.Decimals(ctx, tokenAddr); !errors.Is(err, types.ErrProvider) {
		t.Errorf("err:%v expected:%v", err, types.ErrProvider)
	}

	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("call took %s, expected to be bounded by the context", d)
	}
}
