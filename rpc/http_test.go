package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"lendpool/ledger"
	"lendpool/pool"
	"lendpool/storage"
)

const testToken = "test-bearer-token"

func newTestServer(t *testing.T) (*httptest.Server, *pool.Engine, *ledger.Ledger) {
	t.Helper()
	db := storage.NewMemDB()
	led := ledger.New(db, "pool.op", "AIM")
	led.SetHoldSource(pool.StakeHolds{})
	engine := pool.NewEngine(db, led, pool.Config{
		Operator:              "pool.op",
		Escrow:                "escrow.pool",
		FeeBps:                50,
		MainPool:              "mainpool",
		MainPoolRewardAccount: "mainpool.rwd",
		MainPoolRewardBps:     10,
		CollateralFloor:       big.NewInt(1_000_000),
		LockCoefficient:       57_000,
	})

	op := ledger.NewIdentity("pool.op")
	if err := led.Create(op, "pool.op", big.NewInt(1_000_000_000_000)); err != nil {
		t.Fatalf("create token: %v", err)
	}
	if err := led.Issue(op, "pool.op", big.NewInt(100_000_000_000), "seed"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	accounts := []string{
		"escrow.pool", "mainpool", "mainpool.rwd",
		"alpha.pool", "alpha.col", "alpha.rwd",
		"alice", "bob", "hotel",
	}
	for _, account := range accounts {
		if err := led.Open(account); err != nil {
			t.Fatalf("open %s: %v", account, err)
		}
	}
	for account, amount := range map[string]int64{
		"mainpool":  10_000_000,
		"alpha.col": 10_000_000,
		"bob":       1_000_000,
		"hotel":     100_000,
	} {
		if err := led.Transfer(op, "pool.op", account, big.NewInt(amount), "seed"); err != nil {
			t.Fatalf("fund %s: %v", account, err)
		}
	}
	if err := engine.InitMainPool(op); err != nil {
		t.Fatalf("init main pool: %v", err)
	}

	srv := httptest.NewServer(NewServer(engine, led, testToken, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, engine, led
}

func rpcCall(t *testing.T, srv *httptest.Server, token, method string, params interface{}) (*http.Response, RPCResponse) {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("call %s: %v", method, err)
	}
	defer resp.Body.Close()

	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response for %s: %v", method, err)
	}
	return resp, decoded
}

func mustResult(t *testing.T, srv *httptest.Server, method string, params interface{}, out interface{}) {
	t.Helper()
	_, decoded := rpcCall(t, srv, testToken, method, params)
	if decoded.Error != nil {
		t.Fatalf("%s failed: %+v", method, decoded.Error)
	}
	if out == nil {
		return
	}
	raw, err := json.Marshal(decoded.Result)
	if err != nil {
		t.Fatalf("remarshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result for %s: %v", method, err)
	}
}

func TestMutatingMethodsRequireBearerToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, decoded := rpcCall(t, srv, "", "lendpool_sweepLocks", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if decoded.Error == nil || decoded.Error.Code != codeUnauthorized {
		t.Fatalf("error = %+v, want code %d", decoded.Error, codeUnauthorized)
	}

	resp, decoded = rpcCall(t, srv, "wrong-token", "lendpool_sweepLocks", nil)
	if resp.StatusCode != http.StatusUnauthorized || decoded.Error == nil {
		t.Fatalf("wrong token: status=%d error=%+v", resp.StatusCode, decoded.Error)
	}

	// Queries are open.
	resp, decoded = rpcCall(t, srv, "", "lendpool_listPools", nil)
	if resp.StatusCode != http.StatusOK || decoded.Error != nil {
		t.Fatalf("open query: status=%d error=%+v", resp.StatusCode, decoded.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, decoded := rpcCall(t, srv, testToken, "lendpool_noSuchMethod", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if decoded.Error == nil || decoded.Error.Code != codeMethodNotFound {
		t.Fatalf("error = %+v, want code %d", decoded.Error, codeMethodNotFound)
	}
}

func TestMalformedRequests(t *testing.T) {
	srv, _, _ := newTestServer(t)

	post := func(body string) RPCResponse {
		t.Helper()
		resp, err := srv.Client().Post(srv.URL, "application/json", bytes.NewReader([]byte(body)))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		var decoded RPCResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return decoded
	}

	if decoded := post("{not json"); decoded.Error == nil || decoded.Error.Code != codeParseError {
		t.Fatalf("bad JSON: error = %+v", decoded.Error)
	}
	if decoded := post("  "); decoded.Error == nil || decoded.Error.Code != codeInvalidRequest {
		t.Fatalf("empty body: error = %+v", decoded.Error)
	}
	if decoded := post(`{"jsonrpc":"1.0","method":"lendpool_listPools","id":1}`); decoded.Error == nil || decoded.Error.Code != codeInvalidRequest {
		t.Fatalf("bad version: error = %+v", decoded.Error)
	}
	if decoded := post(`{"jsonrpc":"2.0","id":1}`); decoded.Error == nil || decoded.Error.Code != codeInvalidRequest {
		t.Fatalf("missing method: error = %+v", decoded.Error)
	}
}

func TestParamValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Unknown fields are rejected.
	_, decoded := rpcCall(t, srv, testToken, "lendpool_getPool", map[string]interface{}{
		"pool": "alpha.pool", "bogus": true,
	})
	if decoded.Error == nil || decoded.Error.Code != codeInvalidParams {
		t.Fatalf("unknown field: error = %+v", decoded.Error)
	}

	// Amounts must carry the ledger's symbol and precision.
	_, decoded = rpcCall(t, srv, testToken, "lendpool_requestService", map[string]interface{}{
		"tid": 1, "requester": "hotel", "amount": "10.00 EUR",
	})
	if decoded.Error == nil || decoded.Error.Code != codeInvalidParams {
		t.Fatalf("bad amount: error = %+v", decoded.Error)
	}
}

func TestPoolLifecycleOverRPC(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var created struct {
		ID uint64 `json:"id"`
	}
	mustResult(t, srv, "lendpool_createPool", map[string]interface{}{
		"name":              "alpha.pool",
		"owner":             "alice",
		"collateralAccount": "alpha.col",
		"rewardAccount":     "alpha.rwd",
		"rewardBps":         200,
		"ownerShareBps":     4000,
		"holderShareBps":    6000,
		"collateral":        "1000.0000 AIM",
	}, &created)
	if created.ID != 1 {
		t.Fatalf("created pool id = %d, want 1", created.ID)
	}

	// Creating the same pool again maps onto the rejected error code.
	_, decoded := rpcCall(t, srv, testToken, "lendpool_createPool", map[string]interface{}{
		"name":              "alpha.pool",
		"owner":             "alice",
		"collateralAccount": "alpha.col",
		"rewardAccount":     "alpha.rwd",
		"rewardBps":         200,
		"ownerShareBps":     4000,
		"holderShareBps":    6000,
		"collateral":        "1000.0000 AIM",
	})
	if decoded.Error == nil || decoded.Error.Code != codeRejected {
		t.Fatalf("duplicate pool: error = %+v, want code %d", decoded.Error, codeRejected)
	}

	mustResult(t, srv, "lendpool_joinPool", map[string]interface{}{
		"pool": "alpha.pool", "holder": "bob", "tokens": "100.0000 AIM",
	}, nil)

	var got poolResult
	mustResult(t, srv, "lendpool_getPool", map[string]interface{}{"pool": "alpha.pool"}, &got)
	if got.Name != "alpha.pool" || got.Total != "100.0000 AIM" || !got.Active {
		t.Fatalf("pool result = %+v", got)
	}
	if got.Collateral != "1000.0000 AIM" {
		t.Fatalf("collateral = %q, want 1000.0000 AIM", got.Collateral)
	}

	var holder holderResult
	mustResult(t, srv, "lendpool_getHolder", map[string]interface{}{
		"pool": "alpha.pool", "holder": "bob",
	}, &holder)
	if holder.Remaining != "100.0000 AIM" {
		t.Fatalf("holder remaining = %q", holder.Remaining)
	}

	// Unknown records map onto the not-found error code.
	_, decoded = rpcCall(t, srv, testToken, "lendpool_getPool", map[string]interface{}{"pool": "ghost.pool"})
	if decoded.Error == nil || decoded.Error.Code != codeNotFound {
		t.Fatalf("missing pool: error = %+v, want code %d", decoded.Error, codeNotFound)
	}
}

func TestServiceRequestOverRPC(t *testing.T) {
	srv, _, _ := newTestServer(t)

	mustResult(t, srv, "lendpool_createPool", map[string]interface{}{
		"name":              "alpha.pool",
		"owner":             "alice",
		"collateralAccount": "alpha.col",
		"rewardAccount":     "alpha.rwd",
		"rewardBps":         200,
		"ownerShareBps":     4000,
		"holderShareBps":    6000,
		"collateral":        "1000.0000 AIM",
	}, nil)
	mustResult(t, srv, "lendpool_joinPool", map[string]interface{}{
		"pool": "alpha.pool", "holder": "bob", "tokens": "100.0000 AIM",
	}, nil)

	mustResult(t, srv, "lendpool_requestService", map[string]interface{}{
		"tid": 1, "requester": "hotel", "amount": "50.0000 AIM",
	}, nil)

	var request requestResult
	mustResult(t, srv, "lendpool_getRequest", map[string]interface{}{"tid": 1}, &request)
	if !request.FeePaid || !request.ServiceProvided {
		t.Fatalf("request not settled: %+v", request)
	}
	if request.Total != "50.0000 AIM" || request.Fee != "0.2500 AIM" || request.Reward != "1.0000 AIM" {
		t.Fatalf("request amounts = %+v", request)
	}

	var locks locksResult
	mustResult(t, srv, "lendpool_listLocks", nil, &locks)
	if len(locks.PoolLocks) != 1 || len(locks.HolderLocks) != 1 {
		t.Fatalf("locks = %d/%d, want 1/1", len(locks.PoolLocks), len(locks.HolderLocks))
	}
	if locks.PoolLocks[0].Tokens != "50.0000 AIM" {
		t.Fatalf("pool lock tokens = %q", locks.PoolLocks[0].Tokens)
	}

	var balance struct {
		Account string `json:"account"`
		Balance string `json:"balance"`
	}
	mustResult(t, srv, "ledger_getBalance", map[string]interface{}{"account": "hotel"}, &balance)
	// 10.0000 funded, minus the 0.2500 fee and 1.0000 reward.
	if balance.Balance != "8.7500 AIM" {
		t.Fatalf("hotel balance = %q, want 8.7500 AIM", balance.Balance)
	}

	// Replay of a settled leg maps onto the rejected code.
	_, decoded := rpcCall(t, srv, testToken, "lendpool_collectFee", map[string]interface{}{"tid": 1})
	if decoded.Error == nil || decoded.Error.Code != codeRejected {
		t.Fatalf("replayed collect: error = %+v, want code %d", decoded.Error, codeRejected)
	}

	var swept sweepResult
	mustResult(t, srv, "lendpool_sweepLocks", nil, &swept)
	if swept.PoolLocksReleased != 0 || swept.HolderLocksReleased != 0 {
		t.Fatalf("sweep before expiry released %+v", swept)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("content type = %q", contentType)
	}
}
