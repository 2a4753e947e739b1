package http_test

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	forwarder "github.com/forwarder-foundation/forwarder/go"
	"github.com/forwarder-foundation/forwarder/go/chain"
	relayhttp "github.com/forwarder-foundation/forwarder/go/http"
	"github.com/forwarder-foundation/forwarder/go/signers/evm"
	"github.com/forwarder-foundation/forwarder/go/test/mocks/recipient"
)

const relayTestKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	relayFwdAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	relayTargetAddr = common.HexToAddress("0x00000000000000000000000000000000000000d0")
)

type relayEnv struct {
	router *gin.Engine
	fwd    *forwarder.Forwarder
	signer *evm.Signer
	target *recipient.Contract
}

func newRelayEnv(t *testing.T) *relayEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ledger := chain.NewLedger()
	fwd, err := forwarder.New(ledger, relayFwdAddr, "Forwarder", big.NewInt(1337))
	if err != nil {
		t.Fatalf("failed to create forwarder: %v", err)
	}
	signer, err := evm.NewSignerFromPrivateKey(relayTestKey)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	target := recipient.Deploy(ledger, relayTargetAddr, relayFwdAddr)

	router := gin.New()
	relayhttp.NewRelayService(fwd).Register(router)
	return &relayEnv{router: router, fwd: fwd, signer: signer, target: target}
}

func (e *relayEnv) signedEntry(t *testing.T, nonce uint64, to common.Address) relayhttp.ExecuteJSON {
	t.Helper()
	req := &forwarder.ForwardRequest{From: e.signer.Address(), To: to, Nonce: nonce}
	sig, err := e.signer.SignRequest(e.fwd.Domain(), req)
	if err != nil {
		t.Fatalf("failed to sign request: %v", err)
	}
	return relayhttp.ExecuteJSON{
		Request: relayhttp.RequestJSON{
			From:  req.From.Hex(),
			To:    req.To.Hex(),
			Nonce: req.Nonce,
		},
		Signature: "0x" + common.Bytes2Hex(sig),
	}
}

func (e *relayEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) relayhttp.ResultJSON {
	t.Helper()
	var result relayhttp.ResultJSON
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return result
}

func TestGetNonce(t *testing.T) {
	t.Run("Unseen originator reports zero", func(t *testing.T) {
		e := newRelayEnv(t)
		req := httptest.NewRequest(http.MethodGet, "/nonce/"+e.signer.Address().Hex(), nil)
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status is %d, want 200: %s", w.Code, w.Body.String())
		}
		var body struct {
			Address string `json:"address"`
			Nonce   uint64 `json:"nonce"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if body.Nonce != 0 {
			t.Errorf("nonce is %d, want 0", body.Nonce)
		}
		if body.Address != e.signer.Address().Hex() {
			t.Errorf("address is %s, want %s", body.Address, e.signer.Address().Hex())
		}
	})

	t.Run("Rejects malformed addresses", func(t *testing.T) {
		e := newRelayEnv(t)
		req := httptest.NewRequest(http.MethodGet, "/nonce/nothex", nil)
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status is %d, want 400", w.Code)
		}
	})
}

func TestVerifyEndpoint(t *testing.T) {
	t.Run("Accepts a well-signed fresh request", func(t *testing.T) {
		e := newRelayEnv(t)
		w := e.post(t, "/verify", e.signedEntry(t, 0, relayTargetAddr))
		if w.Code != http.StatusOK {
			t.Fatalf("status is %d, want 200: %s", w.Code, w.Body.String())
		}
		result := decodeResult(t, w)
		if !result.Success || result.RequestID == "" {
			t.Errorf("unexpected result %+v", result)
		}
		// Verification never admits: the nonce is untouched.
		if got := e.fwd.GetNonce(e.signer.Address()); got != 0 {
			t.Errorf("nonce is %d, want 0", got)
		}
	})

	t.Run("Reports stale nonces as unauthorized", func(t *testing.T) {
		e := newRelayEnv(t)
		w := e.post(t, "/verify", e.signedEntry(t, 9, relayTargetAddr))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status is %d, want 401: %s", w.Code, w.Body.String())
		}
		if result := decodeResult(t, w); result.Code != forwarder.ErrCodeInvalidNonce {
			t.Errorf("code is %q, want %q", result.Code, forwarder.ErrCodeInvalidNonce)
		}
	})

	t.Run("Reports tampered signatures as unauthorized", func(t *testing.T) {
		e := newRelayEnv(t)
		entry := e.signedEntry(t, 0, relayTargetAddr)
		entry.Request.Data = "0xff"
		w := e.post(t, "/verify", entry)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status is %d, want 401: %s", w.Code, w.Body.String())
		}
		if result := decodeResult(t, w); result.Code != forwarder.ErrCodeInvalidSignature {
			t.Errorf("code is %q, want %q", result.Code, forwarder.ErrCodeInvalidSignature)
		}
	})
}

func TestExecuteEndpoint(t *testing.T) {
	t.Run("Executes a signed request", func(t *testing.T) {
		e := newRelayEnv(t)
		w := e.post(t, "/execute", e.signedEntry(t, 0, relayTargetAddr))
		if w.Code != http.StatusOK {
			t.Fatalf("status is %d, want 200: %s", w.Code, w.Body.String())
		}
		result := decodeResult(t, w)
		if !result.Success {
			t.Fatalf("unexpected result %+v", result)
		}
		if got := e.fwd.GetNonce(e.signer.Address()); got != 1 {
			t.Errorf("nonce is %d, want 1", got)
		}
	})

	t.Run("Reports reverted executions as bad gateway", func(t *testing.T) {
		e := newRelayEnv(t)
		e.target.FailWith = "not today"
		w := e.post(t, "/execute", e.signedEntry(t, 0, relayTargetAddr))
		if w.Code != http.StatusBadGateway {
			t.Fatalf("status is %d, want 502: %s", w.Code, w.Body.String())
		}
		result := decodeResult(t, w)
		if result.Code != forwarder.ErrCodeExecutionReverted {
			t.Errorf("code is %q, want %q", result.Code, forwarder.ErrCodeExecutionReverted)
		}
		if result.Error != "not today" {
			t.Errorf("error is %q, want the revert reason", result.Error)
		}
	})

	t.Run("Rejects bodies that fail schema validation", func(t *testing.T) {
		e := newRelayEnv(t)
		w := e.post(t, "/execute", map[string]any{"request": map[string]any{"from": "0x1"}})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status is %d, want 400: %s", w.Code, w.Body.String())
		}
		if result := decodeResult(t, w); result.Code != forwarder.ErrCodeMalformedRequest {
			t.Errorf("code is %q, want %q", result.Code, forwarder.ErrCodeMalformedRequest)
		}
	})

	t.Run("Rejects non-decimal values", func(t *testing.T) {
		e := newRelayEnv(t)
		entry := e.signedEntry(t, 0, relayTargetAddr)
		entry.Request.Value = "0x10"
		w := e.post(t, "/execute", entry)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status is %d, want 400: %s", w.Code, w.Body.String())
		}
	})
}

func TestBatchEndpoint(t *testing.T) {
	t.Run("Continue mode reports per-entry outcomes", func(t *testing.T) {
		e := newRelayEnv(t)
		e.target.FailWith = "not today"

		second, err := evm.NewSignerFromPrivateKey("0x8b3a350cf5c34c9194ca85829a2df0ec3153be0318b5e2d3348e872092edffba")
		if err != nil {
			t.Fatalf("failed to create signer: %v", err)
		}
		okReq := &forwarder.ForwardRequest{From: second.Address(), To: common.Address{}, Nonce: 0}
		okSig, err := second.SignRequest(e.fwd.Domain(), okReq)
		if err != nil {
			t.Fatalf("failed to sign request: %v", err)
		}

		body := relayhttp.BatchJSON{
			Entries: []relayhttp.ExecuteJSON{
				e.signedEntry(t, 0, relayTargetAddr),
				{
					Request: relayhttp.RequestJSON{
						From:  okReq.From.Hex(),
						To:    okReq.To.Hex(),
						Nonce: okReq.Nonce,
					},
					Signature: "0x" + common.Bytes2Hex(okSig),
				},
			},
		}
		w := e.post(t, "/batch", body)
		if w.Code != http.StatusOK {
			t.Fatalf("status is %d, want 200: %s", w.Code, w.Body.String())
		}
		var result relayhttp.BatchResultJSON
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(result.Results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(result.Results))
		}
		if result.Results[0].Success || result.Results[0].Reason != "not today" {
			t.Errorf("unexpected entry 0 result %+v", result.Results[0])
		}
		if !result.Results[1].Success {
			t.Errorf("unexpected entry 1 result %+v", result.Results[1])
		}
	})

	t.Run("Fail-fast failure reports batch aborted", func(t *testing.T) {
		e := newRelayEnv(t)
		e.target.FailWith = "not today"
		body := relayhttp.BatchJSON{
			Entries:  []relayhttp.ExecuteJSON{e.signedEntry(t, 0, relayTargetAddr)},
			FailFast: true,
		}
		w := e.post(t, "/batch", body)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("status is %d, want 502: %s", w.Code, w.Body.String())
		}
		var result relayhttp.BatchResultJSON
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if result.Code != forwarder.ErrCodeBatchAborted {
			t.Errorf("code is %q, want %q", result.Code, forwarder.ErrCodeBatchAborted)
		}
		if got := e.fwd.GetNonce(e.signer.Address()); got != 0 {
			t.Errorf("nonce is %d, want 0", got)
		}
	})

	t.Run("Rejects a malformed entry before executing anything", func(t *testing.T) {
		e := newRelayEnv(t)
		body := relayhttp.BatchJSON{
			Entries: []relayhttp.ExecuteJSON{
				e.signedEntry(t, 0, relayTargetAddr),
				{Request: relayhttp.RequestJSON{From: "bogus", To: relayTargetAddr.Hex()}, Signature: "0x00"},
			},
		}
		w := e.post(t, "/batch", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status is %d, want 400: %s", w.Code, w.Body.String())
		}
		if got := e.fwd.GetNonce(e.signer.Address()); got != 0 {
			t.Errorf("nonce is %d, want 0", got)
		}
	})
}
