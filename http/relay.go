// Package http exposes the forwarding gateway as a JSON relay API. A relay
// accepts signed requests over HTTP, submits them to the forwarder, and
// reports outcomes; it is the surface an off-chain client resubmits through
// after a nonce or signature failure.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	forwarder "github.com/forwarder-foundation/forwarder/go"
)

// RequestJSON is the wire form of a ForwardRequest.
type RequestJSON struct {
	From  string `json:"from"`            // originator address (hex)
	To    string `json:"to"`              // target address (hex)
	Value string `json:"value,omitempty"` // amount as decimal string
	Nonce uint64 `json:"nonce"`
	Data  string `json:"data,omitempty"` // payload bytes (hex)
}

// ExecuteJSON is the body of POST /execute and POST /verify, and the entry
// shape of POST /batch.
type ExecuteJSON struct {
	Request   RequestJSON `json:"request"`
	Signature string      `json:"signature"` // hex
}

// BatchJSON is the body of POST /batch.
type BatchJSON struct {
	Entries  []ExecuteJSON `json:"entries"`
	FailFast bool          `json:"failFast"`
}

// ResultJSON is the relay's response envelope.
type ResultJSON struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Output    string `json:"output,omitempty"` // hex
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// BatchResultJSON is the response of POST /batch in continue mode.
type BatchResultJSON struct {
	RequestID string      `json:"requestId"`
	Success   bool        `json:"success"`
	Results   []EntryJSON `json:"results,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
}

// EntryJSON reports one batch entry's outcome.
type EntryJSON struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// RelayService serves the forwarding gateway over HTTP.
type RelayService struct {
	fwd *forwarder.Forwarder
}

// NewRelayService creates a relay around a forwarder.
func NewRelayService(fwd *forwarder.Forwarder) *RelayService {
	return &RelayService{fwd: fwd}
}

// Register mounts the relay routes on a gin router.
func (s *RelayService) Register(r gin.IRouter) {
	r.GET("/nonce/:address", s.handleGetNonce)
	r.POST("/verify", s.handleVerify)
	r.POST("/execute", s.handleExecute)
	r.POST("/batch", s.handleBatch)
}

func (s *RelayService) handleGetNonce(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": common.HexToAddress(address).Hex(),
		"nonce":   s.fwd.GetNonce(common.HexToAddress(address)),
	})
}

func (s *RelayService) handleVerify(c *gin.Context) {
	requestID := uuid.NewString()
	req, sig, ok := s.decodeExecuteBody(c, requestID)
	if !ok {
		return
	}
	if err := s.fwd.Verify(req, sig); err != nil {
		writeForwardError(c, requestID, err)
		return
	}
	c.JSON(http.StatusOK, ResultJSON{RequestID: requestID, Success: true})
}

func (s *RelayService) handleExecute(c *gin.Context) {
	requestID := uuid.NewString()
	req, sig, ok := s.decodeExecuteBody(c, requestID)
	if !ok {
		return
	}
	out, err := s.fwd.Execute(req, sig)
	if err != nil {
		writeForwardError(c, requestID, err)
		return
	}
	c.JSON(http.StatusOK, ResultJSON{
		RequestID: requestID,
		Success:   true,
		Output:    encodeBytes(out),
	})
}

func (s *RelayService) handleBatch(c *gin.Context) {
	requestID := uuid.NewString()
	body, err := readValidatedBody(c, batchSchema)
	if err != nil {
		c.JSON(http.StatusBadRequest, ResultJSON{RequestID: requestID, Error: err.Error(), Code: forwarder.ErrCodeMalformedRequest})
		return
	}
	var batch BatchJSON
	if err := json.Unmarshal(body, &batch); err != nil {
		c.JSON(http.StatusBadRequest, ResultJSON{RequestID: requestID, Error: err.Error(), Code: forwarder.ErrCodeMalformedRequest})
		return
	}
	entries := make([]forwarder.SignedRequest, len(batch.Entries))
	for i, entry := range batch.Entries {
		req, sig, err := decodeExecute(entry)
		if err != nil {
			c.JSON(http.StatusBadRequest, ResultJSON{RequestID: requestID, Error: fmt.Sprintf("entry %d: %v", i, err), Code: forwarder.ErrCodeMalformedRequest})
			return
		}
		entries[i] = forwarder.SignedRequest{Request: *req, Signature: sig}
	}
	results, err := s.fwd.ExecuteBatch(entries, batch.FailFast)
	if err != nil {
		var fwdErr *forwarder.ForwardError
		status := http.StatusBadGateway
		code := ""
		if errors.As(err, &fwdErr) {
			code = fwdErr.Code
			status = statusForCode(fwdErr.Code)
		}
		c.JSON(status, BatchResultJSON{RequestID: requestID, Error: err.Error(), Code: code})
		return
	}
	out := make([]EntryJSON, len(results))
	for i, result := range results {
		out[i] = EntryJSON{
			Success: result.Success,
			Output:  encodeBytes(result.Output),
			Reason:  result.Reason,
		}
	}
	c.JSON(http.StatusOK, BatchResultJSON{RequestID: requestID, Success: true, Results: out})
}

// decodeExecuteBody validates and decodes an execute/verify body, writing the
// error response itself when the body is malformed.
func (s *RelayService) decodeExecuteBody(c *gin.Context, requestID string) (*forwarder.ForwardRequest, []byte, bool) {
	body, err := readValidatedBody(c, executeSchema)
	if err != nil {
		c.JSON(http.StatusBadRequest, ResultJSON{RequestID: requestID, Error: err.Error(), Code: forwarder.ErrCodeMalformedRequest})
		return nil, nil, false
	}
	var exec ExecuteJSON
	if err := json.Unmarshal(body, &exec); err != nil {
		c.JSON(http.StatusBadRequest, ResultJSON{RequestID: requestID, Error: err.Error(), Code: forwarder.ErrCodeMalformedRequest})
		return nil, nil, false
	}
	req, sig, err := decodeExecute(exec)
	if err != nil {
		c.JSON(http.StatusBadRequest, ResultJSON{RequestID: requestID, Error: err.Error(), Code: forwarder.ErrCodeMalformedRequest})
		return nil, nil, false
	}
	return req, sig, true
}

func decodeExecute(exec ExecuteJSON) (*forwarder.ForwardRequest, []byte, error) {
	req, err := decodeRequest(exec.Request)
	if err != nil {
		return nil, nil, err
	}
	sig, err := decodeHex(exec.Signature)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	return req, sig, nil
}

func decodeRequest(r RequestJSON) (*forwarder.ForwardRequest, error) {
	if !common.IsHexAddress(r.From) {
		return nil, fmt.Errorf("invalid from address: %q", r.From)
	}
	if !common.IsHexAddress(r.To) {
		return nil, fmt.Errorf("invalid to address: %q", r.To)
	}
	value := new(big.Int)
	if r.Value != "" {
		parsed, ok := value.SetString(r.Value, 10)
		if !ok || parsed.Sign() < 0 {
			return nil, fmt.Errorf("invalid value: %q", r.Value)
		}
	}
	data, err := decodeHex(r.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid data encoding: %w", err)
	}
	return &forwarder.ForwardRequest{
		From:  common.HexToAddress(r.From),
		To:    common.HexToAddress(r.To),
		Value: value,
		Nonce: r.Nonce,
		Data:  data,
	}, nil
}

func decodeHex(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, nil
	}
	return hexutil.Decode(s)
}

func encodeBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hexutil.Encode(b)
}

func writeForwardError(c *gin.Context, requestID string, err error) {
	var fwdErr *forwarder.ForwardError
	if errors.As(err, &fwdErr) {
		c.JSON(statusForCode(fwdErr.Code), ResultJSON{
			RequestID: requestID,
			Error:     fwdErr.Message,
			Code:      fwdErr.Code,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, ResultJSON{RequestID: requestID, Error: err.Error()})
}

// statusForCode maps forwarding failures to HTTP statuses: rejected
// submissions are the client's to fix, reverted executions are upstream
// outcomes.
func statusForCode(code string) int {
	switch code {
	case forwarder.ErrCodeInvalidNonce, forwarder.ErrCodeInvalidSignature:
		return http.StatusUnauthorized
	case forwarder.ErrCodeExecutionReverted, forwarder.ErrCodeBatchAborted:
		return http.StatusBadGateway
	case forwarder.ErrCodeOnlyForwarder:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}
