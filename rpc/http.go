package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendpool/ledger"
	"lendpool/observability/metrics"
	"lendpool/pool"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	correlationHeader = "X-Correlation-ID"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32010
	codeRejected       = -32020
)

// Server exposes the lending engine and the token ledger over JSON-RPC.
// Mutating methods require a bearer token; queries are open.
type Server struct {
	engine    *pool.Engine
	led       *ledger.Ledger
	symbol    string
	authToken string
	log       *slog.Logger
	metrics   *metrics.LendpoolMetrics
}

// NewServer constructs an RPC server. An empty bearer token disables every
// mutating method. The token is the entire trust boundary: mutating methods
// take account names in their params and act with that account's authority,
// so any caller holding the token can act as any account. Deploy behind a
// single trusted operator.
func NewServer(engine *pool.Engine, led *ledger.Ledger, bearerToken string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:    engine,
		led:       led,
		symbol:    led.Symbol(),
		authToken: strings.TrimSpace(bearerToken),
		log:       log,
		metrics:   metrics.Lendpool(),
	}
}

// Handler returns the HTTP handler serving the RPC endpoint, health check,
// and Prometheus metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	correlation := uuid.NewString()
	w.Header().Set(correlationHeader, correlation)
	w.Header().Set("Content-Type", "application/json")

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	outcome := s.dispatch(w, r, req)
	s.metrics.ObserveRPC(req.Method, outcome, time.Since(started).Seconds())
	s.log.Debug("rpc request",
		"method", req.Method,
		"outcome", outcome,
		"correlation_id", correlation,
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	handler, mutating, ok := s.route(req.Method)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return "not_found"
	}
	if mutating {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
	}
	return handler(w, req)
}

type handlerFunc func(w http.ResponseWriter, req *RPCRequest) string

func (s *Server) route(method string) (handlerFunc, bool, bool) {
	switch method {
	case "lendpool_requestService":
		return s.handleRequestService, true, true
	case "lendpool_collectFee":
		return s.handleCollectFee, true, true
	case "lendpool_completeService":
		return s.handleCompleteService, true, true
	case "lendpool_initMainPool":
		return s.handleInitMainPool, true, true
	case "lendpool_createPool":
		return s.handleCreatePool, true, true
	case "lendpool_changePoolFee":
		return s.handleChangePoolFee, true, true
	case "lendpool_terminatePool":
		return s.handleTerminatePool, true, true
	case "lendpool_joinPool":
		return s.handleJoinPool, true, true
	case "lendpool_lendMore":
		return s.handleLendMore, true, true
	case "lendpool_leavePool":
		return s.handleLeavePool, true, true
	case "lendpool_withdrawHolderReward":
		return s.handleWithdrawHolderReward, true, true
	case "lendpool_withdrawOwnerRewards":
		return s.handleWithdrawOwnerRewards, true, true
	case "lendpool_payRewards":
		return s.handlePayRewards, true, true
	case "lendpool_sweepLocks":
		return s.handleSweepLocks, true, true
	case "lendpool_purge":
		return s.handlePurge, true, true
	case "lendpool_getPool":
		return s.handleGetPool, false, true
	case "lendpool_listPools":
		return s.handleListPools, false, true
	case "lendpool_getHolder":
		return s.handleGetHolder, false, true
	case "lendpool_listHolders":
		return s.handleListHolders, false, true
	case "lendpool_getRequest":
		return s.handleGetRequest, false, true
	case "lendpool_listLocks":
		return s.handleListLocks, false, true
	case "ledger_create":
		return s.handleLedgerCreate, true, true
	case "ledger_issue":
		return s.handleLedgerIssue, true, true
	case "ledger_retire":
		return s.handleLedgerRetire, true, true
	case "ledger_transfer":
		return s.handleLedgerTransfer, true, true
	case "ledger_open":
		return s.handleLedgerOpen, true, true
	case "ledger_close":
		return s.handleLedgerClose, true, true
	case "ledger_getBalance":
		return s.handleLedgerGetBalance, false, true
	case "ledger_getSupply":
		return s.handleLedgerGetSupply, false, true
	default:
		return nil, false, false
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single parameter object, got %d", len(req.Params))
	}
	decoder := json.NewDecoder(bytes.NewReader(req.Params[0]))
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

// writeEngineError maps engine and ledger failures onto RPC error codes.
func (s *Server) writeEngineError(w http.ResponseWriter, id interface{}, err error) string {
	switch {
	case errors.Is(err, pool.ErrPoolNotFound),
		errors.Is(err, pool.ErrRequestNotFound),
		errors.Is(err, pool.ErrHolderNotRegistered),
		errors.Is(err, pool.ErrMainPoolMissing),
		errors.Is(err, pool.ErrOwnerHasNoPools):
		writeError(w, http.StatusOK, id, codeNotFound, err.Error(), nil)
		return "not_found"
	case errors.Is(err, ledger.ErrMissingAuthority):
		writeError(w, http.StatusOK, id, codeUnauthorized, err.Error(), nil)
		return "unauthorized"
	case errors.Is(err, pool.ErrTIDExists),
		errors.Is(err, pool.ErrPoolExists),
		errors.Is(err, pool.ErrPoolTerminated),
		errors.Is(err, pool.ErrHolderTerminated),
		errors.Is(err, pool.ErrFeeAlreadyPaid),
		errors.Is(err, pool.ErrServiceAlreadyProvided),
		errors.Is(err, pool.ErrTokensLocked),
		errors.Is(err, pool.ErrCollateralInUse),
		errors.Is(err, pool.ErrCollateralStaked),
		errors.Is(err, pool.ErrCollateralTooLow),
		errors.Is(err, pool.ErrInsufficientBalance),
		errors.Is(err, pool.ErrInsufficientPoolFunds),
		errors.Is(err, pool.ErrInsufficientEscrow),
		errors.Is(err, pool.ErrInsufficientReward),
		errors.Is(err, pool.ErrNoReward),
		errors.Is(err, pool.ErrNotOwner),
		errors.Is(err, pool.ErrZeroAmount),
		errors.Is(err, pool.ErrRateOutOfRange),
		errors.Is(err, pool.ErrAccountMissing):
		writeError(w, http.StatusOK, id, codeRejected, err.Error(), nil)
		return "rejected"
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
		return "error"
	}
}
