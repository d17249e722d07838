package rpc

import (
	"net/http"

	"lendpool/ledger"
)

type ledgerCreateParams struct {
	Issuer    string `json:"issuer"`
	MaxSupply string `json:"maxSupply"`
}

type ledgerIssueParams struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
	Memo   string `json:"memo,omitempty"`
}

type ledgerRetireParams struct {
	Issuer string `json:"issuer"`
	Amount string `json:"amount"`
	Memo   string `json:"memo,omitempty"`
}

type ledgerTransferParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Memo   string `json:"memo,omitempty"`
}

type accountParams struct {
	Account string `json:"account"`
}

type balanceResult struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type supplyResult struct {
	Supply string `json:"supply"`
}

func (s *Server) handleLedgerCreate(w http.ResponseWriter, req *RPCRequest) string {
	var params ledgerCreateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	maxSupply, ok := s.amountParam(w, req.ID, params.MaxSupply)
	if !ok {
		return "invalid_params"
	}
	ident := ledger.NewIdentity(s.engine.Config().Operator)
	if err := s.led.Create(ident, params.Issuer, maxSupply); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleLedgerIssue(w http.ResponseWriter, req *RPCRequest) string {
	var params ledgerIssueParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	amount, ok := s.amountParam(w, req.ID, params.Amount)
	if !ok {
		return "invalid_params"
	}
	ident := ledger.NewIdentity(params.To)
	if err := s.led.Issue(ident, params.To, amount, params.Memo); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleLedgerRetire(w http.ResponseWriter, req *RPCRequest) string {
	var params ledgerRetireParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	amount, ok := s.amountParam(w, req.ID, params.Amount)
	if !ok {
		return "invalid_params"
	}
	ident := ledger.NewIdentity(params.Issuer)
	if err := s.led.Retire(ident, amount, params.Memo); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleLedgerTransfer(w http.ResponseWriter, req *RPCRequest) string {
	var params ledgerTransferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	amount, ok := s.amountParam(w, req.ID, params.Amount)
	if !ok {
		return "invalid_params"
	}
	ident := ledger.NewIdentity(params.From)
	if err := s.led.Transfer(ident, params.From, params.To, amount, params.Memo); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleLedgerOpen(w http.ResponseWriter, req *RPCRequest) string {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	if err := s.led.Open(params.Account); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleLedgerClose(w http.ResponseWriter, req *RPCRequest) string {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	ident := ledger.NewIdentity(params.Account)
	if err := s.led.Close(ident, params.Account); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleLedgerGetBalance(w http.ResponseWriter, req *RPCRequest) string {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	balance, err := s.led.Balance(params.Account)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, balanceResult{
		Account: params.Account,
		Balance: ledger.FormatAmount(balance, s.symbol),
	})
	return "ok"
}

func (s *Server) handleLedgerGetSupply(w http.ResponseWriter, req *RPCRequest) string {
	supply, err := s.led.Supply()
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, supplyResult{Supply: ledger.FormatAmount(supply, s.symbol)})
	return "ok"
}
