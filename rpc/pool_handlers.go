package rpc

import (
	"math/big"
	"net/http"

	"lendpool/ledger"
	"lendpool/pool"
)

type requestServiceParams struct {
	TID       uint64 `json:"tid"`
	Requester string `json:"requester"`
	Amount    string `json:"amount"`
}

type tidParams struct {
	TID uint64 `json:"tid"`
}

type createPoolParams struct {
	Name              string   `json:"name"`
	Owner             string   `json:"owner"`
	CollateralAccount string   `json:"collateralAccount"`
	RewardAccount     string   `json:"rewardAccount"`
	RewardBps         uint64   `json:"rewardBps"`
	Private           bool     `json:"private"`
	OwnerShareBps     uint64   `json:"ownerShareBps"`
	HolderShareBps    uint64   `json:"holderShareBps"`
	Collateral        string   `json:"collateral"`
	Restricted        []string `json:"restricted,omitempty"`
}

type poolFeeParams struct {
	Pool      string `json:"pool"`
	RewardBps uint64 `json:"rewardBps"`
}

type poolParams struct {
	Pool string `json:"pool"`
}

type poolHolderParams struct {
	Pool   string `json:"pool"`
	Holder string `json:"holder"`
}

type poolHolderAmountParams struct {
	Pool   string `json:"pool"`
	Holder string `json:"holder"`
	Tokens string `json:"tokens"`
}

type ownerParams struct {
	Owner string `json:"owner"`
}

type payRewardsParams struct {
	Pool  string `json:"pool"`
	Owner string `json:"owner"`
}

type purgeParams struct {
	Table string `json:"table"`
	ID    uint64 `json:"id,omitempty"`
}

type statusResult struct {
	Status string `json:"status"`
}

type poolResult struct {
	ID                uint64   `json:"id"`
	Name              string   `json:"name"`
	Owner             string   `json:"owner"`
	CollateralAccount string   `json:"collateralAccount"`
	RewardAccount     string   `json:"rewardAccount"`
	RewardBps         uint64   `json:"rewardBps"`
	Private           bool     `json:"private"`
	OwnerShareBps     uint64   `json:"ownerShareBps"`
	HolderShareBps    uint64   `json:"holderShareBps"`
	Total             string   `json:"total"`
	Available         string   `json:"available"`
	Collateral        string   `json:"collateral"`
	OwnerReward       string   `json:"ownerReward"`
	LockUntil         uint64   `json:"lockUntil"`
	LockSeconds       uint64   `json:"lockSeconds"`
	CreatedAt         uint64   `json:"createdAt"`
	Active            bool     `json:"active"`
	Restricted        []string `json:"restricted,omitempty"`
}

type holderResult struct {
	ID         uint64 `json:"id"`
	Pool       string `json:"pool"`
	Holder     string `json:"holder"`
	Total      string `json:"total"`
	Remaining  string `json:"remaining"`
	Reward     string `json:"reward"`
	LastUsedAt uint64 `json:"lastUsedAt"`
	CreatedAt  uint64 `json:"createdAt"`
	Active     bool   `json:"active"`
}

type requestResult struct {
	TID             uint64 `json:"tid"`
	Requester       string `json:"requester"`
	FeePaid         bool   `json:"feePaid"`
	ServiceProvided bool   `json:"serviceProvided"`
	Total           string `json:"total"`
	Fee             string `json:"fee"`
	Reward          string `json:"reward"`
	CreatedAt       uint64 `json:"createdAt"`
}

type lockResult struct {
	ID          uint64 `json:"id"`
	Pool        string `json:"pool"`
	Holder      string `json:"holder,omitempty"`
	Tokens      string `json:"tokens"`
	LockedUntil uint64 `json:"lockedUntil"`
}

type locksResult struct {
	PoolLocks   []lockResult `json:"poolLocks"`
	HolderLocks []lockResult `json:"holderLocks"`
}

type sweepResult struct {
	PoolLocksReleased   int `json:"poolLocksReleased"`
	HolderLocksReleased int `json:"holderLocksReleased"`
}

func (s *Server) poolResult(p *pool.Pool) poolResult {
	return poolResult{
		ID:                p.ID,
		Name:              p.Name,
		Owner:             p.Owner,
		CollateralAccount: p.CollateralAccount,
		RewardAccount:     p.RewardAccount,
		RewardBps:         p.RewardBps,
		Private:           p.Private,
		OwnerShareBps:     p.OwnerShareBps,
		HolderShareBps:    p.HolderShareBps,
		Total:             ledger.FormatAmount(p.Total, s.symbol),
		Available:         ledger.FormatAmount(p.Available, s.symbol),
		Collateral:        ledger.FormatAmount(p.Collateral, s.symbol),
		OwnerReward:       ledger.FormatAmount(p.OwnerReward, s.symbol),
		LockUntil:         p.LockUntil,
		LockSeconds:       p.LockSeconds,
		CreatedAt:         p.CreatedAt,
		Active:            p.Active,
		Restricted:        p.Restricted,
	}
}

func (s *Server) holderResult(h *pool.HolderPosition) holderResult {
	return holderResult{
		ID:         h.ID,
		Pool:       h.Pool,
		Holder:     h.Holder,
		Total:      ledger.FormatAmount(h.Total, s.symbol),
		Remaining:  ledger.FormatAmount(h.Remaining, s.symbol),
		Reward:     ledger.FormatAmount(h.Reward, s.symbol),
		LastUsedAt: h.LastUsedAt,
		CreatedAt:  h.CreatedAt,
		Active:     h.Active,
	}
}

func (s *Server) amountParam(w http.ResponseWriter, id interface{}, value string) (*big.Int, bool) {
	amount, err := ledger.ParseAmount(value, s.symbol)
	if err != nil {
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid amount", err.Error())
		return nil, false
	}
	return amount, true
}

func (s *Server) handleRequestService(w http.ResponseWriter, req *RPCRequest) string {
	var params requestServiceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	amount, ok := s.amountParam(w, req.ID, params.Amount)
	if !ok {
		return "invalid_params"
	}
	ident := ledger.NewIdentity(params.Requester)
	if err := s.engine.RequestService(ident, params.TID, params.Requester, amount); err != nil {
		s.metrics.ObserveServiceRequest("rejected")
		return s.writeEngineError(w, req.ID, err)
	}
	s.metrics.ObserveServiceRequest("ok")
	if draws, err := s.engine.PoolDraws(params.TID); err == nil {
		for _, draw := range draws {
			kind := "pool"
			if draw.PoolID == pool.MainPoolID {
				kind = "mainpool"
			}
			s.metrics.ObservePoolDraw(kind)
		}
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleCollectFee(w http.ResponseWriter, req *RPCRequest) string {
	var params tidParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	record, exists, err := s.engine.Request(params.TID)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	if !exists {
		return s.writeEngineError(w, req.ID, pool.ErrRequestNotFound)
	}
	ident := ledger.NewIdentity(record.Requester)
	if err := s.engine.CollectFee(ident, params.TID); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleCompleteService(w http.ResponseWriter, req *RPCRequest) string {
	var params tidParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	if err := s.engine.CompleteService(params.TID); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleInitMainPool(w http.ResponseWriter, req *RPCRequest) string {
	ident := ledger.NewIdentity(s.engine.Config().Operator)
	if err := s.engine.InitMainPool(ident); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleCreatePool(w http.ResponseWriter, req *RPCRequest) string {
	var params createPoolParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	collateral, ok := s.amountParam(w, req.ID, params.Collateral)
	if !ok {
		return "invalid_params"
	}
	id, err := s.engine.CreatePool(pool.PoolSpec{
		Name:              params.Name,
		Owner:             params.Owner,
		CollateralAccount: params.CollateralAccount,
		RewardAccount:     params.RewardAccount,
		RewardBps:         params.RewardBps,
		Private:           params.Private,
		OwnerShareBps:     params.OwnerShareBps,
		HolderShareBps:    params.HolderShareBps,
		Collateral:        collateral,
		Restricted:        params.Restricted,
	})
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]uint64{"id": id})
	return "ok"
}

func (s *Server) handleChangePoolFee(w http.ResponseWriter, req *RPCRequest) string {
	var params poolFeeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	record, exists, err := s.engine.Pool(params.Pool)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	if !exists {
		return s.writeEngineError(w, req.ID, pool.ErrPoolNotFound)
	}
	ident := ledger.NewIdentity(record.Owner)
	if err := s.engine.ChangePoolFee(ident, params.Pool, params.RewardBps); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleTerminatePool(w http.ResponseWriter, req *RPCRequest) string {
	var params poolParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	record, exists, err := s.engine.Pool(params.Pool)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	if !exists {
		return s.writeEngineError(w, req.ID, pool.ErrPoolNotFound)
	}
	ident := ledger.NewIdentity(record.Owner)
	if err := s.engine.TerminatePool(ident, params.Pool); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleJoinPool(w http.ResponseWriter, req *RPCRequest) string {
	var params poolHolderAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	tokens, ok := s.amountParam(w, req.ID, params.Tokens)
	if !ok {
		return "invalid_params"
	}
	ident := ledger.NewIdentity(params.Holder)
	if err := s.engine.JoinPool(ident, params.Pool, params.Holder, tokens); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleLendMore(w http.ResponseWriter, req *RPCRequest) string {
	var params poolHolderAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	tokens, ok := s.amountParam(w, req.ID, params.Tokens)
	if !ok {
		return "invalid_params"
	}
	ident := ledger.NewIdentity(params.Holder)
	if err := s.engine.LendMore(ident, params.Pool, params.Holder, tokens); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleLeavePool(w http.ResponseWriter, req *RPCRequest) string {
	var params poolHolderParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	ident := ledger.NewIdentity(params.Holder)
	if err := s.engine.LeavePool(ident, params.Pool, params.Holder); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleWithdrawHolderReward(w http.ResponseWriter, req *RPCRequest) string {
	var params poolHolderParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	ident := ledger.NewIdentity(params.Holder)
	if err := s.engine.WithdrawHolderReward(ident, params.Pool, params.Holder); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleWithdrawOwnerRewards(w http.ResponseWriter, req *RPCRequest) string {
	var params ownerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	ident := ledger.NewIdentity(params.Owner)
	if err := s.engine.WithdrawOwnerRewards(ident, params.Owner); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handlePayRewards(w http.ResponseWriter, req *RPCRequest) string {
	var params payRewardsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	ident := ledger.NewIdentity(params.Owner)
	if err := s.engine.PayRewards(ident, params.Pool, params.Owner); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleSweepLocks(w http.ResponseWriter, req *RPCRequest) string {
	pools, holders, err := s.engine.SweepExpiredLocks()
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	s.metrics.ObserveLocksReleased("pool", pools)
	s.metrics.ObserveLocksReleased("holder", holders)
	writeResult(w, req.ID, sweepResult{PoolLocksReleased: pools, HolderLocksReleased: holders})
	return "ok"
}

func (s *Server) handlePurge(w http.ResponseWriter, req *RPCRequest) string {
	var params purgeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	ident := ledger.NewIdentity(s.engine.Config().Operator)
	var err error
	switch params.Table {
	case "requests":
		err = s.engine.PurgeRequests(ident)
	case "poolDraws":
		err = s.engine.PurgePoolDraws(ident)
	case "holderDraws":
		err = s.engine.PurgeHolderDraws(ident)
	case "stakes":
		err = s.engine.PurgeStakes(ident)
	case "locks":
		err = s.engine.PurgeLocks(ident)
	case "pools":
		err = s.engine.DeletePools(ident)
	case "pool":
		err = s.engine.DeletePool(ident, params.ID)
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "unknown table", params.Table)
		return "invalid_params"
	}
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
	return "ok"
}

func (s *Server) handleGetPool(w http.ResponseWriter, req *RPCRequest) string {
	var params poolParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	record, exists, err := s.engine.Pool(params.Pool)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	if !exists {
		return s.writeEngineError(w, req.ID, pool.ErrPoolNotFound)
	}
	writeResult(w, req.ID, s.poolResult(record))
	return "ok"
}

func (s *Server) handleListPools(w http.ResponseWriter, req *RPCRequest) string {
	pools, err := s.engine.Pools()
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	results := make([]poolResult, 0, len(pools))
	active := 0
	for _, p := range pools {
		if p.Active {
			active++
		}
		results = append(results, s.poolResult(p))
	}
	s.metrics.SetActivePools(active)
	writeResult(w, req.ID, results)
	return "ok"
}

func (s *Server) handleGetHolder(w http.ResponseWriter, req *RPCRequest) string {
	var params poolHolderParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	record, exists, err := s.engine.Holder(params.Pool, params.Holder)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	if !exists {
		return s.writeEngineError(w, req.ID, pool.ErrHolderNotRegistered)
	}
	writeResult(w, req.ID, s.holderResult(record))
	return "ok"
}

func (s *Server) handleListHolders(w http.ResponseWriter, req *RPCRequest) string {
	var params poolParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	holders, err := s.engine.Holders(params.Pool)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	results := make([]holderResult, 0, len(holders))
	for _, h := range holders {
		results = append(results, s.holderResult(h))
	}
	writeResult(w, req.ID, results)
	return "ok"
}

func (s *Server) handleGetRequest(w http.ResponseWriter, req *RPCRequest) string {
	var params tidParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "invalid_params"
	}
	record, exists, err := s.engine.Request(params.TID)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	if !exists {
		return s.writeEngineError(w, req.ID, pool.ErrRequestNotFound)
	}
	writeResult(w, req.ID, requestResult{
		TID:             record.TID,
		Requester:       record.Requester,
		FeePaid:         record.FeePaid,
		ServiceProvided: record.ServiceProvided,
		Total:           ledger.FormatAmount(record.Total, s.symbol),
		Fee:             ledger.FormatAmount(record.Fee, s.symbol),
		Reward:          ledger.FormatAmount(record.Reward, s.symbol),
		CreatedAt:       record.CreatedAt,
	})
	return "ok"
}

func (s *Server) handleListLocks(w http.ResponseWriter, req *RPCRequest) string {
	poolLocks, holderLocks, err := s.engine.Locks()
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	result := locksResult{
		PoolLocks:   make([]lockResult, 0, len(poolLocks)),
		HolderLocks: make([]lockResult, 0, len(holderLocks)),
	}
	for _, lock := range poolLocks {
		result.PoolLocks = append(result.PoolLocks, lockResult{
			ID:          lock.ID,
			Pool:        lock.Pool,
			Tokens:      ledger.FormatAmount(lock.Tokens, s.symbol),
			LockedUntil: lock.LockedUntil,
		})
	}
	for _, lock := range holderLocks {
		result.HolderLocks = append(result.HolderLocks, lockResult{
			ID:          lock.ID,
			Pool:        lock.Pool,
			Holder:      lock.Holder,
			Tokens:      ledger.FormatAmount(lock.Tokens, s.symbol),
			LockedUntil: lock.LockedUntil,
		})
	}
	writeResult(w, req.ID, result)
	return "ok"
}
