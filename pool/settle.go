package pool

import (
	"math/big"

	"lendpool/ledger"
)

// CollectFee runs the first settlement leg for a TID: the requester pays the
// recorded fee plus the aggregate pool reward into escrow, and escrow
// forwards the sourced principal to the operator. Rejects a TID whose fee
// was already collected.
func (e *Engine) CollectFee(ident ledger.Identity, tid uint64) error {
	err := e.run(func(v *view) error {
		return e.collectFee(v, ident, tid)
	})
	if err != nil {
		return err
	}
	e.emitter.Emit(newSettlementEvent(EventFeeCollected, tid))
	return nil
}

func (e *Engine) collectFee(v *view, ident ledger.Identity, tid uint64) error {
	req, exists, err := v.store.Request(tid)
	if err != nil {
		return err
	}
	if !exists {
		return ErrRequestNotFound
	}
	if req.FeePaid {
		return ErrFeeAlreadyPaid
	}

	feeAndReward := new(big.Int).Add(req.Fee, req.Reward)
	balance, err := v.ledger.Balance(req.Requester)
	if err != nil {
		return err
	}
	if balance.Cmp(feeAndReward) < 0 {
		return ErrInsufficientBalance
	}
	if feeAndReward.Sign() > 0 {
		if err := v.ledger.Transfer(ident, req.Requester, e.cfg.Escrow, feeAndReward, "fees to escrow"); err != nil {
			return err
		}
	}

	req.FeePaid = true
	if err := v.store.UpdateRequest(req); err != nil {
		return err
	}

	escrow, err := v.ledger.Balance(e.cfg.Escrow)
	if err != nil {
		return err
	}
	if escrow.Cmp(req.Total) < 0 {
		return ErrInsufficientEscrow
	}
	if req.Total.Sign() > 0 {
		if err := v.ledger.TransferAgent(e.cfg.Escrow, e.cfg.Operator, req.Total, "tokens from escrow to operator"); err != nil {
			return err
		}
	}
	return nil
}

// CompleteService runs the second settlement leg for a TID: the operator
// returns the principal through escrow, escrow pays the operator's fee, each
// contributing pool receives its reward and principal back, pool owners and
// holders accrue their reward shares. Rejects a TID already settled.
func (e *Engine) CompleteService(tid uint64) error {
	err := e.run(func(v *view) error {
		return e.completeService(v, tid)
	})
	if err != nil {
		return err
	}
	e.emitter.Emit(newSettlementEvent(EventServiceProvided, tid))
	return nil
}

func (e *Engine) completeService(v *view, tid uint64) error {
	req, exists, err := v.store.Request(tid)
	if err != nil {
		return err
	}
	if !exists {
		return ErrRequestNotFound
	}
	if req.ServiceProvided {
		return ErrServiceAlreadyProvided
	}

	balance, err := v.ledger.Balance(e.cfg.Operator)
	if err != nil {
		return err
	}
	if balance.Cmp(req.Total) < 0 {
		return ErrInsufficientBalance
	}
	if req.Total.Sign() > 0 {
		if err := v.ledger.TransferAgent(e.cfg.Operator, e.cfg.Escrow, req.Total, "operator to escrow"); err != nil {
			return err
		}
	}

	req.ServiceProvided = true
	if err := v.store.UpdateRequest(req); err != nil {
		return err
	}

	escrow, err := v.ledger.Balance(e.cfg.Escrow)
	if err != nil {
		return err
	}
	if escrow.Cmp(req.Fee) < 0 {
		return ErrInsufficientEscrow
	}
	if req.Fee.Sign() > 0 {
		if err := v.ledger.TransferAgent(e.cfg.Escrow, e.cfg.Operator, req.Fee, "fees from escrow to operator"); err != nil {
			return err
		}
	}

	// Per-pool payout: reward to the pool's reward account, principal back to
	// the pool, owner share accrued on the pool row.
	draws, err := v.store.PoolDrawsByTID(tid)
	if err != nil {
		return err
	}
	for _, draw := range draws {
		p, exists, err := v.store.PoolByID(draw.PoolID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrPoolNotFound
		}
		escrow, err = v.ledger.Balance(e.cfg.Escrow)
		if err != nil {
			return err
		}
		owed := new(big.Int).Add(draw.Reward, draw.Tokens)
		if escrow.Cmp(owed) < 0 {
			return ErrInsufficientEscrow
		}
		if draw.Reward.Sign() > 0 {
			if err := v.ledger.TransferAgent(e.cfg.Escrow, p.RewardAccount, draw.Reward, "rewards from escrow to reward account"); err != nil {
				return err
			}
		}
		if draw.Tokens.Sign() > 0 {
			if err := v.ledger.TransferAgent(e.cfg.Escrow, draw.Pool, draw.Tokens, "tokens from escrow to pool"); err != nil {
				return err
			}
		}
		p.OwnerReward = new(big.Int).Add(p.OwnerReward, draw.OwnerReward)
		if err := v.store.UpdatePool(p); err != nil {
			return err
		}
	}

	// Holder reward accrual. Principal stays locked until the sweep.
	holderDraws, err := v.store.HolderDrawsByTID(tid)
	if err != nil {
		return err
	}
	for _, draw := range holderDraws {
		pos, exists, err := v.store.HolderByID(draw.HolderID)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		pos.Reward = new(big.Int).Add(pos.Reward, draw.Reward)
		if err := v.store.UpdateHolder(pos); err != nil {
			return err
		}
	}
	return nil
}
