package pool

import (
	"math/big"

	"lendpool/ledger"
)

// PoolSpec describes a pool to register.
type PoolSpec struct {
	Name              string
	Owner             string
	CollateralAccount string
	RewardAccount     string
	RewardBps         uint64
	Private           bool
	OwnerShareBps     uint64
	HolderShareBps    uint64
	Collateral        *big.Int
	Restricted        []string
}

// InitMainPool registers the main pool under the fixed id 0, seeded with the
// main pool account's current balance as total, available, and collateral.
// Only the operator may call it; calling again once the main pool exists is
// a no-op.
func (e *Engine) InitMainPool(ident ledger.Identity) error {
	if err := ident.RequireAuth(e.cfg.Operator); err != nil {
		return err
	}
	return e.run(func(v *view) error {
		if _, exists, err := v.store.PoolByID(MainPoolID); err != nil {
			return err
		} else if exists {
			return nil
		}
		hasRow, err := v.ledger.HasAccount(e.cfg.MainPool)
		if err != nil {
			return err
		}
		if !hasRow {
			return ErrMainPoolHasNoBalanceRow
		}
		balance, err := v.ledger.Balance(e.cfg.MainPool)
		if err != nil {
			return err
		}
		return v.store.InsertPool(&Pool{
			Name:              e.cfg.MainPool,
			Owner:             e.cfg.MainPool,
			CollateralAccount: e.cfg.MainPool,
			RewardAccount:     e.cfg.MainPoolRewardAccount,
			RewardBps:         e.cfg.MainPoolRewardBps,
			Private:           false,
			OwnerShareBps:     basisPoints,
			HolderShareBps:    0,
			Total:             balance,
			Available:         new(big.Int).Set(balance),
			Collateral:        new(big.Int).Set(balance),
			OwnerReward:       big.NewInt(0),
			LockUntil:         v.now,
			LockSeconds:       0,
			CreatedAt:         v.now,
			Active:            true,
		})
	})
}

// CreatePool registers a lending pool. The collateral account must hold at
// least the registered collateral, which is staked: the ledger refuses to
// debit it below the staked amount until the pool terminates. The lock
// window shrinks with the square root of the collateral.
func (e *Engine) CreatePool(spec PoolSpec) (uint64, error) {
	if spec.Collateral == nil || spec.Collateral.Cmp(e.cfg.CollateralFloor) < 0 {
		return 0, ErrCollateralTooLow
	}
	if spec.RewardBps > basisPoints || spec.OwnerShareBps > basisPoints || spec.HolderShareBps > basisPoints {
		return 0, ErrRateOutOfRange
	}
	var id uint64
	err := e.run(func(v *view) error {
		for _, account := range []string{spec.Name, spec.Owner, spec.CollateralAccount, spec.RewardAccount} {
			hasRow, err := v.ledger.HasAccount(account)
			if err != nil {
				return err
			}
			if !hasRow {
				return ErrAccountMissing
			}
		}
		if _, exists, err := v.store.PoolByID(MainPoolID); err != nil {
			return err
		} else if !exists {
			return ErrMainPoolMissing
		}
		if _, exists, err := v.store.PoolByName(spec.Name); err != nil {
			return err
		} else if exists {
			return ErrPoolExists
		}
		inUse, err := v.store.CollateralInUse(spec.CollateralAccount)
		if err != nil {
			return err
		}
		if inUse {
			return ErrCollateralInUse
		}
		balance, err := v.ledger.Balance(spec.CollateralAccount)
		if err != nil {
			return err
		}
		if balance.Cmp(spec.Collateral) < 0 {
			return ErrInsufficientBalance
		}
		if _, exists, err := v.store.Stake(spec.CollateralAccount); err != nil {
			return err
		} else if exists {
			return ErrCollateralStaked
		}

		p := &Pool{
			Name:              spec.Name,
			Owner:             spec.Owner,
			CollateralAccount: spec.CollateralAccount,
			RewardAccount:     spec.RewardAccount,
			RewardBps:         spec.RewardBps,
			Private:           spec.Private,
			OwnerShareBps:     spec.OwnerShareBps,
			HolderShareBps:    spec.HolderShareBps,
			Total:             big.NewInt(0),
			Available:         big.NewInt(0),
			Collateral:        new(big.Int).Set(spec.Collateral),
			OwnerReward:       big.NewInt(0),
			LockUntil:         v.now,
			LockSeconds:       LockSeconds(spec.Collateral, e.cfg.LockCoefficient),
			CreatedAt:         v.now,
			Active:            true,
			Restricted:        append([]string(nil), spec.Restricted...),
		}
		if err := v.store.InsertPool(p); err != nil {
			return err
		}
		id = p.ID
		return v.store.PutStake(&CollateralStake{
			Account:   spec.CollateralAccount,
			Tokens:    new(big.Int).Set(spec.Collateral),
			CreatedAt: v.now,
		})
	})
	if err != nil {
		return 0, err
	}
	e.emitter.Emit(newPoolEvent(EventPoolCreated, id, spec.Name))
	return id, nil
}

// JoinPool lends tokens into a pool with the holder's authority. A returning
// holder's position is reactivated and topped up instead of duplicated.
func (e *Engine) JoinPool(ident ledger.Identity, poolName, holder string, tokens *big.Int) error {
	if tokens == nil || tokens.Sign() <= 0 {
		return ErrZeroAmount
	}
	err := e.run(func(v *view) error {
		p, err := activePool(v, poolName)
		if err != nil {
			return err
		}
		if err := requireBalance(v, holder, tokens); err != nil {
			return err
		}
		if err := v.ledger.Transfer(ident, holder, p.Name, tokens, "holder to pool"); err != nil {
			return err
		}

		pos, exists, err := v.store.HolderByPair(p.Name, holder)
		if err != nil {
			return err
		}
		if exists {
			pos.Active = true
			pos.Total = new(big.Int).Add(pos.Total, tokens)
			pos.Remaining = new(big.Int).Add(pos.Remaining, tokens)
			if err := v.store.UpdateHolder(pos); err != nil {
				return err
			}
		} else {
			if err := v.store.InsertHolder(&HolderPosition{
				Pool:       p.Name,
				Holder:     holder,
				Total:      new(big.Int).Set(tokens),
				Remaining:  new(big.Int).Set(tokens),
				Reward:     big.NewInt(0),
				LastUsedAt: v.now,
				CreatedAt:  v.now,
				Active:     true,
			}); err != nil {
				return err
			}
		}
		return adjustPoolTotals(v, p, tokens, true)
	})
	if err != nil {
		return err
	}
	e.emitter.Emit(newHolderEvent(EventHolderJoined, poolName, holder, tokens))
	return nil
}

// LendMore tops up an existing active position.
func (e *Engine) LendMore(ident ledger.Identity, poolName, holder string, tokens *big.Int) error {
	if tokens == nil || tokens.Sign() <= 0 {
		return ErrZeroAmount
	}
	err := e.run(func(v *view) error {
		p, err := activePool(v, poolName)
		if err != nil {
			return err
		}
		pos, exists, err := v.store.HolderByPair(p.Name, holder)
		if err != nil {
			return err
		}
		if !exists || !pos.Active {
			return ErrHolderNotRegistered
		}
		if err := requireBalance(v, holder, tokens); err != nil {
			return err
		}
		if err := v.ledger.Transfer(ident, holder, p.Name, tokens, "holder to pool"); err != nil {
			return err
		}
		pos.Total = new(big.Int).Add(pos.Total, tokens)
		pos.Remaining = new(big.Int).Add(pos.Remaining, tokens)
		if err := v.store.UpdateHolder(pos); err != nil {
			return err
		}
		return adjustPoolTotals(v, p, tokens, true)
	})
	if err != nil {
		return err
	}
	e.emitter.Emit(newHolderEvent(EventHolderLentMore, poolName, holder, tokens))
	return nil
}

// LeavePool exits a position: the full lent amount and any accrued reward
// are paid out and the position is deactivated. Refused while any of the
// position's tokens are drawn or locked.
func (e *Engine) LeavePool(ident ledger.Identity, poolName, holder string) error {
	if err := ident.RequireAuth(holder); err != nil {
		return err
	}
	err := e.run(func(v *view) error {
		p, err := activePool(v, poolName)
		if err != nil {
			return err
		}
		pos, exists, err := v.store.HolderByPair(p.Name, holder)
		if err != nil {
			return err
		}
		if !exists {
			return ErrHolderNotRegistered
		}
		if !pos.Active {
			return ErrHolderTerminated
		}
		if pos.Remaining.Cmp(pos.Total) != 0 {
			return ErrTokensLocked
		}

		lent := new(big.Int).Set(pos.Total)
		if lent.Sign() > 0 {
			poolBalance, err := v.ledger.Balance(p.Name)
			if err != nil {
				return err
			}
			if poolBalance.Cmp(lent) < 0 {
				return ErrInsufficientPoolFunds
			}
			if err := v.ledger.TransferAgent(p.Name, holder, lent, "pool to holder"); err != nil {
				return err
			}
		}
		if pos.Reward.Sign() > 0 {
			rewardBalance, err := v.ledger.Balance(p.RewardAccount)
			if err != nil {
				return err
			}
			if rewardBalance.Cmp(pos.Reward) < 0 {
				return ErrInsufficientReward
			}
			if err := v.ledger.TransferAgent(p.RewardAccount, holder, pos.Reward, "reward to holder"); err != nil {
				return err
			}
		}

		pos.Active = false
		pos.Total = big.NewInt(0)
		pos.Remaining = big.NewInt(0)
		pos.Reward = big.NewInt(0)
		if err := v.store.UpdateHolder(pos); err != nil {
			return err
		}
		return adjustPoolTotals(v, p, lent, false)
	})
	if err != nil {
		return err
	}
	e.emitter.Emit(newHolderEvent(EventHolderLeft, poolName, holder, nil))
	return nil
}

// ChangePoolFee updates a pool's reward rate with the owner's authority.
func (e *Engine) ChangePoolFee(ident ledger.Identity, poolName string, rewardBps uint64) error {
	if rewardBps > basisPoints {
		return ErrRateOutOfRange
	}
	return e.run(func(v *view) error {
		p, err := activePool(v, poolName)
		if err != nil {
			return err
		}
		if err := ident.RequireAuth(p.Owner); err != nil {
			return err
		}
		p.RewardBps = rewardBps
		return v.store.UpdatePool(p)
	})
}

// TerminatePool unwinds a pool with the owner's authority: every active
// position must be fully free, principals and rewards are paid out, the
// owner reward is settled, the pool is deactivated, and the collateral
// stake is released.
func (e *Engine) TerminatePool(ident ledger.Identity, poolName string) error {
	var terminatedID uint64
	err := e.run(func(v *view) error {
		p, exists, err := v.store.PoolByName(poolName)
		if err != nil {
			return err
		}
		if !exists {
			return ErrPoolNotFound
		}
		terminatedID = p.ID
		if !p.Active {
			return ErrPoolTerminated
		}
		if err := ident.RequireAuth(p.Owner); err != nil {
			return err
		}

		hasRow, err := v.ledger.HasAccount(p.Name)
		if err != nil {
			return err
		}
		if !hasRow {
			p.Active = false
			p.OwnerReward = big.NewInt(0)
			p.Total = big.NewInt(0)
			p.Available = big.NewInt(0)
			return v.store.UpdatePool(p)
		}

		positions, err := v.store.HoldersByPool(p.Name)
		if err != nil {
			return err
		}
		totalLent := big.NewInt(0)
		totalReward := big.NewInt(0)
		for _, pos := range positions {
			if !pos.Active {
				continue
			}
			if pos.Remaining.Cmp(pos.Total) != 0 {
				return ErrTokensLocked
			}
			totalLent.Add(totalLent, pos.Total)
			totalReward.Add(totalReward, pos.Reward)
		}

		if totalLent.Sign() > 0 {
			poolBalance, err := v.ledger.Balance(p.Name)
			if err != nil {
				return err
			}
			if poolBalance.Cmp(totalLent) < 0 {
				return ErrInsufficientPoolFunds
			}
		}
		owed := new(big.Int).Add(totalReward, p.OwnerReward)
		if owed.Sign() > 0 {
			rewardBalance, err := v.ledger.Balance(p.RewardAccount)
			if err != nil {
				return err
			}
			if rewardBalance.Cmp(owed) < 0 {
				return ErrInsufficientReward
			}
		}

		for _, pos := range positions {
			if !pos.Active {
				continue
			}
			if pos.Total.Sign() > 0 {
				if err := v.ledger.TransferAgent(p.Name, pos.Holder, pos.Total, "pool to holder"); err != nil {
					return err
				}
			}
			if pos.Reward.Sign() > 0 {
				if err := v.ledger.TransferAgent(p.RewardAccount, pos.Holder, pos.Reward, "reward to holder"); err != nil {
					return err
				}
			}
			pos.Active = false
			pos.Total = big.NewInt(0)
			pos.Remaining = big.NewInt(0)
			pos.Reward = big.NewInt(0)
			if err := v.store.UpdateHolder(pos); err != nil {
				return err
			}
		}

		if p.OwnerReward.Sign() > 0 {
			if err := v.ledger.TransferAgent(p.RewardAccount, p.Owner, p.OwnerReward, "reward to owner"); err != nil {
				return err
			}
		}

		remaining, err := v.ledger.Balance(p.Name)
		if err != nil {
			return err
		}
		p.Active = false
		p.OwnerReward = big.NewInt(0)
		p.Total = remaining
		p.Available = big.NewInt(0)
		if err := v.store.UpdatePool(p); err != nil {
			return err
		}

		if _, exists, err := v.store.Stake(p.CollateralAccount); err != nil {
			return err
		} else if exists {
			if err := v.store.DeleteStake(p.CollateralAccount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.emitter.Emit(newPoolEvent(EventPoolTerminated, terminatedID, poolName))
	return nil
}

func activePool(v *view, poolName string) (*Pool, error) {
	p, exists, err := v.store.PoolByName(poolName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrPoolNotFound
	}
	if !p.Active {
		return nil, ErrPoolTerminated
	}
	return p, nil
}

func requireBalance(v *view, account string, amount *big.Int) error {
	hasRow, err := v.ledger.HasAccount(account)
	if err != nil {
		return err
	}
	if !hasRow {
		return ErrInsufficientBalance
	}
	balance, err := v.ledger.Balance(account)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func adjustPoolTotals(v *view, p *Pool, tokens *big.Int, increment bool) error {
	if increment {
		p.Total = new(big.Int).Add(p.Total, tokens)
		p.Available = new(big.Int).Add(p.Available, tokens)
	} else {
		p.Total = new(big.Int).Sub(p.Total, tokens)
		p.Available = new(big.Int).Sub(p.Available, tokens)
	}
	return v.store.UpdatePool(p)
}
