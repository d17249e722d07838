package pool

import (
	"math/big"

	"lendpool/ledger"
)

// WithdrawHolderReward pays out a holder's accrued reward from the pool's
// reward account and zeroes the accrual. The holder must authorize the call
// and the reward must be positive.
func (e *Engine) WithdrawHolderReward(ident ledger.Identity, poolName, holder string) error {
	if err := ident.RequireAuth(holder); err != nil {
		return err
	}
	var paid *big.Int
	err := e.run(func(v *view) error {
		p, exists, err := v.store.PoolByName(poolName)
		if err != nil {
			return err
		}
		if !exists {
			return ErrPoolNotFound
		}
		pos, exists, err := v.store.HolderByPair(poolName, holder)
		if err != nil {
			return err
		}
		if !exists {
			return ErrHolderNotRegistered
		}
		if pos.Reward.Sign() <= 0 {
			return ErrNoReward
		}
		paid = pos.Reward
		if err := v.ledger.TransferAgent(p.RewardAccount, holder, pos.Reward, "reward to holder"); err != nil {
			return err
		}
		pos.Reward = big.NewInt(0)
		return v.store.UpdateHolder(pos)
	})
	if err != nil {
		return err
	}
	e.emitter.Emit(newHolderEvent(EventRewardWithdrawn, poolName, holder, paid))
	return nil
}

// WithdrawOwnerRewards sweeps the owner reward of every pool the owner
// controls. Pools with a zero accrual are skipped; owning no pools is an
// error.
func (e *Engine) WithdrawOwnerRewards(ident ledger.Identity, owner string) error {
	if err := ident.RequireAuth(owner); err != nil {
		return err
	}
	return e.run(func(v *view) error {
		pools, err := v.store.PoolsByOwner(owner)
		if err != nil {
			return err
		}
		if len(pools) == 0 {
			return ErrOwnerHasNoPools
		}
		for _, p := range pools {
			if p.OwnerReward.Sign() <= 0 {
				continue
			}
			if err := v.ledger.TransferAgent(p.RewardAccount, p.Owner, p.OwnerReward, "reward to owner"); err != nil {
				return err
			}
			p.OwnerReward = big.NewInt(0)
			if err := v.store.UpdatePool(p); err != nil {
				return err
			}
		}
		return nil
	})
}

// PayRewards settles every outstanding reward on one pool: the owner's
// accrual and every holder's accrual are paid out of the reward account and
// zeroed. Only the pool's owner may call it.
func (e *Engine) PayRewards(ident ledger.Identity, poolName, owner string) error {
	if err := ident.RequireAuth(owner); err != nil {
		return err
	}
	return e.run(func(v *view) error {
		p, exists, err := v.store.PoolByName(poolName)
		if err != nil {
			return err
		}
		if !exists {
			return ErrPoolNotFound
		}
		if p.Owner != owner {
			return ErrNotOwner
		}
		if p.OwnerReward.Sign() > 0 {
			if err := v.ledger.TransferAgent(p.RewardAccount, p.Owner, p.OwnerReward, "reward to owner"); err != nil {
				return err
			}
			p.OwnerReward = big.NewInt(0)
			if err := v.store.UpdatePool(p); err != nil {
				return err
			}
		}

		positions, err := v.store.HoldersByPool(poolName)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			if pos.Reward.Sign() <= 0 {
				continue
			}
			if err := v.ledger.TransferAgent(p.RewardAccount, pos.Holder, pos.Reward, "reward to holder"); err != nil {
				return err
			}
			pos.Reward = big.NewInt(0)
			if err := v.store.UpdateHolder(pos); err != nil {
				return err
			}
		}
		return nil
	})
}
