package pool

import (
	"math/big"

	"lendpool/ledger"
)

// Operator-only maintenance surface. These purge historical rows and reset
// the accruals derived from them; they do not move tokens.

// DeletePool removes a single pool row.
func (e *Engine) DeletePool(ident ledger.Identity, id uint64) error {
	if err := ident.RequireAuth(e.cfg.Operator); err != nil {
		return err
	}
	return e.run(func(v *view) error {
		if _, exists, err := v.store.PoolByID(id); err != nil {
			return err
		} else if !exists {
			return ErrPoolNotFound
		}
		return v.store.DeletePool(id)
	})
}

// DeletePools removes every pool and every holder position.
func (e *Engine) DeletePools(ident ledger.Identity) error {
	if err := ident.RequireAuth(e.cfg.Operator); err != nil {
		return err
	}
	return e.run(func(v *view) error {
		pools, err := v.store.Pools()
		if err != nil {
			return err
		}
		for _, p := range pools {
			if err := v.store.DeletePool(p.ID); err != nil {
				return err
			}
		}
		positions, err := v.store.Holders()
		if err != nil {
			return err
		}
		for _, pos := range positions {
			if err := v.store.DeleteHolder(pos.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgeRequests drops every service request row.
func (e *Engine) PurgeRequests(ident ledger.Identity) error {
	if err := ident.RequireAuth(e.cfg.Operator); err != nil {
		return err
	}
	return e.run(func(v *view) error {
		reqs, err := v.store.Requests()
		if err != nil {
			return err
		}
		for _, req := range reqs {
			if err := v.store.DeleteRequest(req.TID); err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgePoolDraws drops every pool draw row, zeroing the owner reward of each
// referenced pool along the way.
func (e *Engine) PurgePoolDraws(ident ledger.Identity) error {
	if err := ident.RequireAuth(e.cfg.Operator); err != nil {
		return err
	}
	return e.run(func(v *view) error {
		draws, err := v.store.PoolDraws()
		if err != nil {
			return err
		}
		for _, draw := range draws {
			p, exists, err := v.store.PoolByID(draw.PoolID)
			if err != nil {
				return err
			}
			if exists {
				p.OwnerReward = big.NewInt(0)
				if err := v.store.UpdatePool(p); err != nil {
					return err
				}
			}
			if err := v.store.DeletePoolDraw(draw.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgeHolderDraws drops every holder draw row, resetting each referenced
// position's remaining tokens to its lent total and zeroing its reward.
func (e *Engine) PurgeHolderDraws(ident ledger.Identity) error {
	if err := ident.RequireAuth(e.cfg.Operator); err != nil {
		return err
	}
	return e.run(func(v *view) error {
		draws, err := v.store.HolderDraws()
		if err != nil {
			return err
		}
		for _, draw := range draws {
			pos, exists, err := v.store.HolderByID(draw.HolderID)
			if err != nil {
				return err
			}
			if exists {
				pos.Remaining = new(big.Int).Set(pos.Total)
				pos.Reward = big.NewInt(0)
				if err := v.store.UpdateHolder(pos); err != nil {
					return err
				}
			}
			if err := v.store.DeleteHolderDraw(draw.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgeStakes drops every collateral stake row.
func (e *Engine) PurgeStakes(ident ledger.Identity) error {
	if err := ident.RequireAuth(e.cfg.Operator); err != nil {
		return err
	}
	return e.run(func(v *view) error {
		stakes, err := v.store.Stakes()
		if err != nil {
			return err
		}
		for _, stake := range stakes {
			if err := v.store.DeleteStake(stake.Account); err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgeLocks drops every pool and holder lock row without restoring
// availability; pair with PurgeHolderDraws when resetting state wholesale.
func (e *Engine) PurgeLocks(ident ledger.Identity) error {
	if err := ident.RequireAuth(e.cfg.Operator); err != nil {
		return err
	}
	return e.run(func(v *view) error {
		poolLocks, err := v.store.PoolLocks()
		if err != nil {
			return err
		}
		for _, lock := range poolLocks {
			if err := v.store.DeletePoolLock(lock.ID); err != nil {
				return err
			}
		}
		holderLocks, err := v.store.HolderLocks()
		if err != nil {
			return err
		}
		for _, lock := range holderLocks {
			if err := v.store.DeleteHolderLock(lock.ID); err != nil {
				return err
			}
		}
		return nil
	})
}
