package pool

import "math/big"

// SweepExpiredLocks releases every pool and holder time-lock whose deadline
// has passed: expired tokens flow back into the pool's available balance and
// the holder's remaining position, and the lock rows are dropped. Locks that
// are still running are left alone. Returns the number of pool and holder
// locks released.
func (e *Engine) SweepExpiredLocks() (int, int, error) {
	var poolsReleased, holdersReleased int
	err := e.run(func(v *view) error {
		poolLocks, err := v.store.PoolLocks()
		if err != nil {
			return err
		}
		for _, lock := range poolLocks {
			if lock.LockedUntil > v.now {
				continue
			}
			p, exists, err := v.store.PoolByID(lock.PoolID)
			if err != nil {
				return err
			}
			if exists {
				p.Available = new(big.Int).Add(p.Available, lock.Tokens)
				if err := v.store.UpdatePool(p); err != nil {
					return err
				}
			}
			if err := v.store.DeletePoolLock(lock.ID); err != nil {
				return err
			}
			poolsReleased++
		}

		holderLocks, err := v.store.HolderLocks()
		if err != nil {
			return err
		}
		for _, lock := range holderLocks {
			if lock.LockedUntil > v.now {
				continue
			}
			pos, exists, err := v.store.HolderByID(lock.HolderID)
			if err != nil {
				return err
			}
			if exists {
				pos.Remaining = new(big.Int).Add(pos.Remaining, lock.Tokens)
				if err := v.store.UpdateHolder(pos); err != nil {
					return err
				}
			}
			if err := v.store.DeleteHolderLock(lock.ID); err != nil {
				return err
			}
			holdersReleased++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if poolsReleased > 0 || holdersReleased > 0 {
		e.emitter.Emit(newSweepEvent(poolsReleased, holdersReleased))
	}
	return poolsReleased, holdersReleased, nil
}
