package pool

// Read-only accessors used by the RPC surface and operational tooling. They
// read committed state directly; returned records are deep copies.

func (e *Engine) snapshot() *Store {
	return NewStore(e.db)
}

// Pool returns the pool registered under the given name.
func (e *Engine) Pool(name string) (*Pool, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot().PoolByName(name)
}

// PoolByID returns the pool with the given id.
func (e *Engine) PoolByID(id uint64) (*Pool, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot().PoolByID(id)
}

// Pools returns every pool in insertion order.
func (e *Engine) Pools() ([]*Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot().Pools()
}

// Holders returns every position registered in the pool.
func (e *Engine) Holders(poolName string) ([]*HolderPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot().HoldersByPool(poolName)
}

// Holder returns the position for the pool and holder pair.
func (e *Engine) Holder(poolName, holder string) (*HolderPosition, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot().HolderByPair(poolName, holder)
}

// Request returns the service request recorded for the TID.
func (e *Engine) Request(tid uint64) (*ServiceRequest, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot().Request(tid)
}

// PoolDraws returns the pool draws recorded against the TID.
func (e *Engine) PoolDraws(tid uint64) ([]*PoolDraw, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot().PoolDrawsByTID(tid)
}

// HolderDraws returns the holder draws recorded against the TID.
func (e *Engine) HolderDraws(tid uint64) ([]*HolderDraw, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot().HolderDrawsByTID(tid)
}

// Locks returns every outstanding pool and holder lock.
func (e *Engine) Locks() ([]*PoolLock, []*HolderLock, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	store := e.snapshot()
	poolLocks, err := store.PoolLocks()
	if err != nil {
		return nil, nil, err
	}
	holderLocks, err := store.HolderLocks()
	if err != nil {
		return nil, nil, err
	}
	return poolLocks, holderLocks, nil
}

// CollateralStakes returns every outstanding collateral stake.
func (e *Engine) CollateralStakes() ([]*CollateralStake, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot().Stakes()
}
