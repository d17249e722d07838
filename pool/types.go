package pool

import (
	"math/big"
)

// MainPoolID identifies the reserved guaranteed-liquidity fallback pool.
const MainPoolID uint64 = 0

// Pool is one collateralized lending pool. The pool's name doubles as its
// ledger account. Invariant: Available never exceeds Total; the difference is
// covered exactly by un-expired pool locks.
type Pool struct {
	ID                uint64
	Name              string
	Owner             string
	CollateralAccount string
	RewardAccount     string
	RewardBps         uint64
	Private           bool
	OwnerShareBps     uint64
	HolderShareBps    uint64
	Total             *big.Int
	Available         *big.Int
	Collateral        *big.Int
	OwnerReward       *big.Int
	LockUntil         uint64
	LockSeconds       uint64
	CreatedAt         uint64
	Active            bool
	Restricted        []string
}

// Clone returns a deep copy so callers can mutate freely.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Total = cloneAmount(p.Total)
	clone.Available = cloneAmount(p.Available)
	clone.Collateral = cloneAmount(p.Collateral)
	clone.OwnerReward = cloneAmount(p.OwnerReward)
	clone.Restricted = append([]string(nil), p.Restricted...)
	return &clone
}

// RestrictedFor reports whether the counterparty is barred from drawing on
// this pool.
func (p *Pool) RestrictedFor(counterparty string) bool {
	for _, name := range p.Restricted {
		if name == counterparty {
			return true
		}
	}
	return false
}

// HolderPosition is one holder's lending position inside one pool. At most
// one active position exists per (pool, holder) pair; re-entry merges into
// the existing row. Invariant: Remaining never exceeds Total.
type HolderPosition struct {
	ID         uint64
	Pool       string
	Holder     string
	Total      *big.Int
	Remaining  *big.Int
	Reward     *big.Int
	LastUsedAt uint64
	CreatedAt  uint64
	Active     bool
}

func (h *HolderPosition) Clone() *HolderPosition {
	if h == nil {
		return nil
	}
	clone := *h
	clone.Total = cloneAmount(h.Total)
	clone.Remaining = cloneAmount(h.Remaining)
	clone.Reward = cloneAmount(h.Reward)
	return &clone
}

// CollateralStake pins a collateral account's tokens while its pool is
// active. One stake exists per collateral account.
type CollateralStake struct {
	Account   string
	Tokens    *big.Int
	CreatedAt uint64
}

func (s *CollateralStake) Clone() *CollateralStake {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Tokens = cloneAmount(s.Tokens)
	return &clone
}

// ServiceRequest records one liquidity request keyed by its externally
// supplied transaction id. TID reuse is rejected.
type ServiceRequest struct {
	TID             uint64
	Requester       string
	FeePaid         bool
	ServiceProvided bool
	Total           *big.Int
	Fee             *big.Int
	Reward          *big.Int
	CreatedAt       uint64
}

func (r *ServiceRequest) Clone() *ServiceRequest {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Total = cloneAmount(r.Total)
	clone.Fee = cloneAmount(r.Fee)
	clone.Reward = cloneAmount(r.Reward)
	return &clone
}

// PoolDraw is the audit record of one pool's contribution to a request.
type PoolDraw struct {
	ID          uint64
	TID         uint64
	Requester   string
	PoolID      uint64
	Pool        string
	Tokens      *big.Int
	RewardBps   uint64
	Reward      *big.Int
	OwnerReward *big.Int
	CreatedAt   uint64
}

func (d *PoolDraw) Clone() *PoolDraw {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Tokens = cloneAmount(d.Tokens)
	clone.Reward = cloneAmount(d.Reward)
	clone.OwnerReward = cloneAmount(d.OwnerReward)
	return &clone
}

// HolderDraw is the audit record of one holder's contribution to a request.
type HolderDraw struct {
	ID        uint64
	TID       uint64
	Requester string
	Pool      string
	HolderID  uint64
	Holder    string
	Tokens    *big.Int
	Reward    *big.Int
	CreatedAt uint64
}

func (d *HolderDraw) Clone() *HolderDraw {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Tokens = cloneAmount(d.Tokens)
	clone.Reward = cloneAmount(d.Reward)
	return &clone
}

// PoolLock pins part of a pool's capital until its expiry passes and a sweep
// releases it back to Available.
type PoolLock struct {
	ID          uint64
	PoolID      uint64
	Pool        string
	Tokens      *big.Int
	LockedUntil uint64
	CreatedAt   uint64
}

func (l *PoolLock) Clone() *PoolLock {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Tokens = cloneAmount(l.Tokens)
	return &clone
}

// HolderLock pins part of a holder position until its expiry passes.
type HolderLock struct {
	ID          uint64
	Pool        string
	HolderID    uint64
	Holder      string
	Tokens      *big.Int
	LockedUntil uint64
	CreatedAt   uint64
}

func (l *HolderLock) Clone() *HolderLock {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Tokens = cloneAmount(l.Tokens)
	return &clone
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
