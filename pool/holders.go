package pool

import (
	"fmt"
	"math/big"
)

// holderUpdate stages one holder draw so the whole sub-allocation can be
// validated before any position is mutated.
type holderUpdate struct {
	position *HolderPosition
	drawn    *big.Int
	reward   *big.Int
}

// allocateHolders splits a pool draw across the pool's active holders in
// least-recently-used order. Each contributing holder gets a draw record
// carrying its share of the pool reward, a time-lock entry, and, only when
// its position is fully drained, a fresh LastUsedAt so it rotates to the
// back of the queue. The reward itself accrues on the position when the
// service completes, not here.
func (e *Engine) allocateHolders(v *view, tid uint64, requester string, p *Pool, draw *big.Int, lockedUntil uint64) error {
	positions, err := v.store.HoldersByLastUsed(p.Name)
	if err != nil {
		return err
	}

	found := big.NewInt(0)
	remaining := new(big.Int).Set(draw)
	var updates []holderUpdate
	for _, pos := range positions {
		if !pos.Active || pos.Remaining.Sign() <= 0 {
			continue
		}
		taken := minAmount(remaining, pos.Remaining)
		reward := shareOfShare(taken, p.RewardBps, p.HolderShareBps)
		updates = append(updates, holderUpdate{position: pos, drawn: taken, reward: reward})
		found.Add(found, taken)
		remaining.Sub(draw, found)
		if found.Cmp(draw) >= 0 {
			break
		}
	}
	if found.Cmp(draw) < 0 {
		return fmt.Errorf("%w: pool %s short %s", ErrHolderShortfall, p.Name, remaining.String())
	}

	for _, u := range updates {
		pos := u.position
		pos.Remaining = new(big.Int).Sub(pos.Remaining, u.drawn)
		if pos.Remaining.Sign() == 0 {
			pos.LastUsedAt = v.now
		}
		if err := v.store.UpdateHolder(pos); err != nil {
			return err
		}
		if err := v.store.AppendHolderDraw(&HolderDraw{
			TID:       tid,
			Requester: requester,
			Pool:      p.Name,
			HolderID:  pos.ID,
			Holder:    pos.Holder,
			Tokens:    u.drawn,
			Reward:    u.reward,
			CreatedAt: v.now,
		}); err != nil {
			return err
		}
		if err := v.store.AppendHolderLock(&HolderLock{
			Pool:        p.Name,
			HolderID:    pos.ID,
			Holder:      pos.Holder,
			Tokens:      u.drawn,
			LockedUntil: lockedUntil,
			CreatedAt:   v.now,
		}); err != nil {
			return err
		}
	}
	return nil
}
