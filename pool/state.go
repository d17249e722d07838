package pool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"lendpool/storage"
)

var (
	seqPrefix        = []byte("pool/seq/")
	poolPrefix       = []byte("pool/pools/record/")
	poolIndexKey     = []byte("pool/pools/index")
	poolNamePrefix   = []byte("pool/pools/name/")
	holderPrefix     = []byte("pool/holders/record/")
	holderIndexKey   = []byte("pool/holders/index")
	holderPairPrefix = []byte("pool/holders/pair/")
	stakePrefix      = []byte("pool/stakes/record/")
	stakeIndexKey    = []byte("pool/stakes/index")
	requestPrefix    = []byte("pool/requests/record/")
	requestIndexKey  = []byte("pool/requests/index")
	poolDrawPrefix   = []byte("pool/pooldraws/record/")
	poolDrawIndexKey = []byte("pool/pooldraws/index")
	hldrDrawPrefix   = []byte("pool/holderdraws/record/")
	hldrDrawIndexKey = []byte("pool/holderdraws/index")
	poolLockPrefix   = []byte("pool/poollocks/record/")
	poolLockIndexKey = []byte("pool/poollocks/index")
	hldrLockPrefix   = []byte("pool/holderlocks/record/")
	hldrLockIndexKey = []byte("pool/holderlocks/index")
)

// Store lays the engine's tables out over a key-value store: one RLP-encoded
// record per row, an index key per table holding the ordered id list, and
// secondary keys for the unique name and (pool, holder) lookups. Bulk
// removals collect ids first and delete by key afterwards, never erasing
// while iterating.
type Store struct {
	kv storage.KV
}

// NewStore binds a table store to the given KV. Stores are cheap; the engine
// builds one per operation over its transactional overlay.
func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

func idKey(prefix []byte, id uint64) []byte {
	key := make([]byte, 0, len(prefix)+8)
	key = append(key, prefix...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(key, buf[:]...)
}

func nameKey(prefix []byte, name string) []byte {
	return append(append([]byte{}, prefix...), name...)
}

func pairKey(poolName, holder string) []byte {
	key := append([]byte{}, holderPairPrefix...)
	key = append(key, poolName...)
	key = append(key, 0)
	return append(key, holder...)
}

// NextID increments and returns the sequence for the given table prefix.
func (s *Store) NextID(table string) (uint64, error) {
	key := nameKey(seqPrefix, table)
	next := uint64(0)
	raw, err := s.kv.Get(key)
	if err == nil {
		if err := rlp.DecodeBytes(raw, &next); err != nil {
			return 0, fmt.Errorf("pool store: decode sequence %s: %w", table, err)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}
	encoded, err := rlp.EncodeToBytes(next + 1)
	if err != nil {
		return 0, err
	}
	if err := s.kv.Put(key, encoded); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) getRecord(key []byte, out interface{}) (bool, error) {
	raw, err := s.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("pool store: decode record: %w", err)
	}
	return true, nil
}

func (s *Store) putRecord(key []byte, record interface{}) error {
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	return s.kv.Put(key, encoded)
}

func (s *Store) loadIndex(key []byte) ([]uint64, error) {
	raw, err := s.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uint64
	if err := rlp.DecodeBytes(raw, &ids); err != nil {
		return nil, fmt.Errorf("pool store: decode index: %w", err)
	}
	return ids, nil
}

func (s *Store) storeIndex(key []byte, ids []uint64) error {
	encoded, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return err
	}
	return s.kv.Put(key, encoded)
}

func (s *Store) appendIndex(key []byte, id uint64) error {
	ids, err := s.loadIndex(key)
	if err != nil {
		return err
	}
	return s.storeIndex(key, append(ids, id))
}

func (s *Store) removeIndex(key []byte, id uint64) error {
	ids, err := s.loadIndex(key)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	return s.storeIndex(key, kept)
}

// --- pools ---

func normalizePool(p *Pool) {
	p.Total = cloneAmount(p.Total)
	p.Available = cloneAmount(p.Available)
	p.Collateral = cloneAmount(p.Collateral)
	p.OwnerReward = cloneAmount(p.OwnerReward)
}

// InsertPool assigns the next pool id, writes the record, and registers the
// name and index entries.
func (s *Store) InsertPool(p *Pool) error {
	id, err := s.NextID("pools")
	if err != nil {
		return err
	}
	p.ID = id
	normalizePool(p)
	if err := s.putRecord(idKey(poolPrefix, p.ID), p); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(p.ID)
	if err != nil {
		return err
	}
	if err := s.kv.Put(nameKey(poolNamePrefix, p.Name), encoded); err != nil {
		return err
	}
	return s.appendIndex(poolIndexKey, p.ID)
}

// UpdatePool rewrites an existing pool record.
func (s *Store) UpdatePool(p *Pool) error {
	normalizePool(p)
	return s.putRecord(idKey(poolPrefix, p.ID), p)
}

// PoolByID fetches one pool record.
func (s *Store) PoolByID(id uint64) (*Pool, bool, error) {
	p := new(Pool)
	ok, err := s.getRecord(idKey(poolPrefix, id), p)
	if !ok || err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// PoolByName resolves the unique-name lookup.
func (s *Store) PoolByName(name string) (*Pool, bool, error) {
	raw, err := s.kv.Get(nameKey(poolNamePrefix, name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var id uint64
	if err := rlp.DecodeBytes(raw, &id); err != nil {
		return nil, false, fmt.Errorf("pool store: decode pool name ref: %w", err)
	}
	return s.PoolByID(id)
}

// Pools returns every pool in registry insertion order.
func (s *Store) Pools() ([]*Pool, error) {
	ids, err := s.loadIndex(poolIndexKey)
	if err != nil {
		return nil, err
	}
	pools := make([]*Pool, 0, len(ids))
	for _, id := range ids {
		p, ok, err := s.PoolByID(id)
		if err != nil {
			return nil, err
		}
		if ok {
			pools = append(pools, p)
		}
	}
	return pools, nil
}

// PoolsByReward returns pools ordered by ascending reward rate; equal rates
// fall back to insertion order.
func (s *Store) PoolsByReward() ([]*Pool, error) {
	pools, err := s.Pools()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(pools, func(i, j int) bool {
		return pools[i].RewardBps < pools[j].RewardBps
	})
	return pools, nil
}

// PoolsByOwner returns the owner's pools in insertion order.
func (s *Store) PoolsByOwner(owner string) ([]*Pool, error) {
	pools, err := s.Pools()
	if err != nil {
		return nil, err
	}
	owned := pools[:0]
	for _, p := range pools {
		if p.Owner == owner {
			owned = append(owned, p)
		}
	}
	return owned, nil
}

// DeletePool removes the record and its name/index entries.
func (s *Store) DeletePool(id uint64) error {
	p, ok, err := s.PoolByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.kv.Delete(idKey(poolPrefix, id)); err != nil {
		return err
	}
	if err := s.kv.Delete(nameKey(poolNamePrefix, p.Name)); err != nil {
		return err
	}
	return s.removeIndex(poolIndexKey, id)
}

// CollateralInUse reports whether any active pool already registered the
// collateral account.
func (s *Store) CollateralInUse(account string) (bool, error) {
	pools, err := s.Pools()
	if err != nil {
		return false, err
	}
	for _, p := range pools {
		if p.Active && p.CollateralAccount == account {
			return true, nil
		}
	}
	return false, nil
}

// --- holder positions ---

func normalizeHolder(h *HolderPosition) {
	h.Total = cloneAmount(h.Total)
	h.Remaining = cloneAmount(h.Remaining)
	h.Reward = cloneAmount(h.Reward)
}

// InsertHolder writes a fresh position and its pair/index entries.
func (s *Store) InsertHolder(h *HolderPosition) error {
	id, err := s.NextID("holders")
	if err != nil {
		return err
	}
	h.ID = id
	normalizeHolder(h)
	if err := s.putRecord(idKey(holderPrefix, h.ID), h); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(h.ID)
	if err != nil {
		return err
	}
	if err := s.kv.Put(pairKey(h.Pool, h.Holder), encoded); err != nil {
		return err
	}
	return s.appendIndex(holderIndexKey, h.ID)
}

// UpdateHolder rewrites an existing position record.
func (s *Store) UpdateHolder(h *HolderPosition) error {
	normalizeHolder(h)
	return s.putRecord(idKey(holderPrefix, h.ID), h)
}

// HolderByID fetches one position record.
func (s *Store) HolderByID(id uint64) (*HolderPosition, bool, error) {
	h := new(HolderPosition)
	ok, err := s.getRecord(idKey(holderPrefix, id), h)
	if !ok || err != nil {
		return nil, false, err
	}
	return h, true, nil
}

// HolderByPair resolves the at-most-one position per (pool, holder) pair.
func (s *Store) HolderByPair(poolName, holder string) (*HolderPosition, bool, error) {
	raw, err := s.kv.Get(pairKey(poolName, holder))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var id uint64
	if err := rlp.DecodeBytes(raw, &id); err != nil {
		return nil, false, fmt.Errorf("pool store: decode holder pair ref: %w", err)
	}
	return s.HolderByID(id)
}

// Holders returns every position in insertion order.
func (s *Store) Holders() ([]*HolderPosition, error) {
	ids, err := s.loadIndex(holderIndexKey)
	if err != nil {
		return nil, err
	}
	holders := make([]*HolderPosition, 0, len(ids))
	for _, id := range ids {
		h, ok, err := s.HolderByID(id)
		if err != nil {
			return nil, err
		}
		if ok {
			holders = append(holders, h)
		}
	}
	return holders, nil
}

// HoldersByPool returns one pool's positions in insertion order.
func (s *Store) HoldersByPool(poolName string) ([]*HolderPosition, error) {
	holders, err := s.Holders()
	if err != nil {
		return nil, err
	}
	matched := holders[:0]
	for _, h := range holders {
		if h.Pool == poolName {
			matched = append(matched, h)
		}
	}
	return matched, nil
}

// HoldersByLastUsed returns one pool's positions ordered oldest lastUsedAt
// first, the least-recently-used walk the sub-allocation engine needs.
func (s *Store) HoldersByLastUsed(poolName string) ([]*HolderPosition, error) {
	holders, err := s.HoldersByPool(poolName)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(holders, func(i, j int) bool {
		return holders[i].LastUsedAt < holders[j].LastUsedAt
	})
	return holders, nil
}

// DeleteHolder removes the record and its pair/index entries.
func (s *Store) DeleteHolder(id uint64) error {
	h, ok, err := s.HolderByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.kv.Delete(idKey(holderPrefix, id)); err != nil {
		return err
	}
	if err := s.kv.Delete(pairKey(h.Pool, h.Holder)); err != nil {
		return err
	}
	return s.removeIndex(holderIndexKey, id)
}

// --- collateral stakes ---

// PutStake registers a stake. One stake exists per collateral account.
func (s *Store) PutStake(stake *CollateralStake) error {
	stake.Tokens = cloneAmount(stake.Tokens)
	has, err := s.kv.Has(nameKey(stakePrefix, stake.Account))
	if err != nil {
		return err
	}
	if err := s.putRecord(nameKey(stakePrefix, stake.Account), stake); err != nil {
		return err
	}
	if has {
		return nil
	}
	return s.appendStringIndex(stakeIndexKey, stake.Account)
}

// Stake fetches the stake registered for the collateral account.
func (s *Store) Stake(account string) (*CollateralStake, bool, error) {
	stake := new(CollateralStake)
	ok, err := s.getRecord(nameKey(stakePrefix, account), stake)
	if !ok || err != nil {
		return nil, false, err
	}
	return stake, true, nil
}

// DeleteStake releases the collateral account's stake.
func (s *Store) DeleteStake(account string) error {
	if err := s.kv.Delete(nameKey(stakePrefix, account)); err != nil {
		return err
	}
	return s.removeStringIndex(stakeIndexKey, account)
}

// Stakes returns every stake in insertion order.
func (s *Store) Stakes() ([]*CollateralStake, error) {
	accounts, err := s.loadStringIndex(stakeIndexKey)
	if err != nil {
		return nil, err
	}
	stakes := make([]*CollateralStake, 0, len(accounts))
	for _, account := range accounts {
		stake, ok, err := s.Stake(account)
		if err != nil {
			return nil, err
		}
		if ok {
			stakes = append(stakes, stake)
		}
	}
	return stakes, nil
}

func (s *Store) loadStringIndex(key []byte) ([]string, error) {
	raw, err := s.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	if err := rlp.DecodeBytes(raw, &names); err != nil {
		return nil, fmt.Errorf("pool store: decode index: %w", err)
	}
	return names, nil
}

func (s *Store) appendStringIndex(key []byte, name string) error {
	names, err := s.loadStringIndex(key)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(append(names, name))
	if err != nil {
		return err
	}
	return s.kv.Put(key, encoded)
}

func (s *Store) removeStringIndex(key []byte, name string) error {
	names, err := s.loadStringIndex(key)
	if err != nil {
		return err
	}
	kept := names[:0]
	for _, existing := range names {
		if existing != name {
			kept = append(kept, existing)
		}
	}
	encoded, err := rlp.EncodeToBytes(kept)
	if err != nil {
		return err
	}
	return s.kv.Put(key, encoded)
}

// --- service requests ---

// InsertRequest records a request under its TID.
func (s *Store) InsertRequest(r *ServiceRequest) error {
	r.Total = cloneAmount(r.Total)
	r.Fee = cloneAmount(r.Fee)
	r.Reward = cloneAmount(r.Reward)
	if err := s.putRecord(idKey(requestPrefix, r.TID), r); err != nil {
		return err
	}
	return s.appendIndex(requestIndexKey, r.TID)
}

// UpdateRequest rewrites an existing request record.
func (s *Store) UpdateRequest(r *ServiceRequest) error {
	r.Total = cloneAmount(r.Total)
	r.Fee = cloneAmount(r.Fee)
	r.Reward = cloneAmount(r.Reward)
	return s.putRecord(idKey(requestPrefix, r.TID), r)
}

// Request fetches the record for the TID.
func (s *Store) Request(tid uint64) (*ServiceRequest, bool, error) {
	r := new(ServiceRequest)
	ok, err := s.getRecord(idKey(requestPrefix, tid), r)
	if !ok || err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// Requests returns every request in insertion order.
func (s *Store) Requests() ([]*ServiceRequest, error) {
	tids, err := s.loadIndex(requestIndexKey)
	if err != nil {
		return nil, err
	}
	requests := make([]*ServiceRequest, 0, len(tids))
	for _, tid := range tids {
		r, ok, err := s.Request(tid)
		if err != nil {
			return nil, err
		}
		if ok {
			requests = append(requests, r)
		}
	}
	return requests, nil
}

// DeleteRequest removes one request record.
func (s *Store) DeleteRequest(tid uint64) error {
	if err := s.kv.Delete(idKey(requestPrefix, tid)); err != nil {
		return err
	}
	return s.removeIndex(requestIndexKey, tid)
}

// --- draw records ---

// AppendPoolDraw assigns an id and records one pool's draw.
func (s *Store) AppendPoolDraw(d *PoolDraw) error {
	id, err := s.NextID("pooldraws")
	if err != nil {
		return err
	}
	d.ID = id
	d.Tokens = cloneAmount(d.Tokens)
	d.Reward = cloneAmount(d.Reward)
	d.OwnerReward = cloneAmount(d.OwnerReward)
	if err := s.putRecord(idKey(poolDrawPrefix, d.ID), d); err != nil {
		return err
	}
	return s.appendIndex(poolDrawIndexKey, d.ID)
}

// PoolDraws returns every pool draw in insertion order.
func (s *Store) PoolDraws() ([]*PoolDraw, error) {
	ids, err := s.loadIndex(poolDrawIndexKey)
	if err != nil {
		return nil, err
	}
	draws := make([]*PoolDraw, 0, len(ids))
	for _, id := range ids {
		d := new(PoolDraw)
		ok, err := s.getRecord(idKey(poolDrawPrefix, id), d)
		if err != nil {
			return nil, err
		}
		if ok {
			draws = append(draws, d)
		}
	}
	return draws, nil
}

// PoolDrawsByTID filters the pool draws recorded under one request.
func (s *Store) PoolDrawsByTID(tid uint64) ([]*PoolDraw, error) {
	draws, err := s.PoolDraws()
	if err != nil {
		return nil, err
	}
	matched := draws[:0]
	for _, d := range draws {
		if d.TID == tid {
			matched = append(matched, d)
		}
	}
	return matched, nil
}

// DeletePoolDraw removes one pool draw record.
func (s *Store) DeletePoolDraw(id uint64) error {
	if err := s.kv.Delete(idKey(poolDrawPrefix, id)); err != nil {
		return err
	}
	return s.removeIndex(poolDrawIndexKey, id)
}

// AppendHolderDraw assigns an id and records one holder's draw.
func (s *Store) AppendHolderDraw(d *HolderDraw) error {
	id, err := s.NextID("holderdraws")
	if err != nil {
		return err
	}
	d.ID = id
	d.Tokens = cloneAmount(d.Tokens)
	d.Reward = cloneAmount(d.Reward)
	if err := s.putRecord(idKey(hldrDrawPrefix, d.ID), d); err != nil {
		return err
	}
	return s.appendIndex(hldrDrawIndexKey, d.ID)
}

// HolderDraws returns every holder draw in insertion order.
func (s *Store) HolderDraws() ([]*HolderDraw, error) {
	ids, err := s.loadIndex(hldrDrawIndexKey)
	if err != nil {
		return nil, err
	}
	draws := make([]*HolderDraw, 0, len(ids))
	for _, id := range ids {
		d := new(HolderDraw)
		ok, err := s.getRecord(idKey(hldrDrawPrefix, id), d)
		if err != nil {
			return nil, err
		}
		if ok {
			draws = append(draws, d)
		}
	}
	return draws, nil
}

// HolderDrawsByTID filters the holder draws recorded under one request.
func (s *Store) HolderDrawsByTID(tid uint64) ([]*HolderDraw, error) {
	draws, err := s.HolderDraws()
	if err != nil {
		return nil, err
	}
	matched := draws[:0]
	for _, d := range draws {
		if d.TID == tid {
			matched = append(matched, d)
		}
	}
	return matched, nil
}

// DeleteHolderDraw removes one holder draw record.
func (s *Store) DeleteHolderDraw(id uint64) error {
	if err := s.kv.Delete(idKey(hldrDrawPrefix, id)); err != nil {
		return err
	}
	return s.removeIndex(hldrDrawIndexKey, id)
}

// --- time locks ---

// AppendPoolLock assigns an id and registers a pool-level lock.
func (s *Store) AppendPoolLock(l *PoolLock) error {
	id, err := s.NextID("poollocks")
	if err != nil {
		return err
	}
	l.ID = id
	l.Tokens = cloneAmount(l.Tokens)
	if err := s.putRecord(idKey(poolLockPrefix, l.ID), l); err != nil {
		return err
	}
	return s.appendIndex(poolLockIndexKey, l.ID)
}

// PoolLocks returns every pool-level lock in insertion order.
func (s *Store) PoolLocks() ([]*PoolLock, error) {
	ids, err := s.loadIndex(poolLockIndexKey)
	if err != nil {
		return nil, err
	}
	locks := make([]*PoolLock, 0, len(ids))
	for _, id := range ids {
		l := new(PoolLock)
		ok, err := s.getRecord(idKey(poolLockPrefix, id), l)
		if err != nil {
			return nil, err
		}
		if ok {
			locks = append(locks, l)
		}
	}
	return locks, nil
}

// DeletePoolLock releases one pool-level lock record.
func (s *Store) DeletePoolLock(id uint64) error {
	if err := s.kv.Delete(idKey(poolLockPrefix, id)); err != nil {
		return err
	}
	return s.removeIndex(poolLockIndexKey, id)
}

// AppendHolderLock assigns an id and registers a holder-level lock.
func (s *Store) AppendHolderLock(l *HolderLock) error {
	id, err := s.NextID("holderlocks")
	if err != nil {
		return err
	}
	l.ID = id
	l.Tokens = cloneAmount(l.Tokens)
	if err := s.putRecord(idKey(hldrLockPrefix, l.ID), l); err != nil {
		return err
	}
	return s.appendIndex(hldrLockIndexKey, l.ID)
}

// HolderLocks returns every holder-level lock in insertion order.
func (s *Store) HolderLocks() ([]*HolderLock, error) {
	ids, err := s.loadIndex(hldrLockIndexKey)
	if err != nil {
		return nil, err
	}
	locks := make([]*HolderLock, 0, len(ids))
	for _, id := range ids {
		l := new(HolderLock)
		ok, err := s.getRecord(idKey(hldrLockPrefix, id), l)
		if err != nil {
			return nil, err
		}
		if ok {
			locks = append(locks, l)
		}
	}
	return locks, nil
}

// DeleteHolderLock releases one holder-level lock record.
func (s *Store) DeleteHolderLock(id uint64) error {
	if err := s.kv.Delete(idKey(hldrLockPrefix, id)); err != nil {
		return err
	}
	return s.removeIndex(hldrLockIndexKey, id)
}

// StakeHolds adapts the stake table into the ledger's HoldSource so debits
// cannot dip into staked collateral.
type StakeHolds struct{}

// Held returns the amount staked by the account, or zero.
func (StakeHolds) Held(kv storage.KV, account string) (*big.Int, error) {
	stake, ok, err := NewStore(kv).Stake(account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return cloneAmount(stake.Tokens), nil
}
