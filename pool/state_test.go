package pool

import (
	"math/big"
	"testing"

	"lendpool/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemDB())
}

func insertPool(t *testing.T, store *Store, name string, rewardBps uint64, active bool) *Pool {
	t.Helper()
	p := &Pool{
		Name:              name,
		Owner:             "alice",
		CollateralAccount: name + ".col",
		RewardAccount:     name + ".rwd",
		RewardBps:         rewardBps,
		Total:             big.NewInt(1_000_000),
		Available:         big.NewInt(1_000_000),
		Collateral:        big.NewInt(10_000_000),
		Active:            active,
	}
	if err := store.InsertPool(p); err != nil {
		t.Fatalf("insert %s: %v", name, err)
	}
	return p
}

func TestStoreSequencesStartAtZero(t *testing.T) {
	store := newTestStore(t)
	for want := uint64(0); want < 3; want++ {
		id, err := store.NextID("pools")
		if err != nil {
			t.Fatalf("next id: %v", err)
		}
		if id != want {
			t.Fatalf("id = %d, want %d", id, want)
		}
	}
	// Sequences are independent per table.
	id, err := store.NextID("holders")
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if id != 0 {
		t.Fatalf("holders sequence started at %d, want 0", id)
	}
}

func TestStorePoolRoundTrip(t *testing.T) {
	store := newTestStore(t)
	inserted := insertPool(t, store, "alpha.pool", 200, true)
	if inserted.ID != 0 {
		t.Fatalf("first pool id = %d, want 0", inserted.ID)
	}

	byName, ok, err := store.PoolByName("alpha.pool")
	if err != nil || !ok {
		t.Fatalf("by name: ok=%v err=%v", ok, err)
	}
	if byName.RewardBps != 200 || byName.Total.Int64() != 1_000_000 {
		t.Fatalf("round trip lost fields: %+v", byName)
	}
	if _, ok, _ := store.PoolByName("missing.pool"); ok {
		t.Fatalf("lookup of missing pool succeeded")
	}

	byName.RewardBps = 300
	if err := store.UpdatePool(byName); err != nil {
		t.Fatalf("update: %v", err)
	}
	reread, _, err := store.PoolByID(byName.ID)
	if err != nil || reread.RewardBps != 300 {
		t.Fatalf("update not visible: bps=%d err=%v", reread.RewardBps, err)
	}

	if err := store.DeletePool(byName.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.PoolByName("alpha.pool"); ok {
		t.Fatalf("name lookup survived delete")
	}
	pools, err := store.Pools()
	if err != nil || len(pools) != 0 {
		t.Fatalf("index survived delete: n=%d err=%v", len(pools), err)
	}
	// Deleting twice is harmless.
	if err := store.DeletePool(byName.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestPoolsByRewardOrdersAscending(t *testing.T) {
	store := newTestStore(t)
	insertPool(t, store, "high.pool", 300, true)
	insertPool(t, store, "low.pool", 100, true)
	insertPool(t, store, "mid.pool", 200, true)
	insertPool(t, store, "low2.pool", 100, true)

	pools, err := store.PoolsByReward()
	if err != nil {
		t.Fatalf("by reward: %v", err)
	}
	var got []string
	for _, p := range pools {
		got = append(got, p.Name)
	}
	// Equal rates keep insertion order.
	want := []string{"low.pool", "low2.pool", "mid.pool", "high.pool"}
	if len(got) != len(want) {
		t.Fatalf("pools = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pools = %v, want %v", got, want)
		}
	}
}

func TestCollateralInUseIgnoresInactivePools(t *testing.T) {
	store := newTestStore(t)
	active := insertPool(t, store, "alpha.pool", 200, true)
	insertPool(t, store, "beta.pool", 200, false)

	if used, err := store.CollateralInUse("alpha.pool.col"); err != nil || !used {
		t.Fatalf("active collateral: used=%v err=%v", used, err)
	}
	if used, err := store.CollateralInUse("beta.pool.col"); err != nil || used {
		t.Fatalf("inactive collateral: used=%v err=%v", used, err)
	}

	active.Active = false
	if err := store.UpdatePool(active); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if used, _ := store.CollateralInUse("alpha.pool.col"); used {
		t.Fatalf("collateral still in use after deactivation")
	}
}

func TestHolderPairLookup(t *testing.T) {
	store := newTestStore(t)
	positions := []*HolderPosition{
		{Pool: "alpha.pool", Holder: "bob", Total: big.NewInt(100), Remaining: big.NewInt(100), Active: true},
		{Pool: "alpha.pool", Holder: "carol", Total: big.NewInt(200), Remaining: big.NewInt(200), Active: true},
		{Pool: "beta.pool", Holder: "bob", Total: big.NewInt(300), Remaining: big.NewInt(300), Active: true},
	}
	for _, pos := range positions {
		if err := store.InsertHolder(pos); err != nil {
			t.Fatalf("insert %s/%s: %v", pos.Pool, pos.Holder, err)
		}
	}

	pos, ok, err := store.HolderByPair("beta.pool", "bob")
	if err != nil || !ok {
		t.Fatalf("pair lookup: ok=%v err=%v", ok, err)
	}
	if pos.Total.Int64() != 300 {
		t.Fatalf("wrong row resolved: total=%s", pos.Total)
	}
	if _, ok, _ := store.HolderByPair("alpha.pool", "dave"); ok {
		t.Fatalf("lookup of missing pair succeeded")
	}

	byPool, err := store.HoldersByPool("alpha.pool")
	if err != nil || len(byPool) != 2 {
		t.Fatalf("holders by pool: n=%d err=%v", len(byPool), err)
	}

	if err := store.DeleteHolder(pos.ID); err != nil {
		t.Fatalf("delete holder: %v", err)
	}
	if _, ok, _ := store.HolderByPair("beta.pool", "bob"); ok {
		t.Fatalf("pair lookup survived delete")
	}
}

func TestHoldersByLastUsedOrdersOldestFirst(t *testing.T) {
	store := newTestStore(t)
	rows := []struct {
		holder   string
		lastUsed uint64
	}{
		{"bob", 30},
		{"carol", 10},
		{"dave", 20},
		{"erin", 10},
	}
	for _, row := range rows {
		pos := &HolderPosition{
			Pool:       "alpha.pool",
			Holder:     row.holder,
			Total:      big.NewInt(100),
			Remaining:  big.NewInt(100),
			LastUsedAt: row.lastUsed,
			Active:     true,
		}
		if err := store.InsertHolder(pos); err != nil {
			t.Fatalf("insert %s: %v", row.holder, err)
		}
	}

	ordered, err := store.HoldersByLastUsed("alpha.pool")
	if err != nil {
		t.Fatalf("by last used: %v", err)
	}
	var got []string
	for _, pos := range ordered {
		got = append(got, pos.Holder)
	}
	// carol and erin tie at 10; insertion order breaks the tie.
	want := []string{"carol", "erin", "dave", "bob"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestDrawAndLockTablesByTID(t *testing.T) {
	store := newTestStore(t)
	draws := []*PoolDraw{
		{TID: 1, PoolID: 1, Tokens: big.NewInt(100), Reward: big.NewInt(2), OwnerReward: big.NewInt(1)},
		{TID: 2, PoolID: 1, Tokens: big.NewInt(200), Reward: big.NewInt(4), OwnerReward: big.NewInt(2)},
		{TID: 1, PoolID: 0, Tokens: big.NewInt(50), Reward: big.NewInt(1), OwnerReward: big.NewInt(1)},
	}
	for _, d := range draws {
		if err := store.AppendPoolDraw(d); err != nil {
			t.Fatalf("append pool draw: %v", err)
		}
	}
	forOne, err := store.PoolDrawsByTID(1)
	if err != nil || len(forOne) != 2 {
		t.Fatalf("draws for tid 1: n=%d err=%v", len(forOne), err)
	}
	if forOne[0].Tokens.Int64() != 100 || forOne[1].Tokens.Int64() != 50 {
		t.Fatalf("draw order lost: %s, %s", forOne[0].Tokens, forOne[1].Tokens)
	}
	if err := store.DeletePoolDraw(forOne[0].ID); err != nil {
		t.Fatalf("delete draw: %v", err)
	}
	forOne, _ = store.PoolDrawsByTID(1)
	if len(forOne) != 1 {
		t.Fatalf("draws after delete: n=%d", len(forOne))
	}

	lock := &HolderLock{Pool: "alpha.pool", HolderID: 3, Holder: "bob", Tokens: big.NewInt(75), LockedUntil: 99}
	if err := store.AppendHolderLock(lock); err != nil {
		t.Fatalf("append holder lock: %v", err)
	}
	locks, err := store.HolderLocks()
	if err != nil || len(locks) != 1 {
		t.Fatalf("holder locks: n=%d err=%v", len(locks), err)
	}
	if locks[0].LockedUntil != 99 || locks[0].Tokens.Int64() != 75 {
		t.Fatalf("lock round trip lost fields: %+v", locks[0])
	}
	if err := store.DeleteHolderLock(locks[0].ID); err != nil {
		t.Fatalf("delete lock: %v", err)
	}
	if locks, _ = store.HolderLocks(); len(locks) != 0 {
		t.Fatalf("lock survived delete")
	}
}

func TestRequestTableKeyedByTID(t *testing.T) {
	store := newTestStore(t)
	req := &ServiceRequest{
		TID:       42,
		Requester: "hotel",
		Total:     big.NewInt(1_000),
		Fee:       big.NewInt(5),
		Reward:    big.NewInt(20),
	}
	if err := store.InsertRequest(req); err != nil {
		t.Fatalf("insert request: %v", err)
	}
	got, ok, err := store.Request(42)
	if err != nil || !ok {
		t.Fatalf("request lookup: ok=%v err=%v", ok, err)
	}
	if got.Requester != "hotel" || got.FeePaid {
		t.Fatalf("round trip lost fields: %+v", got)
	}

	got.FeePaid = true
	if err := store.UpdateRequest(got); err != nil {
		t.Fatalf("update request: %v", err)
	}
	got, _, _ = store.Request(42)
	if !got.FeePaid {
		t.Fatalf("update not visible")
	}

	if err := store.DeleteRequest(42); err != nil {
		t.Fatalf("delete request: %v", err)
	}
	if _, ok, _ := store.Request(42); ok {
		t.Fatalf("request survived delete")
	}
}

func TestStakeHoldsReportsStakedAmount(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db)
	if err := store.PutStake(&CollateralStake{Account: "alpha.col", Tokens: big.NewInt(10_000_000)}); err != nil {
		t.Fatalf("put stake: %v", err)
	}

	held, err := StakeHolds{}.Held(db, "alpha.col")
	if err != nil {
		t.Fatalf("held: %v", err)
	}
	if held.Int64() != 10_000_000 {
		t.Fatalf("held = %s, want 10000000", held)
	}

	held, err = StakeHolds{}.Held(db, "unstaked")
	if err != nil {
		t.Fatalf("held for unstaked: %v", err)
	}
	if held != nil && held.Sign() != 0 {
		t.Fatalf("unstaked hold = %s, want zero", held)
	}

	if err := store.DeleteStake("alpha.col"); err != nil {
		t.Fatalf("delete stake: %v", err)
	}
	if held, _ := (StakeHolds{}).Held(db, "alpha.col"); held != nil && held.Sign() != 0 {
		t.Fatalf("hold survived stake deletion")
	}
}
