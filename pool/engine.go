package pool

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"lendpool/ledger"
	"lendpool/storage"
)

var (
	ErrTIDExists               = errors.New("pool engine: TID already exists")
	ErrPoolExists              = errors.New("pool engine: pool already exists")
	ErrPoolNotFound            = errors.New("pool engine: pool not found")
	ErrPoolTerminated          = errors.New("pool engine: pool is terminated")
	ErrMainPoolMissing         = errors.New("pool engine: main pool not initialised")
	ErrAccountMissing          = errors.New("pool engine: account does not exist")
	ErrCollateralInUse         = errors.New("pool engine: collateral account already in use")
	ErrCollateralStaked        = errors.New("pool engine: collateral already staked")
	ErrCollateralTooLow        = errors.New("pool engine: invalid collateral amount")
	ErrInsufficientBalance     = errors.New("pool engine: insufficient token balance")
	ErrInsufficientPoolFunds   = errors.New("pool engine: insufficient pool token balance")
	ErrInsufficientEscrow      = errors.New("pool engine: insufficient escrow token balance")
	ErrInsufficientReward      = errors.New("pool engine: insufficient reward account balance")
	ErrHolderNotRegistered     = errors.New("pool engine: holder not registered in this pool")
	ErrHolderTerminated        = errors.New("pool engine: holder already terminated")
	ErrTokensLocked            = errors.New("pool engine: tokens currently locked or in use")
	ErrRequestNotFound         = errors.New("pool engine: record does not exist for TID")
	ErrFeeAlreadyPaid          = errors.New("pool engine: fee already collected for TID")
	ErrServiceAlreadyProvided  = errors.New("pool engine: service already provided for TID")
	ErrNoReward                = errors.New("pool engine: reward balance equal to zero")
	ErrNotOwner                = errors.New("pool engine: invalid owner")
	ErrHolderShortfall         = errors.New("pool engine: holder positions cannot cover pool draw")
	ErrZeroAmount              = errors.New("pool engine: amount must be positive")
	ErrRateOutOfRange          = errors.New("pool engine: rate exceeds 100%")
	ErrSchedulerNotConfigured  = errors.New("pool engine: scheduler not configured")
	ErrOwnerHasNoPools         = errors.New("pool engine: owner has no pools")
	ErrMainPoolHasNoBalanceRow = errors.New("pool engine: main pool has no token balance")
)

// Config carries the deployment constants the engine needs. It is immutable
// once the engine is constructed.
type Config struct {
	Operator              string
	Escrow                string
	FeeBps                uint64
	MainPool              string
	MainPoolRewardAccount string
	MainPoolRewardBps     uint64
	CollateralFloor       *big.Int
	LockCoefficient       int64
}

// Scheduler is the deferred-call collaborator: fire fn once, at or after
// delay, keyed by a unique id. Scheduling an id that is already in flight
// must fail. Delivery is best effort with no retry.
type Scheduler interface {
	Schedule(delay time.Duration, id string, fn func()) error
}

// Engine is the allocation, locking, and settlement core. Every public
// operation runs as one atomic unit over a transactional overlay: a violated
// precondition leaves both the tables and the ledger untouched. Operations
// are serialised on the ledger's lock, so engine commits and direct ledger
// calls cannot interleave over the shared backing store.
type Engine struct {
	db      storage.Database
	led     *ledger.Ledger
	cfg     Config
	sched   Scheduler
	emitter Emitter
	nowFn   func() uint64
	mu      sync.Locker
}

// NewEngine constructs an engine over the given store and ledger.
func NewEngine(db storage.Database, led *ledger.Ledger, cfg Config) *Engine {
	if cfg.CollateralFloor == nil {
		cfg.CollateralFloor = big.NewInt(0)
	}
	if cfg.MainPoolRewardAccount == "" {
		cfg.MainPoolRewardAccount = cfg.MainPool
	}
	return &Engine{
		db:      db,
		led:     led,
		cfg:     cfg,
		mu:      led.Locker(),
		emitter: NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetScheduler wires the deferred-call facility used for unlock sweeps.
func (e *Engine) SetScheduler(sched Scheduler) {
	if e == nil {
		return
	}
	e.sched = sched
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() uint64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.CollateralFloor = cloneAmount(e.cfg.CollateralFloor)
	return cfg
}

// view is the per-operation working set: the table store and a ledger
// transaction bound to the same overlay, plus the operation timestamp.
type view struct {
	store  *Store
	ledger *ledger.Tx
	now    uint64
}

func (e *Engine) run(fn func(v *view) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	overlay := storage.NewOverlay(e.db)
	v := &view{
		store:  NewStore(overlay),
		ledger: e.led.Bind(overlay),
		now:    e.nowFn(),
	}
	if err := fn(v); err != nil {
		overlay.Discard()
		return err
	}
	return overlay.Commit()
}

type unlockTask struct {
	delay uint64
	key   string
}

// RequestService sources the requested amount for the counterparty: it walks
// pools cheapest reward first, draws from every eligible pool, sub-allocates
// each draw across the pool's holders, registers time-locks, falls back to
// the main pool for any shortfall, then runs both settlement legs for the
// TID synchronously. The caller identity must carry the requester's
// authority for the fee transfer.
func (e *Engine) RequestService(ident ledger.Identity, tid uint64, requester string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	var tasks []unlockTask
	err := e.run(func(v *view) error {
		if _, exists, err := v.store.Request(tid); err != nil {
			return err
		} else if exists {
			return ErrTIDExists
		}

		fee := share(amount, e.cfg.FeeBps)
		found := big.NewInt(0)
		totalReward := big.NewInt(0)
		remaining := new(big.Int).Set(amount)

		pools, err := v.store.PoolsByReward()
		if err != nil {
			return err
		}
		for _, p := range pools {
			if p.ID == MainPoolID || !p.Active {
				continue
			}
			hasRow, err := v.ledger.HasAccount(p.Name)
			if err != nil {
				return err
			}
			if !hasRow {
				continue
			}
			eligible, err := e.collateralIntact(v, p)
			if err != nil {
				return err
			}
			if !eligible {
				continue
			}
			if p.Available.Sign() <= 0 {
				continue
			}
			poolBalance, err := v.ledger.Balance(p.Name)
			if err != nil {
				return err
			}
			if poolBalance.Sign() <= 0 {
				continue
			}
			if p.RestrictedFor(requester) {
				continue
			}

			draw := minAmount(remaining, p.Available)
			if poolBalance.Cmp(draw) < 0 {
				return fmt.Errorf("%w: %s", ErrInsufficientPoolFunds, p.Name)
			}
			if err := v.ledger.TransferAgent(p.Name, e.cfg.Escrow, draw, "pool to escrow"); err != nil {
				return err
			}

			reward := share(draw, p.RewardBps)
			ownerReward := shareOfShare(draw, p.RewardBps, p.OwnerShareBps)
			totalReward.Add(totalReward, reward)

			if err := v.store.AppendPoolDraw(&PoolDraw{
				TID:         tid,
				Requester:   requester,
				PoolID:      p.ID,
				Pool:        p.Name,
				Tokens:      draw,
				RewardBps:   p.RewardBps,
				Reward:      reward,
				OwnerReward: ownerReward,
				CreatedAt:   v.now,
			}); err != nil {
				return err
			}

			lockedUntil := v.now + p.LockSeconds
			if err := e.allocateHolders(v, tid, requester, p, draw, lockedUntil); err != nil {
				return err
			}

			p.LockUntil = lockedUntil
			p.Available = new(big.Int).Sub(p.Available, draw)
			if err := v.store.UpdatePool(p); err != nil {
				return err
			}

			lock := &PoolLock{
				PoolID:      p.ID,
				Pool:        p.Name,
				Tokens:      draw,
				LockedUntil: lockedUntil,
				CreatedAt:   v.now,
			}
			if err := v.store.AppendPoolLock(lock); err != nil {
				return err
			}
			tasks = append(tasks, unlockTask{
				delay: p.LockSeconds,
				key:   fmt.Sprintf("unlock/%d/%d/%s/%d", lock.ID, p.ID, requester, tid),
			})

			found.Add(found, draw)
			remaining.Sub(amount, found)
			if found.Cmp(amount) >= 0 {
				break
			}
		}

		// Liquidity of last resort: the unmet remainder comes from the main
		// pool with no eligibility checks.
		if found.Cmp(amount) < 0 {
			main, exists, err := v.store.PoolByID(MainPoolID)
			if err != nil {
				return err
			}
			if !exists {
				return ErrMainPoolMissing
			}
			draw := new(big.Int).Set(remaining)
			if err := v.ledger.TransferAgent(main.Name, e.cfg.Escrow, draw, "main pool to escrow"); err != nil {
				return err
			}
			reward := share(draw, main.RewardBps)
			ownerReward := shareOfShare(draw, main.RewardBps, main.OwnerShareBps)
			totalReward.Add(totalReward, reward)
			if err := v.store.AppendPoolDraw(&PoolDraw{
				TID:         tid,
				Requester:   requester,
				PoolID:      main.ID,
				Pool:        main.Name,
				Tokens:      draw,
				RewardBps:   main.RewardBps,
				Reward:      reward,
				OwnerReward: ownerReward,
				CreatedAt:   v.now,
			}); err != nil {
				return err
			}
			found.Add(found, draw)
		}

		if err := v.store.InsertRequest(&ServiceRequest{
			TID:       tid,
			Requester: requester,
			Total:     found,
			Fee:       fee,
			Reward:    totalReward,
			CreatedAt: v.now,
		}); err != nil {
			return err
		}

		if err := e.collectFee(v, ident, tid); err != nil {
			return err
		}
		return e.completeService(v, tid)
	})
	if err != nil {
		return err
	}

	for _, task := range tasks {
		e.scheduleUnlock(task)
	}
	e.emitter.Emit(newRequestEvent(EventServiceRequested, tid, requester, amount))
	return nil
}

// collateralIntact applies the registration-time collateral eligibility
// filter: the collateral account must still hold at least the amount
// recorded when the pool registered.
func (e *Engine) collateralIntact(v *view, p *Pool) (bool, error) {
	hasRow, err := v.ledger.HasAccount(p.CollateralAccount)
	if err != nil {
		return false, err
	}
	if !hasRow {
		return false, nil
	}
	balance, err := v.ledger.Balance(p.CollateralAccount)
	if err != nil {
		return false, err
	}
	return balance.Cmp(p.Collateral) >= 0, nil
}

func (e *Engine) scheduleUnlock(task unlockTask) {
	if e.sched == nil {
		return
	}
	// Fire-and-forget: a dropped callback is recovered by the periodic
	// reconciliation sweep.
	_ = e.sched.Schedule(time.Duration(task.delay)*time.Second, task.key, func() {
		_, _, _ = e.SweepExpiredLocks()
	})
}
