package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"lendpool/storage"
)

const maxMemoBytes = 256

var (
	errTokenExists     = errors.New("ledger: token with symbol already exists")
	errTokenNotCreated = errors.New("ledger: token does not exist, create token before use")
	errNotIssuer       = errors.New("ledger: tokens can only be issued to issuer account")
	errSupplyExceeded  = errors.New("ledger: quantity exceeds available supply")
	errNonPositive     = errors.New("ledger: must move a positive quantity")
	errSelfTransfer    = errors.New("ledger: cannot transfer to self")
	errMemoTooLong     = errors.New("ledger: memo has more than 256 bytes")
	errNoBalanceRow    = errors.New("ledger: no balance object found")
	errUnknownAccount  = errors.New("ledger: account does not exist")
	errOverdrawn       = errors.New("ledger: overdrawn balance")
	errHeldCollateral  = errors.New("ledger: overdrawn balance, locked in pool collateral")
	errBalanceNotZero  = errors.New("ledger: cannot close because the balance is not zero")
)

var (
	statKey       = []byte("ledger/stat")
	accountPrefix = []byte("ledger/acct/")
)

// TokenStats tracks the single token's circulating and maximum supply.
type TokenStats struct {
	Supply    *big.Int
	MaxSupply *big.Int
	Issuer    string
}

type accountRow struct {
	Balance *big.Int
}

// HoldSource reports how much of an account's balance is pinned as pool
// collateral and therefore unavailable to holder-authorized debits.
type HoldSource interface {
	Held(kv storage.KV, account string) (*big.Int, error)
}

// Ledger is the fungible token ledger the lending engine settles against.
// Public methods run as atomic units: a violated precondition leaves the
// backing store untouched.
type Ledger struct {
	db       storage.Database
	operator string
	symbol   string
	holds    HoldSource
	mu       sync.Mutex
}

// New constructs a ledger over the given store. The operator account is the
// only identity allowed to create the token supply.
func New(db storage.Database, operator, symbol string) *Ledger {
	return &Ledger{db: db, operator: operator, symbol: symbol}
}

// SetHoldSource wires the collateral-stake lookup that guards debits.
func (l *Ledger) SetHoldSource(holds HoldSource) {
	if l == nil {
		return
	}
	l.holds = holds
}

// Symbol returns the token symbol the ledger tracks.
func (l *Ledger) Symbol() string { return l.symbol }

// Locker exposes the mutex that serialises ledger commits. A component that
// commits its own overlays over the same backing store must hold this lock,
// or two concurrent commits can overwrite each other's account rows.
func (l *Ledger) Locker() sync.Locker { return &l.mu }

// Bind returns a transaction view over the supplied KV so the ledger can
// participate in a larger atomic operation owned by the caller.
func (l *Ledger) Bind(kv storage.KV) *Tx {
	return &Tx{ledger: l, kv: kv}
}

func (l *Ledger) run(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	overlay := storage.NewOverlay(l.db)
	if err := fn(l.Bind(overlay)); err != nil {
		overlay.Discard()
		return err
	}
	return overlay.Commit()
}

// Create registers the token supply. Only the operator may call it.
func (l *Ledger) Create(ident Identity, issuer string, maxSupply *big.Int) error {
	return l.run(func(tx *Tx) error { return tx.Create(ident, issuer, maxSupply) })
}

// Issue mints tokens to the issuer account.
func (l *Ledger) Issue(ident Identity, to string, amount *big.Int, memo string) error {
	return l.run(func(tx *Tx) error { return tx.Issue(ident, to, amount, memo) })
}

// Retire burns tokens from the issuer account.
func (l *Ledger) Retire(ident Identity, amount *big.Int, memo string) error {
	return l.run(func(tx *Tx) error { return tx.Retire(ident, amount, memo) })
}

// Transfer moves tokens between accounts with the sender's authority.
func (l *Ledger) Transfer(ident Identity, from, to string, amount *big.Int, memo string) error {
	return l.run(func(tx *Tx) error { return tx.Transfer(ident, from, to, amount, memo) })
}

// Open creates a zero balance row for the account.
func (l *Ledger) Open(owner string) error {
	return l.run(func(tx *Tx) error { return tx.Open(owner) })
}

// Close removes the account's balance row. The balance must be zero and the
// owner must authorize the call.
func (l *Ledger) Close(ident Identity, owner string) error {
	return l.run(func(tx *Tx) error { return tx.Close(ident, owner) })
}

// Balance returns the account's current balance.
func (l *Ledger) Balance(account string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Bind(l.db).Balance(account)
}

// HasAccount reports whether the account has an open balance row.
func (l *Ledger) HasAccount(account string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Bind(l.db).HasAccount(account)
}

// Supply returns the token's circulating supply.
func (l *Ledger) Supply() (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats, err := l.Bind(l.db).stats()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(stats.Supply), nil
}

// Tx is a ledger view bound to a caller-owned KV. Nothing is committed by the
// Tx itself; the owner of the KV decides the fate of the mutations.
type Tx struct {
	ledger *Ledger
	kv     storage.KV
}

func accountKey(account string) []byte {
	return append(append([]byte{}, accountPrefix...), account...)
}

func (t *Tx) stats() (*TokenStats, error) {
	raw, err := t.kv.Get(statKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errTokenNotCreated
	}
	if err != nil {
		return nil, err
	}
	stats := new(TokenStats)
	if err := rlp.DecodeBytes(raw, stats); err != nil {
		return nil, fmt.Errorf("ledger: decode stats: %w", err)
	}
	return stats, nil
}

func (t *Tx) putStats(stats *TokenStats) error {
	encoded, err := rlp.EncodeToBytes(stats)
	if err != nil {
		return err
	}
	return t.kv.Put(statKey, encoded)
}

func (t *Tx) account(name string) (*accountRow, error) {
	raw, err := t.kv.Get(accountKey(name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", errNoBalanceRow, name)
	}
	if err != nil {
		return nil, err
	}
	row := new(accountRow)
	if err := rlp.DecodeBytes(raw, row); err != nil {
		return nil, fmt.Errorf("ledger: decode account %s: %w", name, err)
	}
	return row, nil
}

func (t *Tx) putAccount(name string, row *accountRow) error {
	if row.Balance == nil {
		row.Balance = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(row)
	if err != nil {
		return err
	}
	return t.kv.Put(accountKey(name), encoded)
}

// Create registers the token supply.
func (t *Tx) Create(ident Identity, issuer string, maxSupply *big.Int) error {
	if err := ident.RequireAuth(t.ledger.operator); err != nil {
		return err
	}
	if maxSupply == nil || maxSupply.Sign() <= 0 {
		return errNonPositive
	}
	if has, err := t.kv.Has(statKey); err != nil {
		return err
	} else if has {
		return errTokenExists
	}
	return t.putStats(&TokenStats{
		Supply:    big.NewInt(0),
		MaxSupply: new(big.Int).Set(maxSupply),
		Issuer:    issuer,
	})
}

// Issue mints tokens to the issuer.
func (t *Tx) Issue(ident Identity, to string, amount *big.Int, memo string) error {
	if len(memo) > maxMemoBytes {
		return errMemoTooLong
	}
	stats, err := t.stats()
	if err != nil {
		return err
	}
	if to != stats.Issuer {
		return errNotIssuer
	}
	if err := ident.RequireAuth(stats.Issuer); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errNonPositive
	}
	headroom := new(big.Int).Sub(stats.MaxSupply, stats.Supply)
	if amount.Cmp(headroom) > 0 {
		return errSupplyExceeded
	}
	stats.Supply = new(big.Int).Add(stats.Supply, amount)
	if err := t.putStats(stats); err != nil {
		return err
	}
	return t.credit(stats.Issuer, amount)
}

// Retire burns tokens from the issuer's balance.
func (t *Tx) Retire(ident Identity, amount *big.Int, memo string) error {
	if len(memo) > maxMemoBytes {
		return errMemoTooLong
	}
	stats, err := t.stats()
	if err != nil {
		return err
	}
	if err := ident.RequireAuth(stats.Issuer); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errNonPositive
	}
	stats.Supply = new(big.Int).Sub(stats.Supply, amount)
	if err := t.putStats(stats); err != nil {
		return err
	}
	return t.debit(stats.Issuer, amount, true)
}

// Transfer moves tokens with the sender's authority. Debits respect any
// collateral hold registered against the sender.
func (t *Tx) Transfer(ident Identity, from, to string, amount *big.Int, memo string) error {
	if err := ident.RequireAuth(from); err != nil {
		return err
	}
	return t.move(from, to, amount, memo, true)
}

// TransferAgent moves tokens without per-call caller authority. It is the
// privileged variant the engine uses for escrow-internal hops where it acts
// as an agent rather than the fund owner. Collateral holds are not applied.
func (t *Tx) TransferAgent(from, to string, amount *big.Int, memo string) error {
	return t.move(from, to, amount, memo, false)
}

func (t *Tx) move(from, to string, amount *big.Int, memo string, checkHolds bool) error {
	if from == to {
		return errSelfTransfer
	}
	if amount == nil || amount.Sign() <= 0 {
		return errNonPositive
	}
	if len(memo) > maxMemoBytes {
		return errMemoTooLong
	}
	if _, err := t.stats(); err != nil {
		return err
	}
	if has, err := t.HasAccount(to); err != nil {
		return err
	} else if !has {
		return fmt.Errorf("%w: %s", errUnknownAccount, to)
	}
	if err := t.debit(from, amount, checkHolds); err != nil {
		return err
	}
	return t.credit(to, amount)
}

func (t *Tx) debit(account string, amount *big.Int, checkHolds bool) error {
	row, err := t.account(account)
	if err != nil {
		return err
	}
	if row.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", errOverdrawn, account)
	}
	if checkHolds && t.ledger.holds != nil {
		held, err := t.ledger.holds.Held(t.kv, account)
		if err != nil {
			return err
		}
		if held != nil && held.Sign() > 0 {
			needed := new(big.Int).Add(held, amount)
			if row.Balance.Cmp(needed) < 0 {
				return fmt.Errorf("%w: %s", errHeldCollateral, account)
			}
		}
	}
	row.Balance = new(big.Int).Sub(row.Balance, amount)
	return t.putAccount(account, row)
}

func (t *Tx) credit(account string, amount *big.Int) error {
	row, err := t.account(account)
	if errors.Is(err, errNoBalanceRow) {
		row = &accountRow{Balance: big.NewInt(0)}
	} else if err != nil {
		return err
	}
	row.Balance = new(big.Int).Add(row.Balance, amount)
	return t.putAccount(account, row)
}

// Open creates a zero balance row when none exists.
func (t *Tx) Open(owner string) error {
	if _, err := t.stats(); err != nil {
		return err
	}
	if has, err := t.HasAccount(owner); err != nil {
		return err
	} else if has {
		return nil
	}
	return t.putAccount(owner, &accountRow{Balance: big.NewInt(0)})
}

// Close deletes the owner's balance row once it reaches zero.
func (t *Tx) Close(ident Identity, owner string) error {
	if err := ident.RequireAuth(owner); err != nil {
		return err
	}
	row, err := t.account(owner)
	if err != nil {
		return err
	}
	if row.Balance.Sign() != 0 {
		return errBalanceNotZero
	}
	return t.kv.Delete(accountKey(owner))
}

// Balance returns the account's balance, failing when no row exists.
func (t *Tx) Balance(account string) (*big.Int, error) {
	row, err := t.account(account)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(row.Balance), nil
}

// HasAccount reports whether a balance row exists for the account.
func (t *Tx) HasAccount(account string) (bool, error) {
	return t.kv.Has(accountKey(account))
}
