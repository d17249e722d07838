package ledger

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"lendpool/storage"
)

func newTestLedger(t *testing.T) (*Ledger, Identity) {
	t.Helper()
	led := New(storage.NewMemDB(), "operator", "AIM")
	op := NewIdentity("operator")
	if err := led.Create(op, "operator", big.NewInt(1_000_000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := led.Issue(op, "operator", big.NewInt(500_000), "seed"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	return led, op
}

func TestCreateRequiresOperator(t *testing.T) {
	led := New(storage.NewMemDB(), "operator", "AIM")
	err := led.Create(NewIdentity("mallory"), "operator", big.NewInt(100))
	if !errors.Is(err, ErrMissingAuthority) {
		t.Fatalf("err = %v, want ErrMissingAuthority", err)
	}

	op := NewIdentity("operator")
	if err := led.Create(op, "operator", big.NewInt(100)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := led.Create(op, "operator", big.NewInt(100)); err == nil {
		t.Fatalf("second create accepted")
	}
}

func TestIssueRules(t *testing.T) {
	led, op := newTestLedger(t)

	supply, err := led.Supply()
	if err != nil || supply.Int64() != 500_000 {
		t.Fatalf("supply = %s, %v", supply, err)
	}

	// Only the issuer account can receive issuance.
	if err := led.Open("alice"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := led.Issue(op, "alice", big.NewInt(1), "x"); err == nil {
		t.Fatalf("issue to non-issuer accepted")
	}
	// Issuance past max supply is rejected.
	if err := led.Issue(op, "operator", big.NewInt(500_001), "x"); err == nil {
		t.Fatalf("issue past max supply accepted")
	}
	// Issuance needs the issuer's authority.
	if err := led.Issue(NewIdentity("alice"), "operator", big.NewInt(1), "x"); !errors.Is(err, ErrMissingAuthority) {
		t.Fatalf("unauthorized issue: err = %v", err)
	}

	if err := led.Retire(op, big.NewInt(100_000), "burn"); err != nil {
		t.Fatalf("retire: %v", err)
	}
	supply, _ = led.Supply()
	if supply.Int64() != 400_000 {
		t.Fatalf("supply after retire = %s, want 400000", supply)
	}
}

func TestTransferRules(t *testing.T) {
	led, op := newTestLedger(t)
	if err := led.Open("alice"); err != nil {
		t.Fatalf("open alice: %v", err)
	}

	// Recipient must have an open balance row.
	err := led.Transfer(op, "operator", "bob", big.NewInt(10), "x")
	if err == nil || !strings.Contains(err.Error(), "account does not exist") {
		t.Fatalf("transfer to unopened account: err = %v", err)
	}

	if err := led.Transfer(op, "operator", "alice", big.NewInt(10_000), "pay"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	balance, err := led.Balance("alice")
	if err != nil || balance.Int64() != 10_000 {
		t.Fatalf("alice balance = %s, %v", balance, err)
	}

	alice := NewIdentity("alice")
	// Sender's authority is required.
	if err := led.Transfer(op, "alice", "operator", big.NewInt(1), "x"); !errors.Is(err, ErrMissingAuthority) {
		t.Fatalf("transfer without sender auth: err = %v", err)
	}
	// Overdrafts are rejected.
	err = led.Transfer(alice, "alice", "operator", big.NewInt(10_001), "x")
	if err == nil || !strings.Contains(err.Error(), "overdrawn") {
		t.Fatalf("overdraft: err = %v", err)
	}
	// Self transfers, non-positive amounts, and oversized memos are rejected.
	if err := led.Transfer(alice, "alice", "alice", big.NewInt(1), "x"); err == nil {
		t.Fatalf("self transfer accepted")
	}
	if err := led.Transfer(alice, "alice", "operator", big.NewInt(0), "x"); err == nil {
		t.Fatalf("zero transfer accepted")
	}
	if err := led.Transfer(alice, "alice", "operator", big.NewInt(1), strings.Repeat("m", 257)); err == nil {
		t.Fatalf("oversized memo accepted")
	}

	// A failed transfer must not move anything.
	balance, _ = led.Balance("alice")
	if balance.Int64() != 10_000 {
		t.Fatalf("alice balance after rejected transfers = %s, want 10000", balance)
	}
}

type fixedHold struct {
	account string
	held    *big.Int
}

func (h fixedHold) Held(_ storage.KV, account string) (*big.Int, error) {
	if account == h.account {
		return h.held, nil
	}
	return nil, nil
}

func TestHoldsBlockAuthorizedDebitsOnly(t *testing.T) {
	led, op := newTestLedger(t)
	if err := led.Open("alice"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := led.Transfer(op, "operator", "alice", big.NewInt(10_000), "seed"); err != nil {
		t.Fatalf("seed alice: %v", err)
	}
	led.SetHoldSource(fixedHold{account: "alice", held: big.NewInt(8_000)})

	alice := NewIdentity("alice")
	// Anything above the free margin is pinned.
	err := led.Transfer(alice, "alice", "operator", big.NewInt(2_001), "x")
	if err == nil || !strings.Contains(err.Error(), "locked in pool collateral") {
		t.Fatalf("held debit: err = %v", err)
	}
	if err := led.Transfer(alice, "alice", "operator", big.NewInt(2_000), "x"); err != nil {
		t.Fatalf("free margin transfer: %v", err)
	}

	// The agent path ignores holds; the engine uses it for settlement hops.
	if err := led.Open("escrow"); err != nil {
		t.Fatalf("open escrow: %v", err)
	}
	err = led.run(func(tx *Tx) error {
		return tx.TransferAgent("alice", "escrow", big.NewInt(8_000), "draw")
	})
	if err != nil {
		t.Fatalf("agent transfer: %v", err)
	}
	balance, _ := led.Balance("escrow")
	if balance.Int64() != 8_000 {
		t.Fatalf("escrow balance = %s, want 8000", balance)
	}
}

func TestOpenAndClose(t *testing.T) {
	led, op := newTestLedger(t)

	if err := led.Open("alice"); err != nil {
		t.Fatalf("open: %v", err)
	}
	// Open is idempotent and does not clobber a balance.
	if err := led.Transfer(op, "operator", "alice", big.NewInt(5), "x"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := led.Open("alice"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if balance, _ := led.Balance("alice"); balance.Int64() != 5 {
		t.Fatalf("reopen clobbered balance: %s", balance)
	}

	alice := NewIdentity("alice")
	// Close needs a zero balance and the owner's authority.
	if err := led.Close(alice, "alice"); err == nil {
		t.Fatalf("close with balance accepted")
	}
	if err := led.Transfer(alice, "alice", "operator", big.NewInt(5), "x"); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := led.Close(op, "alice"); !errors.Is(err, ErrMissingAuthority) {
		t.Fatalf("close without owner auth: err = %v", err)
	}
	if err := led.Close(alice, "alice"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if has, _ := led.HasAccount("alice"); has {
		t.Fatalf("balance row survived close")
	}
}

func TestIdentityAuthority(t *testing.T) {
	ident := NewIdentity("alice", "bob")
	if !ident.Has("alice") || !ident.Has("bob") || ident.Has("carol") {
		t.Fatalf("membership wrong: %v", ident)
	}
	if err := ident.RequireAuth("alice"); err != nil {
		t.Fatalf("require alice: %v", err)
	}
	if err := ident.RequireAuth("carol"); !errors.Is(err, ErrMissingAuthority) {
		t.Fatalf("require carol: err = %v", err)
	}
}
