package ledger

import (
	"errors"
	"fmt"
)

// ErrMissingAuthority is returned when the invoking identity does not carry a
// required account's signature.
var ErrMissingAuthority = errors.New("ledger: missing required authority")

// Identity is the set of accounts the caller has proven authority for. The
// transport layer authenticates the caller and builds the identity; the
// engine and ledger only ever check membership.
type Identity map[string]struct{}

// NewIdentity builds an identity carrying authority for the given accounts.
func NewIdentity(accounts ...string) Identity {
	ident := make(Identity, len(accounts))
	for _, account := range accounts {
		ident[account] = struct{}{}
	}
	return ident
}

// Has reports whether the identity carries authority for the account.
func (i Identity) Has(account string) bool {
	_, ok := i[account]
	return ok
}

// RequireAuth fails unless the identity carries the account's authority.
func (i Identity) RequireAuth(account string) error {
	if i.Has(account) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingAuthority, account)
}
