package entitlements

import (
	"errors"
	"time"
)

// Resource names a billable balance on an account.
type Resource string

const (
	Credits      Resource = "credits"
	ChatMessages Resource = "chat_messages"
)

// column maps each resource to its entitlements column. Only these
// identifiers are ever interpolated into SQL.
var column = map[Resource]string{
	Credits:      "credits",
	ChatMessages: "chat_messages",
}

func (r Resource) Valid() bool {
	_, ok := column[r]
	return ok
}

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrUnknownResource     = errors.New("unknown resource")
	ErrAccountNotFound     = errors.New("account not found")
	ErrHoldNotFound        = errors.New("hold not found")
)

// Account is a user's billable allowance.
type Account struct {
	UserID        string    `json:"user_id"`
	Credits       int       `json:"credits"`
	ChatAllowance int       `json:"chat_allowance"`
	Unlimited     bool      `json:"is_unlimited"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Balance returns the balance of r.
func (a Account) Balance(r Resource) int {
	if r == ChatMessages {
		return a.ChatAllowance
	}
	return a.Credits
}

// Hold earmarks part of a balance for an operation still in flight. It
// never changes the balance itself; Settle turns it into a debit and
// Release drops it.
type Hold struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Resource  Resource  `json:"resource"`
	Amount    int       `json:"amount"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Grant is the allowance given to a newly created account.
type Grant struct {
	Credits      int
	ChatMessages int
}
