package query

const (
	TypeGetAccountBalance     = "GET_ACCOUNT_BALANCE"
	TypeGetTransactionHistory = "GET_TRANSACTION_HISTORY"
	TypeListPositiveBalances  = "LIST_POSITIVE_BALANCES"
)

// History paging
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

type GetAccountBalance struct {
	AccountID string `json:"account_id"`
}

func (GetAccountBalance) QueryType() string { return TypeGetAccountBalance }

// GetTransactionHistory pages through an account's history, newest first.
// Zero Page and Limit mean the defaults.
type GetTransactionHistory struct {
	AccountID string `json:"account_id"`
	Page      int    `json:"page,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (GetTransactionHistory) QueryType() string { return TypeGetTransactionHistory }

// ListPositiveBalances selects the accounts a monthly reset applies to
type ListPositiveBalances struct{}

func (ListPositiveBalances) QueryType() string { return TypeListPositiveBalances }
