package readmodel

import "time"

// AccountBalance is the read model for an account's current balance
type AccountBalance struct {
	AccountID string    `json:"account_id"`
	Balance   int64     `json:"balance"`
	Version   int       `json:"version"` // Highest event version applied
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction types recorded in the history
const (
	TransactionCredit   = "CREDIT"
	TransactionWithdraw = "WITHDRAWAL"
	TransactionReversal = "REVERSAL"
	TransactionReset    = "RESET"
)

// Transaction is one entry of an account's transaction history.
// ID is the id of the event that produced it.
type Transaction struct {
	ID        string            `json:"id"`
	AccountID string            `json:"account_id"`
	Type      string            `json:"type"`
	Amount    int64             `json:"amount"`
	Version   int               `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TransactionPage is a page of history, newest first
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
	Page         int           `json:"page"`
	Limit        int           `json:"limit"`
}
