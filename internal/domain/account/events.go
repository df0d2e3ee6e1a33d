package account

import "time"

const (
	EventCreditGranted     = "CreditGranted"
	EventCreditWithdrawn   = "CreditWithdrawn"
	EventReversalRequested = "ReversalRequested"
	EventReversalProcessed = "ReversalProcessed"
	EventAccountReset      = "AccountReset"
)

type CreditGranted struct {
	AccountID   string    `json:"account_id"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description,omitempty"`
	GrantedAt   time.Time `json:"granted_at"`
}

type CreditWithdrawn struct {
	AccountID   string    `json:"account_id"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description,omitempty"`
	WithdrawnAt time.Time `json:"withdrawn_at"`
}

// ReversalRequested starts the reversal saga; it does not move money
type ReversalRequested struct {
	AccountID     string    `json:"account_id"`
	TransactionID string    `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Reason        string    `json:"reason,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
}

// ReversalProcessed credits the reversed amount back to the account
type ReversalProcessed struct {
	AccountID       string    `json:"account_id"`
	TransactionID   string    `json:"transaction_id"`
	Amount          int64     `json:"amount"`
	OriginalBalance int64     `json:"original_balance"`
	ProcessedAt     time.Time `json:"processed_at"`
}

type AccountReset struct {
	AccountID       string    `json:"account_id"`
	PreviousBalance int64     `json:"previous_balance"`
	Period          string    `json:"period,omitempty"`
	ResetAt         time.Time `json:"reset_at"`
}
