package command

const (
	TypeGrantCredit         = "GRANT_CREDIT"
	TypeWithdrawCredit      = "WITHDRAW_CREDIT"
	TypeRequestReversal     = "REQUEST_REVERSAL"
	TypeProcessReversal     = "PROCESS_REVERSAL"
	TypeResetAccount        = "RESET_ACCOUNT"
	TypeTriggerMonthlyReset = "TRIGGER_MONTHLY_RESET"
)

// Account Commands
type GrantCredit struct {
	AccountID   string `json:"account_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

func (GrantCredit) CommandType() string { return TypeGrantCredit }

type WithdrawCredit struct {
	AccountID   string `json:"account_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

func (WithdrawCredit) CommandType() string { return TypeWithdrawCredit }

type RequestReversal struct {
	AccountID     string `json:"account_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason,omitempty"`
}

func (RequestReversal) CommandType() string { return TypeRequestReversal }

// Saga Commands
type ProcessReversal struct {
	AccountID     string `json:"account_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
}

func (ProcessReversal) CommandType() string { return TypeProcessReversal }

type ResetAccount struct {
	AccountID string `json:"account_id"`
	Period    string `json:"period,omitempty"`
}

func (ResetAccount) CommandType() string { return TypeResetAccount }

// Schedule Commands
type TriggerMonthlyReset struct {
	Period string `json:"period"`
}

func (TriggerMonthlyReset) CommandType() string { return TypeTriggerMonthlyReset }
