/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

AMOUNTS:
  Amounts are rendered as fixed 4-decimal strings ("1.5000"). Requests
  accept either a string or a bare JSON number.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/payments-engine/payment"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionRequest is one transaction submitted over HTTP. It mirrors a
// CSV row: amount is required for deposits and withdrawals and ignored
// otherwise.
type TransactionRequest struct {
	Type   string          `json:"type"`
	Client uint16          `json:"client"`
	Tx     uint32          `json:"tx"`
	Amount *payment.Amount `json:"amount,omitempty"`
}

func (r TransactionRequest) toTransaction() (payment.Transaction, error) {
	kind, err := payment.ParseKind(r.Type)
	if err != nil {
		return payment.Transaction{}, err
	}
	tx := payment.Transaction{
		Client: payment.ClientID(r.Client),
		ID:     payment.TransactionID(r.Tx),
		Kind:   kind,
	}
	if kind.CarriesAmount() {
		if r.Amount == nil {
			return payment.Transaction{}, &payment.ValidationError{Field: "amount", Reason: kind.String() + " requires an amount"}
		}
		tx.Amount = *r.Amount
	}
	return tx, nil
}

// ApplyResponse is returned for a transaction the engine accepted.
// Result is "applied", or "ignored" when a dispute, resolve or chargeback
// referenced a transaction the client never made.
type ApplyResponse struct {
	Result  string     `json:"result"`
	RunID   string     `json:"run_id,omitempty"`
	Seq     int        `json:"seq"`
	Balance BalanceDTO `json:"balance"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type BalanceDTO struct {
	Client    uint16         `json:"client"`
	Available payment.Amount `json:"available"`
	Held      payment.Amount `json:"held"`
	Total     payment.Amount `json:"total"`
	Locked    bool           `json:"locked"`
}

func toBalanceDTO(b payment.AccountBalance) BalanceDTO {
	return BalanceDTO{
		Client:    uint16(b.Client),
		Available: b.Available,
		Held:      b.Held,
		Total:     b.Total(),
		Locked:    b.Locked,
	}
}

func toBalanceDTOs(balances []payment.AccountBalance) []BalanceDTO {
	dtos := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toBalanceDTO(b)
	}
	return dtos
}

// StatsResponse reports the live engine counters.
type StatsResponse struct {
	payment.Stats
	RunID string `json:"run_id,omitempty"`
}

// =============================================================================
// JOURNAL
// =============================================================================

type CheckpointResponse struct {
	RunID   string `json:"run_id,omitempty"`
	Clients int    `json:"clients"`
}

type RunDTO struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
}

type OutcomeDTO struct {
	Seq    int             `json:"seq"`
	Type   string          `json:"type"`
	Client uint16          `json:"client"`
	Tx     uint32          `json:"tx"`
	Amount *payment.Amount `json:"amount,omitempty"`
	Result string          `json:"result"`
	Reason string          `json:"reason,omitempty"`
	Detail string          `json:"detail,omitempty"`
}

func toOutcomeDTO(o payment.Outcome) OutcomeDTO {
	dto := OutcomeDTO{
		Seq:    o.Seq,
		Type:   o.Transaction.Kind.String(),
		Client: uint16(o.Transaction.Client),
		Tx:     uint32(o.Transaction.ID),
		Result: o.Result.String(),
		Reason: o.Reason,
		Detail: o.Detail,
	}
	if o.Transaction.Kind.CarriesAmount() {
		amount := o.Transaction.Amount
		dto.Amount = &amount
	}
	return dto
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}
