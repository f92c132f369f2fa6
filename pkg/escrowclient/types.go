// Package escrowclient is a Go client for the escrowd HTTP API.
// This is the foundation for agent-side integrations.
package escrowclient

import (
	"fmt"
	"time"
)

// Escrow mirrors the server's escrow representation.
type Escrow struct {
	ID          uint64     `json:"id"`
	BuyerAddr   string     `json:"buyerAddr"`
	SellerAddr  string     `json:"sellerAddr"`
	Amount      uint64     `json:"amount"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	FundedAt    *time.Time `json:"fundedAt,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Dispute mirrors the server's dispute representation.
type Dispute struct {
	EscrowID   uint64     `json:"escrowId"`
	RaisedBy   string     `json:"raisedBy"`
	Reason     string     `json:"reason"`
	Resolved   bool       `json:"resolved"`
	Winner     string     `json:"winner,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Balance mirrors the server's ledger balance representation.
type Balance struct {
	AccountAddr string    `json:"accountAddr"`
	Available   uint64    `json:"available"`
	Escrowed    uint64    `json:"escrowed"`
	TotalIn     uint64    `json:"totalIn"`
	TotalOut    uint64    `json:"totalOut"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FeeQuote is the server's fee calculation for a hypothetical amount.
type FeeQuote struct {
	Amount uint64 `json:"amount"`
	Fee    uint64 `json:"fee"`
	Payout uint64 `json:"payout"`
}

// Platform describes the platform configuration.
type Platform struct {
	Owner      string `json:"owner"`
	Arbiter    string `json:"arbiter"`
	FeeRateBps uint32 `json:"feeRateBps"`
}

// Error is an API error response.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is an API not_found error.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*Error)
	return ok && apiErr.Code == "not_found"
}
