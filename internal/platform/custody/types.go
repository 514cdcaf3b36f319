package custody

import (
	"fmt"
	"strconv"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// --------------------------------------------------------------------------
// Bridge API DTOs
//
// Amounts cross the wire as decimal strings to survive JSON number
// precision limits.
// --------------------------------------------------------------------------

// PayoutRequest asks the bridge to release the amounts quoted on a
// withdrawal claim.
type PayoutRequest struct {
	ClaimID    string `json:"claim_id"`
	MarketID   string `json:"market_id"`
	Owner      string `json:"owner"`
	AssetOut   string `json:"asset_out"`
	StableOut  string `json:"stable_out"`
	VoucherSig string `json:"voucher_sig"`
}

// NewPayoutRequest builds a PayoutRequest from a signed withdrawal claim.
func NewPayoutRequest(claim domain.WithdrawalClaim) PayoutRequest {
	return PayoutRequest{
		ClaimID:    claim.ID,
		MarketID:   claim.MarketID,
		Owner:      claim.Owner,
		AssetOut:   strconv.FormatUint(claim.AssetOut, 10),
		StableOut:  strconv.FormatUint(claim.StableOut, 10),
		VoucherSig: claim.VoucherSig,
	}
}

// PayoutState is the bridge-side lifecycle of a payout.
type PayoutState string

const (
	PayoutPending   PayoutState = "pending"
	PayoutSent      PayoutState = "sent"
	PayoutConfirmed PayoutState = "confirmed"
	PayoutRejected  PayoutState = "rejected"
)

// APIPayout is a payout as returned by the bridge.
type APIPayout struct {
	ClaimID     string `json:"claim_id"`
	Status      string `json:"status"`
	TxHash      string `json:"tx_hash"`
	Reason      string `json:"reason"`
	RequestedAt string `json:"requested_at"` // RFC 3339
	CompletedAt string `json:"completed_at"` // RFC 3339, empty until terminal
}

// Payout is the venue-side view of a bridge payout.
type Payout struct {
	ClaimID     string
	Status      PayoutState
	TxHash      string
	Reason      string
	RequestedAt time.Time
	CompletedAt *time.Time
}

// ToPayout converts the API DTO, parsing timestamps.
func (p *APIPayout) ToPayout() (Payout, error) {
	out := Payout{
		ClaimID: p.ClaimID,
		Status:  PayoutState(p.Status),
		TxHash:  p.TxHash,
		Reason:  p.Reason,
	}

	if p.RequestedAt != "" {
		ts, err := time.Parse(time.RFC3339, p.RequestedAt)
		if err != nil {
			return Payout{}, fmt.Errorf("parse requested_at %q: %w", p.RequestedAt, err)
		}
		out.RequestedAt = ts
	}
	if p.CompletedAt != "" {
		ts, err := time.Parse(time.RFC3339, p.CompletedAt)
		if err != nil {
			return Payout{}, fmt.Errorf("parse completed_at %q: %w", p.CompletedAt, err)
		}
		out.CompletedAt = &ts
	}

	return out, nil
}

// APIDeposit is a confirmed deposit as returned by the bridge.
type APIDeposit struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	MarketID   string `json:"market_id"`
	Side       string `json:"side"` // "asset" or "stable"
	Amount     string `json:"amount"`
	TxHash     string `json:"tx_hash"`
	CreditedAt string `json:"credited_at"` // RFC 3339
}

// Deposit is the venue-side view of a bridge deposit.
type Deposit struct {
	ID         string
	Owner      string
	MarketID   string
	Side       domain.Side
	Amount     uint64
	TxHash     string
	CreditedAt time.Time
}

// ToDeposit converts the API DTO, parsing the amount and timestamp.
func (d *APIDeposit) ToDeposit() (Deposit, error) {
	amount, err := strconv.ParseUint(d.Amount, 10, 64)
	if err != nil {
		return Deposit{}, fmt.Errorf("parse amount %q: %w", d.Amount, err)
	}

	out := Deposit{
		ID:       d.ID,
		Owner:    d.Owner,
		MarketID: d.MarketID,
		Side:     domain.Side(d.Side),
		Amount:   amount,
		TxHash:   d.TxHash,
	}

	if d.CreditedAt != "" {
		ts, err := time.Parse(time.RFC3339, d.CreditedAt)
		if err != nil {
			return Deposit{}, fmt.Errorf("parse credited_at %q: %w", d.CreditedAt, err)
		}
		out.CreditedAt = ts
	}

	return out, nil
}

// APIError is a bridge API error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
