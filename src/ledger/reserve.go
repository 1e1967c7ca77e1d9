package ledger

import (
	"context"
	"sync"

	"cove-observer/src/helpers"
	"cove-observer/src/interfaces"
	"cove-observer/src/models"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// -----------------------------------------------------------------------------
// ReservePolicy decides the activation threshold. It holds a static value
// and, once Refresh has succeeded, the live base reserve reported by the
// server. PreferLive picks which one wins.
// -----------------------------------------------------------------------------

type ReservePolicy struct {
	mu         sync.RWMutex
	static     int64
	live       int64
	PreferLive bool
}

func NewReservePolicy(staticDrops int64, preferLive bool) *ReservePolicy {
	if staticDrops <= 0 {
		staticDrops = models.DefaultReserveDrops
	}
	return &ReservePolicy{static: staticDrops, PreferLive: preferLive}
}

// Threshold returns the reserve in drops an account must hold to count as
// activated
func (r *ReservePolicy) Threshold() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.PreferLive && r.live > 0 {
		return r.live
	}
	return r.static
}

// CheckSpend classifies sending amountDrops out of balanceDrops. The reserve
// in force has to stay on the account.
func (r *ReservePolicy) CheckSpend(balanceDrops, amountDrops int64) error {
	if amountDrops <= 0 {
		return helpers.ErrInvalidAmount
	}
	if amountDrops > balanceDrops-r.Threshold() {
		return helpers.ErrInsufficientBalance
	}
	return nil
}

// Static returns the configured threshold
func (r *ReservePolicy) Static() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.static
}

// Live returns the last reserve fetched from the server, if any
func (r *ReservePolicy) Live() (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live, r.live > 0
}

// SetLive overrides the live value, mostly for callers that read the
// reserve from somewhere else
func (r *ReservePolicy) SetLive(drops int64) {
	r.mu.Lock()
	r.live = drops
	r.mu.Unlock()
}

// IsActivated applies the threshold to a balance in drops
func (r *ReservePolicy) IsActivated(drops int64) bool {
	return drops >= r.Threshold()
}

// -----------------------------------------------------------------------------

// Refresh reads validated_ledger.reserve_base_xrp from server_info
func (r *ReservePolicy) Refresh(ctx context.Context, conn interfaces.ILedgerConnection) (int64, error) {
	result, err := conn.Request(ctx, "server_info", nil)
	if err != nil {
		return 0, err
	}

	drops, err := parseReserve(result)
	if err != nil {
		return 0, err
	}
	r.SetLive(drops)
	return drops, nil
}

func parseReserve(result []byte) (int64, error) {
	v := gjson.GetBytes(result, "info.validated_ledger.reserve_base_xrp")
	if !v.Exists() {
		return 0, helpers.NewValidationError("server_info without validated_ledger.reserve_base_xrp", nil)
	}
	// the value may be a JSON number or a string
	xrp, err := decimal.NewFromString(v.String())
	if err != nil {
		return 0, helpers.NewValidationError("bad reserve_base_xrp", err)
	}
	return models.XRPToDrops(xrp), nil
}
