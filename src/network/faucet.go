package network

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/interfaces"
	"cove-observer/src/logger"
	"cove-observer/src/models"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// MFaucetResult is what the public faucet reports back
type MFaucetResult struct {
	Address         string                  `json:"address"`
	Amount          float64                 `json:"amount"`
	TransactionHash string                  `json:"transaction_hash,omitempty"`
	Balance         *models.MAccountBalance `json:"balance,omitempty"`
}

// BalanceRefresher re-reads an account after funding
type BalanceRefresher func(ctx context.Context, address string) (models.MAccountBalance, error)

// -----------------------------------------------------------------------------

// FaucetClient requests test funds. Only one request runs at a time.
type FaucetClient struct {
	net     interfaces.INetworkManager
	urls    map[models.NetworkKind]string
	limiter *rate.Limiter
	logger  *logger.Logger
	busy    atomic.Bool

	// SettleDelay gives the funding payment time to validate before Refresh
	SettleDelay time.Duration
	Refresh     BalanceRefresher
}

// -----------------------------------------------------------------------------

func NewFaucetClient(cfg models.MFaucetConfig, nm interfaces.INetworkManager, log *logger.Logger) *FaucetClient {
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 6
	}
	return &FaucetClient{
		net: nm,
		urls: map[models.NetworkKind]string{
			models.KindTestnet: cfg.TestnetURL,
			models.KindDevnet:  cfg.DevnetURL,
		},
		limiter:     rate.NewLimiter(rate.Limit(perMinute/60), 1),
		logger:      log,
		SettleDelay: 5 * time.Second,
	}
}

// -----------------------------------------------------------------------------

// CanFund reports whether the endpoint's network has a faucet
func (f *FaucetClient) CanFund(ep models.MNetworkEndpoint) bool {
	u, ok := f.urls[ep.Kind]
	return ok && u != ""
}

// InProgress reports whether a funding request is running
func (f *FaucetClient) InProgress() bool {
	return f.busy.Load()
}

// -----------------------------------------------------------------------------

// Fund asks the network faucet to send test funds to address
func (f *FaucetClient) Fund(ctx context.Context, ep models.MNetworkEndpoint, address string) (*MFaucetResult, error) {
	if !f.CanFund(ep) {
		return nil, helpers.ErrFaucetUnavailable
	}
	if err := helpers.ValidateClassicAddress(address); err != nil {
		return nil, err
	}
	if !f.busy.CompareAndSwap(false, true) {
		return nil, helpers.ErrFundingInProgress
	}
	defer f.busy.Store(false)

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	f.logger.Info("Requesting faucet funds for %s on %s", address, ep.ID)
	body, err := f.net.PostJSON(ctx, f.urls[ep.Kind], map[string]string{"destination": address})
	if err != nil {
		return nil, fmt.Errorf("faucet request failed: %w", err)
	}

	parsed := gjson.ParseBytes(body)
	result := &MFaucetResult{
		Address:         address,
		Amount:          parsed.Get("amount").Float(),
		TransactionHash: parsed.Get("transactionHash").String(),
	}
	if got := parsed.Get("account.classicAddress").String(); got != "" && got != address {
		f.logger.Warning("Faucet funded %s, requested %s", got, address)
	}

	if f.Refresh != nil {
		select {
		case <-time.After(f.SettleDelay):
		case <-ctx.Done():
			return result, ctx.Err()
		}
		bal, err := f.Refresh(ctx, address)
		if err != nil {
			f.logger.Warning("Balance refresh after funding %s failed: %v", address, err)
		} else {
			result.Balance = &bal
		}
	}

	f.logger.Info("Faucet funding completed for %s", address)
	return result, nil
}
