package helpers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestRequestErrorPredicates(t *testing.T) {
	notFound := fmt.Errorf("balance: %w", &RequestError{Kind: RequestFailed, Command: "account_info", Code: "actNotFound"})
	assert.True(t, HasCode(notFound, "actNotFound"))
	assert.True(t, IsKind(notFound, RequestFailed))
	assert.False(t, IsNotConnected(notFound))
	assert.Contains(t, notFound.Error(), "actNotFound")

	offline := &RequestError{Kind: NotConnected, Command: "unsubscribe"}
	assert.True(t, IsNotConnected(offline))
	assert.True(t, IsTolerableOnTeardown(offline))
	assert.True(t, IsTolerableOnTeardown(NewConnectionError("socket closed", nil)))
	assert.False(t, IsTolerableOnTeardown(&RequestError{Kind: Timeout, Command: "unsubscribe"}))
}

func TestUserErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("fund rX: %w", ErrFaucetUnavailable)
	ue, ok := AsUserError(err)
	assert.True(t, ok)
	assert.Equal(t, "faucet_unavailable", ue.Code)
}

func TestClassifyUserErrorInsufficientFunds(t *testing.T) {
	for _, code := range []string{"tecUNFUNDED_PAYMENT", "tecNO_DST_INSUF_XRP", "tecINSUFFICIENT_RESERVE", "terINSUF_FEE_B", "tecINSUF_RESERVE_LINE"} {
		err := ClassifyUserError(fmt.Errorf("submit: %w", &RequestError{Kind: RequestFailed, Command: "submit", Code: code}))
		assert.ErrorIs(t, err, ErrInsufficientBalance, code)
		assert.Contains(t, err.Error(), code)
	}

	other := &RequestError{Kind: RequestFailed, Command: "account_info", Code: "actNotFound"}
	assert.Same(t, other, ClassifyUserError(other))

	plain := errors.New("boom")
	assert.Equal(t, plain, ClassifyUserError(plain))
	assert.Nil(t, ClassifyUserError(nil))
}

func TestRetryWithBackoffStopsOnPermanent(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad request")
	err := RetryWithBackoff(context.Background(), nil, "op", 5, time.Millisecond, func() error {
		calls++
		return backoff.Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoffHonoursMaxRetries(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), nil, "op", 2, time.Millisecond, func() error {
		calls++
		return errors.New("flaky")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = RetryWithBackoff(context.Background(), nil, "op", 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}
