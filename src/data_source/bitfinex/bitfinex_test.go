package bitfinex

import (
	"testing"

	"cove-observer/src/helpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscribed(t *testing.T, p *Protocol) {
	t.Helper()
	_, err := p.Handle([]byte(`{"event":"subscribed","channel":"candles","chanId":10,"key":"trade:1m:tXRPUSD"}`))
	require.NoError(t, err)
	_, err = p.Handle([]byte(`{"event":"subscribed","channel":"ticker","chanId":20,"symbol":"tXRPUSD"}`))
	require.NoError(t, err)
}

func TestCandleSnapshotThenTickerMerges(t *testing.T) {
	p := New("", "")
	subscribed(t, p)

	ticks, err := p.Handle([]byte(`[10,[[1700000000000,0.58,0.60,0.62,0.58,1000000],[1699999940000,0.57,0.58,0.59,0.56,900000]]]`))
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, int64(1700000000000), ticks[0].Timestamp)
	assert.Equal(t, 0.60, ticks[0].Close)
	assert.Nil(t, ticks[0].Bid)

	ticks, err = p.Handle([]byte(`[20,[0.59,1000,0.61,1200,0.01,0.0167,0.60,1000000,0.62,0.58]]`))
	require.NoError(t, err)
	require.Len(t, ticks, 1)

	tick := ticks[0]
	assert.Equal(t, 0.58, tick.Open)
	assert.Equal(t, 0.60, tick.Close)
	assert.Equal(t, int64(1700000000000), tick.Timestamp)
	require.NotNil(t, tick.Bid)
	require.NotNil(t, tick.Ask)
	assert.Equal(t, 0.59, *tick.Bid)
	assert.Equal(t, 0.61, *tick.Ask)
	assert.Equal(t, 0.60, *tick.LastPrice)
	assert.Equal(t, 0.01, *tick.DailyChange)
	assert.InDelta(t, 1.67, *tick.DailyChangePercent, 1e-9)
	assert.Equal(t, 1000000.0, tick.Volume)
	assert.Equal(t, 0.62, tick.High)
	assert.Equal(t, 0.58, tick.Low)
}

func TestTickerBeforeCandleIsHeldUntilCandleArrives(t *testing.T) {
	p := New("", "")
	subscribed(t, p)

	ticks, err := p.Handle([]byte(`[20,[0.59,1,0.61,1,0.01,0.0167,0.60,5000,0.62,0.58]]`))
	require.NoError(t, err)
	assert.Empty(t, ticks)

	ticks, err = p.Handle([]byte(`[10,[1700000060000,0.60,0.605,0.61,0.60,42]]`))
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, 0.605, ticks[0].Close)
	require.NotNil(t, ticks[0].Bid)
	assert.Equal(t, 0.59, *ticks[0].Bid)
	assert.Equal(t, 5000.0, ticks[0].Volume)
}

func TestHeartbeatsAndAcksAreDropped(t *testing.T) {
	p := New("", "")
	subscribed(t, p)

	for _, frame := range []string{
		`[10,"hb"]`,
		`[20,"hb"]`,
		`{"event":"info","version":2}`,
		`{"event":"pong","ts":1}`,
		`[99,[1,2,3]]`,
	} {
		ticks, err := p.Handle([]byte(frame))
		assert.NoError(t, err, frame)
		assert.Empty(t, ticks, frame)
	}
}

func TestMalformedFramesAreValidationErrors(t *testing.T) {
	p := New("", "")
	subscribed(t, p)

	_, err := p.Handle([]byte(`{not json`))
	var ve *helpers.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = p.Handle([]byte(`[20,[0.59,1,0.61]]`))
	assert.ErrorAs(t, err, &ve)

	_, err = p.Handle([]byte(`{"event":"error","msg":"symbol: invalid","code":10300}`))
	assert.ErrorContains(t, err, "symbol: invalid")
}

func TestResetForgetsChannelsAndTicker(t *testing.T) {
	p := New("", "")
	subscribed(t, p)
	_, _ = p.Handle([]byte(`[20,[0.59,1,0.61,1,0.01,0.0167,0.60,5000,0.62,0.58]]`))

	p.Reset()
	ticks, err := p.Handle([]byte(`[10,[1700000060000,0.60,0.605,0.61,0.60,42]]`))
	require.NoError(t, err)
	assert.Empty(t, ticks, "channel ids are gone after reset")

	subscribed(t, p)
	ticks, err = p.Handle([]byte(`[10,[1700000060000,0.60,0.605,0.61,0.60,42]]`))
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Nil(t, ticks[0].Bid)
}

func TestServerRestartRequestsReconnect(t *testing.T) {
	p := New("", "")
	_, err := p.Handle([]byte(`{"event":"info","code":20051,"msg":"Stopping"}`))
	assert.ErrorIs(t, err, helpers.ErrReconnectRequested)
}
