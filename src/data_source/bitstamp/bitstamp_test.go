package bitstamp

import (
	"testing"
	"time"

	"cove-observer/src/helpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeMessageUsesPairChannel(t *testing.T) {
	p := New("", "XRP/USD")
	msgs := p.SubscribeMessages()
	require.Len(t, msgs, 1)
	body := msgs[0].(map[string]interface{})
	assert.Equal(t, "bts:subscribe", body["event"])
	assert.Equal(t, map[string]string{"channel": "live_trades_xrpusd"}, body["data"])
	assert.Nil(t, p.PingMessage())
}

func TestTradeBecomesTick(t *testing.T) {
	p := New("", "")
	frame := `{"event":"trade","channel":"live_trades_xrpusd","data":{"id":1,"amount":125.5,"price":0.6123,"microtimestamp":"1700000000123456","type":0}}`

	ticks, err := p.Handle([]byte(frame))
	require.NoError(t, err)
	require.Len(t, ticks, 1)

	tick := ticks[0]
	assert.Equal(t, int64(1700000000123), tick.Timestamp)
	assert.Equal(t, 0.6123, tick.Close)
	assert.Equal(t, 0.6123, tick.Open)
	assert.Equal(t, 125.5, tick.Volume)
	require.NotNil(t, tick.LastPrice)
	assert.Equal(t, 0.6123, *tick.LastPrice)
	assert.Nil(t, tick.Bid)
}

func TestTradeWithDailyStats(t *testing.T) {
	p := New("", "")
	p.now = func() time.Time { return time.UnixMilli(42) }
	frame := `{"event":"trade","data":{"price":"0.61","amount":"10","open_24":"0.58","high_24":"0.62","low_24":"0.57","vwap":"0.60","bid":"0.609","ask":"0.611"}}`

	ticks, err := p.Handle([]byte(frame))
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	tick := ticks[0]
	assert.Equal(t, int64(42), tick.Timestamp)
	assert.Equal(t, 0.58, tick.Open)
	assert.Equal(t, 0.62, tick.High)
	assert.Equal(t, 0.57, tick.Low)
	assert.Equal(t, 0.60, *tick.Vwap)
	assert.Equal(t, 0.609, *tick.Bid)
	assert.Equal(t, 0.611, *tick.Ask)
}

func TestControlFrames(t *testing.T) {
	p := New("", "")

	for _, frame := range []string{
		`{"event":"bts:subscription_succeeded","channel":"live_trades_xrpusd","data":{}}`,
		`{"event":"bts:heartbeat","channel":"","data":{"status":"success"}}`,
	} {
		ticks, err := p.Handle([]byte(frame))
		assert.NoError(t, err)
		assert.Empty(t, ticks)
	}

	_, err := p.Handle([]byte(`{"event":"bts:request_reconnect","channel":"","data":""}`))
	assert.ErrorIs(t, err, helpers.ErrReconnectRequested)

	_, err = p.Handle([]byte(`{"event":"trade","data":{"amount":1}}`))
	var ve *helpers.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = p.Handle([]byte(`garbage`))
	assert.ErrorAs(t, err, &ve)
}
