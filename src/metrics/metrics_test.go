package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cove-observer/src/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveEvents(t *testing.T) {
	m := New()

	m.Observe(models.PriceEvent("Kraken", models.MPriceTick{SourceID: "Kraken", Close: 0.61}))
	m.Observe(models.PriceEvent("Kraken", models.MPriceTick{SourceID: "Kraken", Close: 0.62}))
	m.Observe(models.PriceEvent("Bitstamp", models.MPriceTick{SourceID: "Bitstamp", Close: 0.6}))
	m.Observe(models.ErrorEvent("ledger", errors.New("boom")))
	m.Observe(models.MaxRetriesEvent("Kraken", errors.New("gave up")))
	m.Observe(models.StateEvent(models.EventConnected, "ledger", models.StateConnected))
	m.Observe(models.StateEvent(models.EventDisconnected, "ledger", models.StateReconnecting))
	m.Observe(models.BalanceEvent("rAddr", models.MAccountBalance{Address: "rAddr"}))
	m.Observe(models.TransactionEvent("ledger", models.MLedgerTransaction{Hash: "AB"}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ticks.WithLabelValues("Kraken")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ticks.WithLabelValues("Bitstamp")))
	assert.Equal(t, 0.62, testutil.ToFloat64(m.LastPrice.WithLabelValues("Kraken")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("ledger")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MaxRetries.WithLabelValues("Kraken")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connects.WithLabelValues("ledger")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Disconnects.WithLabelValues("ledger")))
	assert.Equal(t, float64(models.StateReconnecting), testutil.ToFloat64(m.ConnectionState.WithLabelValues("ledger")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BalanceUpdates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transactions))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.Observe(models.PriceEvent("Kraken", models.MPriceTick{SourceID: "Kraken", Close: 1}))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `cove_exchange_ticks_total{source="Kraken"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
