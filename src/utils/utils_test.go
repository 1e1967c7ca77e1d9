package utils

import (
	"testing"

	"cove-observer/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferKeepsNewest(t *testing.T) {
	rb := NewRingBuffer[int](1000)
	for i := 1; i <= 1500; i++ {
		rb.Append(i)
	}

	all := rb.GetAll()
	require.Len(t, all, 1000)
	assert.Equal(t, 501, all[0])
	assert.Equal(t, 1500, all[999])

	last, ok := rb.Last()
	assert.True(t, ok)
	assert.Equal(t, 1500, last)

	assert.Equal(t, []int{1498, 1499, 1500}, rb.GetLatest(3))
}

func TestRingBufferGetAllIsACopy(t *testing.T) {
	rb := NewRingBuffer[int](4)
	rb.Append(1)
	rb.Append(2)

	snapshot := rb.GetAll()
	snapshot[0] = 99
	assert.Equal(t, []int{1, 2}, rb.GetAll())
}

func TestMemoryManagerPerSourceHistory(t *testing.T) {
	mm := NewMemoryManager(2)
	mm.AddDataPoint("Kraken", models.MPriceTick{SourceID: "Kraken", Close: 1})
	mm.AddDataPoint("Kraken", models.MPriceTick{SourceID: "Kraken", Close: 2})
	mm.AddDataPoint("Kraken", models.MPriceTick{SourceID: "Kraken", Close: 3})
	mm.AddDataPoint("Bitstamp", models.MPriceTick{SourceID: "Bitstamp", Close: 7})

	hist := mm.History("Kraken")
	require.Len(t, hist, 2)
	assert.Equal(t, 2.0, hist[0].Close)

	latest, ok := mm.Latest("Kraken")
	assert.True(t, ok)
	assert.Equal(t, 3.0, latest.Close)

	assert.Equal(t, []string{"Bitstamp", "Kraken"}, mm.Sources())
	assert.Equal(t, 3, mm.TotalPoints())
	assert.Len(t, mm.LatestAll(), 2)

	mm.Remove("Kraken")
	assert.Empty(t, mm.History("Kraken"))
}

func TestEventBusOrderAndIdempotentUnsubscribe(t *testing.T) {
	bus := NewEventBus[string](nil)
	var got []string

	unsubA := bus.Subscribe(func(s string) { got = append(got, "a:"+s) })
	bus.Subscribe(func(s string) { got = append(got, "b:"+s) })

	bus.Publish("1")
	unsubA()
	unsubA()
	bus.Publish("2")

	assert.Equal(t, []string{"a:1", "b:1", "b:2"}, got)
}

func TestEventBusRecoversFromPanickingHandler(t *testing.T) {
	bus := NewEventBus[int](nil)
	delivered := 0
	bus.Subscribe(func(int) { panic("boom") })
	bus.Subscribe(func(int) { delivered++ })

	assert.NotPanics(t, func() { bus.Publish(1) })
	assert.Equal(t, 1, delivered)
}
