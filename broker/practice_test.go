package broker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T, handler http.HandlerFunc) *PracticeBroker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &PracticeBroker{
		accountID: "test-account",
		token:     StaticToken("test-token"),
		baseURL:   srv.URL,
		venue:     "practice",
		client:    &http.Client{Timeout: 5 * time.Second},
		byTag:     make(map[string]taggedResult),
	}
}

func TestPlaceMarketSameClientTagIsIdempotent(t *testing.T) {
	var calls int32
	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"orderFillTransaction": map[string]interface{}{"id": "order-1"},
		})
	})

	first := b.PlaceMarket("EURUSD", "buy", 250000, 1.09800, 1.10400, "eurusd-sma-1700000000-ab12cd34")
	require.True(t, first.Success)
	require.Equal(t, "order-1", first.OrderID)
	assert.False(t, first.Idempotent)

	second := b.PlaceMarket("EURUSD", "buy", 250000, 1.09800, 1.10400, "eurusd-sma-1700000000-ab12cd34")
	require.True(t, second.Success)
	assert.Equal(t, "order-1", second.OrderID)
	assert.True(t, second.Idempotent)

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "a repeated client_tag must not re-hit the broker")
}

func TestPlaceMarketDifferentTagsHitBrokerEachTime(t *testing.T) {
	var calls int32
	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"orderFillTransaction": map[string]interface{}{"id": "order-" + string(rune('0'+n))},
		})
	})

	r1 := b.PlaceMarket("EURUSD", "buy", 1000, 1.0, 1.1, "tag-a")
	r2 := b.PlaceMarket("EURUSD", "buy", 1000, 1.0, 1.1, "tag-b")
	require.True(t, r1.Success)
	require.True(t, r2.Success)
	assert.NotEqual(t, r1.OrderID, r2.OrderID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestPlaceMarketRejectionIsNotSuccess(t *testing.T) {
	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"orderRejectTransaction": map[string]interface{}{"rejectReason": "INSUFFICIENT_MARGIN"},
		})
	})

	res := b.PlaceMarket("EURUSD", "buy", 1000, 1.0, 1.1, "tag-reject")
	assert.False(t, res.Success)
	assert.Equal(t, "INSUFFICIENT_MARGIN", res.Error)
}

func TestFetchPositionNotFoundIsNotAnError(t *testing.T) {
	b := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errorMessage":"no position"}`))
	})

	_, found, err := b.FetchPosition("EURUSD")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInstrumentMapping(t *testing.T) {
	b := &PracticeBroker{}
	assert.Equal(t, "EUR_USD", b.Instrument("EURUSD"))
	assert.Equal(t, "EUR_USD", b.Instrument("eur/usd"))
	assert.Equal(t, "EUR_USD", b.Instrument("EUR_USD"))
}
