package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		event  string
		fields Fields
		want   string
	}{
		{name: "no fields", event: EventStart, want: "bot_start"},
		{
			name:   "sorted fields",
			event:  EventBuy,
			fields: Fields{"symbol": "BTC/USDT", "price": 100.5, "tf": "5m"},
			want:   "buy: price=100.5, symbol=BTC/USDT, tf=5m",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.event, tt.fields))
		})
	}
}

func TestWebhook_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, nil)
	err := w.Send(context.Background(), EventSellDry, Fields{"symbol": "ETH/USDT", "event": "ignored"})
	require.NoError(t, err)

	assert.Equal(t, "sell_dry", got["event"])
	assert.Equal(t, "ETH/USDT", got["symbol"])
	assert.Equal(t, "sell_dry: event=ignored, symbol=ETH/USDT", got["text"])
}

func TestWebhook_SendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, nil).Send(context.Background(), EventCrash, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhook_NotifySwallowsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	assert.NotPanics(t, func() {
		NewWebhook(url, nil).Notify(context.Background(), EventBuy, Fields{"price": 1})
	})
}

func TestNew(t *testing.T) {
	assert.IsType(t, Nop{}, New("  ", nil))
	assert.IsType(t, &Webhook{}, New("http://example.invalid/hook", nil))
}
