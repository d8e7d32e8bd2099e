package clients

import (
	"net/http"
	"time"

	"github.com/adshao/go-binance/v2"
)

const httpTimeout = 15 * time.Second

// NewBinanceClient creates a spot REST client. Testnet switches every client
// of the process to the Binance spot testnet.
func NewBinanceClient(apiKey, apiSecret string, testnet bool) *binance.Client {
	binance.UseTestnet = testnet

	client := binance.NewClient(apiKey, apiSecret)
	client.HTTPClient = &http.Client{Timeout: httpTimeout}
	return client
}
