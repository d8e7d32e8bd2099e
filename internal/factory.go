package internal

import (
	"fmt"

	binance "github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"github.com/vadiminshakov/spotengine/config"
	"github.com/vadiminshakov/spotengine/internal/services/exchange"
	"github.com/vadiminshakov/spotengine/internal/services/reconcile"
	"github.com/vadiminshakov/spotengine/internal/services/trader"
)

// Services are the exchange-facing collaborators of the engine.
type Services struct {
	Exchange exchange.Exchange
	Placer   trader.Placer
	Balances reconcile.BalanceSource
	// Simulated is the dry-run wallet, nil in live mode.
	Simulated *trader.Simulated
}

// NewServices builds the collaborators for the given client.
// This is the single point of truth for dispatching on the client type and the run mode.
func NewServices(conf config.Config, client any, logger *zap.Logger) (Services, error) {
	var ex exchange.Exchange
	switch c := client.(type) {
	case *binance.Client:
		ex = exchange.NewBinance(c, logger)
	case exchange.Exchange:
		ex = c
	default:
		return Services{}, fmt.Errorf("unsupported client type: %T", client)
	}

	ex = exchange.NewRetrying(ex, conf.RetryAttempts, conf.RetryBaseDelay, logger)

	if conf.DryRun {
		sim := trader.NewSimulated(logger)
		return Services{Exchange: ex, Placer: sim, Balances: sim, Simulated: sim}, nil
	}

	return Services{
		Exchange: ex,
		Placer:   trader.NewMarket(ex, logger),
		Balances: reconcile.NewExchangeBalances(ex),
	}, nil
}
