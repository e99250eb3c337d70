//go:build wireinject
// +build wireinject

package di

import (
	"TradePipe/pkg/config"
	"TradePipe/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires all dependencies using Wire.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		ProvideKafkaProducer,
		ProvideRedisCache,
		ProvideMemoryCache,
		ProvideClickHouseClient,
		ProvidePostgres,
		ProvideActionJournal,
		ProvideEngines,
		ProvideCollectors,
		ProvideStrategy,
		ProvideExecutors,
		ProvideOrchestrator,
		ProvideAPIHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
