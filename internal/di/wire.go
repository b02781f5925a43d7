//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"MarketLens/pkg/config"
	applogger "MarketLens/pkg/logger"
	"MarketLens/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// The cleanup closes infrastructure clients and must run after App.Run.
func InitializeApp(cfg *config.Config, log *applogger.Logger) (*server.App, func(), error) {
	wire.Build(
		InfraSet,
		DomainSet,
		TransportSet,
	)
	return nil, nil, nil
}
