// Package registry turns configuration into the provider list handed to
// the dispatcher.
package registry

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/aicoder88/roigpt-sub000/internal/config"
	"github.com/aicoder88/roigpt-sub000/internal/ingest"
	"github.com/aicoder88/roigpt-sub000/internal/provider"
	"github.com/aicoder88/roigpt-sub000/internal/provider/ga4"
	"github.com/aicoder88/roigpt-sub000/internal/provider/kafka"
	"github.com/aicoder88/roigpt-sub000/internal/provider/plausible"
	"github.com/aicoder88/roigpt-sub000/internal/provider/warehouse"
	spg "github.com/aicoder88/roigpt-sub000/internal/storage/postgres"
)

type Deps struct {
	SessionID func(ctx context.Context) string
	// Warehouse is the connected warehouse database, nil when unavailable.
	Warehouse *spg.DB
	// HTTPClient is shared by the HTTP adapters. When nil each adapter
	// builds its own client with the configured timeout.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Build constructs one adapter per enabled provider, in a fixed order.
// Credentials are checked later by each adapter's Initialize.
func Build(cfg config.Config, deps Deps) []provider.Provider {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var out []provider.Provider
	if cfg.GA4.Enabled {
		out = append(out, ga4.New(ga4.Config{
			MeasurementID: cfg.GA4.MeasurementID,
			APISecret:     cfg.GA4.APISecret,
			Endpoint:      cfg.GA4.Endpoint,
			ClientID:      deps.SessionID,
			Timeout:       cfg.GA4.Timeout,
		}, deps.HTTPClient, logger.Named(string(provider.KindGA4))))
	}
	if cfg.Plausible.Enabled {
		out = append(out, plausible.New(plausible.Config{
			Domain:   cfg.Plausible.Domain,
			Endpoint: cfg.Plausible.Endpoint,
			SiteURL:  cfg.Plausible.SiteURL,
			Timeout:  cfg.Plausible.Timeout,
		}, deps.HTTPClient, logger.Named(string(provider.KindPlausible))))
	}
	if cfg.Warehouse.Enabled {
		wcfg := warehouse.Config{
			QueueMaxSize: cfg.Warehouse.QueueMaxSize,
			BatchMaxSize: cfg.Warehouse.BatchMaxSize,
			BatchMaxWait: cfg.Warehouse.BatchMaxWait,
			SessionID:    deps.SessionID,
		}
		var writer ingest.BatchWriter
		var users warehouse.UserStore
		if deps.Warehouse != nil {
			writer = spg.NewWriter(deps.Warehouse)
			users = deps.Warehouse
			wcfg.Migrate = deps.Warehouse.Migrate
		}
		out = append(out, warehouse.New(wcfg, writer, users, logger.Named(string(provider.KindWarehouse))))
	}
	if cfg.Kafka.Enabled {
		out = append(out, kafka.New(kafka.Config{
			Brokers:   cfg.Kafka.Brokers,
			Topic:     cfg.Kafka.Topic,
			SessionID: deps.SessionID,
		}, logger.Named(string(provider.KindKafka))))
	}
	return out
}
