// Package config provides runtime configuration values for the service.
package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Threshold bases accepted by SHIPPING_THRESHOLD_BASIS.
const (
	BasisPostTax  = "post_tax"
	BasisSubtotal = "subtotal"
)

// Config holds configuration knobs for the HTTP server, catalog feed workers,
// stock ledger, pricing and checkout.
type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`

	InitialWorkerCount      int           `envconfig:"WORKER_COUNT" default:"3"`
	WorkerMin               int           `envconfig:"WORKER_MIN" default:"3"`
	WorkerMax               int           `envconfig:"WORKER_MAX" default:"8"`
	ScaleInterval           time.Duration `envconfig:"SCALE_INTERVAL" default:"500ms"`
	ScaleUpBacklogPerWorker int           `envconfig:"SCALE_UP_BACKLOG_PER_WORKER" default:"100"`
	ScaleDownIdleTicks      int           `envconfig:"SCALE_DOWN_IDLE_TICKS" default:"6"`
	QueueHighWatermark      int           `envconfig:"QUEUE_HIGH_WATERMARK" default:"5000"`

	LockTimeout time.Duration `envconfig:"LEDGER_LOCK_TIMEOUT" default:"2s"`

	TaxRateStandard       decimal.Decimal `envconfig:"TAX_RATE_STANDARD" default:"0.21"`
	TaxRateReduced        decimal.Decimal `envconfig:"TAX_RATE_REDUCED" default:"0.10"`
	FreeShippingThreshold decimal.Decimal `envconfig:"FREE_SHIPPING_THRESHOLD" default:"1000"`
	FlatShippingFee       decimal.Decimal `envconfig:"FLAT_SHIPPING_FEE" default:"15"`
	ThresholdBasis        string          `envconfig:"SHIPPING_THRESHOLD_BASIS" default:"post_tax"`

	ReplayWindow time.Duration `envconfig:"CHECKOUT_REPLAY_WINDOW" default:"2m"`

	OrderStoreDSN   string `envconfig:"ORDER_STORE_DSN"`
	KafkaBrokers    string `envconfig:"KAFKA_BROKERS"`
	KafkaOrderTopic string `envconfig:"KAFKA_ORDER_TOPIC" default:"orders"`
}

// Load collects configuration from environment with defaults.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, err
	}
	c.ThresholdBasis = strings.ToLower(strings.TrimSpace(c.ThresholdBasis))
	if c.WorkerMin < 1 {
		c.WorkerMin = 1
	}
	if c.WorkerMax < c.WorkerMin {
		c.WorkerMax = c.WorkerMin
	}
	if c.InitialWorkerCount < c.WorkerMin {
		c.InitialWorkerCount = c.WorkerMin
	}
	if c.InitialWorkerCount > c.WorkerMax {
		c.InitialWorkerCount = c.WorkerMax
	}
	return c, nil
}

// MustLoad is Load for tests and tools that have no way to recover from a bad environment.
func MustLoad() Config {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}
