package bootstrap

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/transfa/crypto-ledger-service/internal/app"
	"github.com/transfa/crypto-ledger-service/internal/config"
	rmrabbit "github.com/transfa/crypto-ledger-service/pkg/rabbitmq"
)

func TestConnectEventBusFallsBackOnBadURL(t *testing.T) {
	bus := ConnectEventBus(config.Config{RabbitMQURL: "http://not-amqp"}, zap.NewNop())
	if _, ok := bus.(*rmrabbit.EventProducerFallback); !ok {
		t.Fatalf("expected fallback publisher, got %T", bus)
	}
}

func TestConnectStateStoreWithoutRedis(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "unset", url: ""},
		{name: "unparsable", url: "::not a url::"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, closeFn := ConnectStateStore(context.Background(), config.Config{RedisURL: tt.url}, zap.NewNop())
			defer closeFn()
			if _, ok := state.(*app.MemoryStateStore); !ok {
				t.Fatalf("expected in-memory state store, got %T", state)
			}
		})
	}
}

func TestNewLedgerClientRateLimit(t *testing.T) {
	client := NewLedgerClient(config.Config{
		LedgerAPIBaseURL:         "http://ledger.local",
		LedgerTimeout:            3 * time.Second,
		LedgerRateLimitPerSecond: 0.5,
	}, zap.NewNop())
	if client.Limiter == nil {
		t.Fatal("expected limiter to be configured")
	}
	if client.Limiter.Burst() != 1 {
		t.Fatalf("expected burst of at least 1, got %d", client.Limiter.Burst())
	}
	if client.HTTPClient.Timeout != 3*time.Second {
		t.Fatalf("expected configured timeout, got %s", client.HTTPClient.Timeout)
	}

	unlimited := NewLedgerClient(config.Config{LedgerTimeout: time.Second}, zap.NewNop())
	if unlimited.Limiter != nil {
		t.Fatal("expected no limiter when rate limit is disabled")
	}
}

func TestNewLoggerByEnvironment(t *testing.T) {
	for _, env := range []string{config.EnvProduction, config.EnvDevelopment} {
		logger, err := NewLogger(config.Config{AppEnv: env})
		if err != nil || logger == nil {
			t.Fatalf("NewLogger(%s) failed: %v", env, err)
		}
	}
}
