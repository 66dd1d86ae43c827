package main

import (
	"context"
	"fmt"
	"log/slog"

	"p3am/internal/audit"
	"p3am/internal/backend"
	"p3am/internal/platform/config"
	"p3am/internal/platform/metrics"
	"p3am/internal/platform/postgres"
	"p3am/internal/platform/redis"
	"p3am/internal/session"
	"p3am/internal/session/store"
	httptransport "p3am/internal/transport/http"
	"p3am/internal/verification"
	"p3am/pkg/platform/circuit"
)

type storeResources struct {
	store  store.Store
	health httptransport.HealthCheck
	close  func()
}

func buildStore(ctx context.Context, cfg *config.Server, log *slog.Logger) (*storeResources, error) {
	switch cfg.SessionStore {
	case config.StoreRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		return &storeResources{
			store:  store.NewRedis(client.Client),
			health: client.Health,
			close:  func() { _ = client.Close() },
		}, nil

	case config.StorePostgres:
		pool, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		s, err := store.NewPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("session store: %w", err)
		}
		return &storeResources{store: s, health: pool.Ping, close: pool.Close}, nil

	case config.StoreSQLite:
		s, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		return &storeResources{
			store: s,
			close: func() {
				if err := s.Close(); err != nil {
					log.Warn("failed to close sqlite store", "error", err)
				}
			},
		}, nil

	default:
		log.Warn("using in-memory session store; sessions are lost on restart")
		return &storeResources{store: store.NewInMemory(), close: func() {}}, nil
	}
}

type auditResources struct {
	publisher session.AuditPublisher
	health    httptransport.HealthCheck
	close     func()
}

// buildAudit logs events, and also produces them to Kafka when brokers are
// configured. Kafka failures fall back to the log behind a circuit breaker.
func buildAudit(cfg *config.Server, log *slog.Logger) (*auditResources, error) {
	logSink := audit.NewLogPublisher(log)
	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		return &auditResources{publisher: logSink, close: func() {}}, nil
	}

	kafka, err := audit.NewKafkaPublisher(brokers, cfg.Audit.KafkaTopic)
	if err != nil {
		return nil, err
	}
	return &auditResources{
		publisher: audit.NewFallbackPublisher(kafka, logSink, circuit.New("audit-kafka"), log),
		health:    kafka.Ping,
		close:     kafka.Close,
	}, nil
}

// managerFactory builds a manager per browser session. Providers hold
// per-session sign-in state, so each session gets its own.
func managerFactory(
	cfg *config.Server,
	client *backend.Client,
	base store.Store,
	publisher session.AuditPublisher,
	m *metrics.Metrics,
	log *slog.Logger,
) httptransport.ManagerFactory {
	outbox := verification.LogOutbox{Logger: log}

	return func(sessionID string) *session.Manager {
		opts := []session.Option{
			session.WithSessionID(sessionID),
			session.WithLogger(log),
			session.WithMetrics(m),
			session.WithAuditPublisher(publisher),
		}

		var provider session.Provider
		switch cfg.Verification.Provider {
		case config.ProviderIdentityToolkit:
			provider = verification.NewIdentityToolkit(cfg.Verification.APIKey,
				verification.WithBaseURL(cfg.Verification.BaseURL),
				verification.WithMetrics(m),
			)
			opts = append(opts, session.WithChallengeRenderer(verification.PassthroughChallenge{}))
		default:
			provider = verification.NewLocal(cfg.Verification.SigningKey, outbox)
		}

		return session.New(client, provider, store.NewScoped(base, sessionID), opts...)
	}
}
