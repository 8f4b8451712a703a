package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/marketsettle/internal/blob/s3"
	"github.com/alanyoungcy/marketsettle/internal/cache/redis"
	"github.com/alanyoungcy/marketsettle/internal/config"
	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/market"
	"github.com/alanyoungcy/marketsettle/internal/notify"
	"github.com/alanyoungcy/marketsettle/internal/oracle"
	"github.com/alanyoungcy/marketsettle/internal/pool"
	"github.com/alanyoungcy/marketsettle/internal/store/memory"
	"github.com/alanyoungcy/marketsettle/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Durable state, one namespace per engine.
	AMMStore    domain.StateStore
	MarketStore domain.StateStore
	OracleStore domain.StateStore
	CursorStore domain.StateStore // archive read cursor

	Ledger domain.AssetLedger
	Clock  domain.Clock

	// Redis-backed infrastructure. Nil in memory mode.
	EventBus      *redis.EventBus
	LockManager   domain.LockManager
	RateLimiter   domain.RateLimiter
	SnapshotCache domain.SnapshotCache

	// Blob storage. Nil unless S3 is enabled for the mode.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Engines.
	Pool   *pool.Engine
	Market *market.Engine
	Oracle *oracle.Manager

	// Operator notifications.
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "server", "archive", "full":
		return true
	default:
		return false
	}
}

// needsRedis mirrors needsPostgres; the memory mode runs entirely in-process.
func needsRedis(mode string) bool {
	return needsPostgres(mode)
}

// needsS3 returns true for modes that require object storage regardless of
// the S3 enabled flag.
func needsS3(mode string) bool {
	switch mode {
	case "archive", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Clock: domain.SystemClock{}}

	// --- Durable state ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pgPool := pgClient.Pool()
		deps.AMMStore = postgres.NewStateStore(pgPool, domain.NamespaceAMM)
		deps.MarketStore = postgres.NewStateStore(pgPool, domain.NamespaceMarket)
		deps.OracleStore = postgres.NewStateStore(pgPool, domain.NamespaceOracle)
		deps.CursorStore = postgres.NewStateStore(pgPool, "archive")
		deps.Ledger = postgres.NewLedger(pgPool)
	} else {
		deps.AMMStore = memory.NewStateStore()
		deps.MarketStore = memory.NewStateStore()
		deps.OracleStore = memory.NewStateStore()
		deps.CursorStore = memory.NewStateStore()
		deps.Ledger = memory.NewLedger()
	}

	// --- Redis ---
	var events domain.EventPublisher = domain.NopPublisher{}
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.EventBus = redis.NewEventBus(redisClient, logger)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SnapshotCache = redis.NewSnapshotCache(redisClient)
		events = deps.EventBus
	}

	// --- Engines ---
	escrow := common.HexToAddress(cfg.Settlement.EscrowAddress)
	admin := common.HexToAddress(cfg.Admin.Address)

	var liquidityCap *big.Int
	if cfg.Settlement.MaxLiquidityCap > 0 {
		liquidityCap = big.NewInt(cfg.Settlement.MaxLiquidityCap)
	}
	var disputeStake, challengeStake *big.Int
	if cfg.Settlement.DisputeStake > 0 {
		disputeStake = big.NewInt(cfg.Settlement.DisputeStake)
	}
	if cfg.Oracle.MinChallengeStake > 0 {
		challengeStake = big.NewInt(cfg.Oracle.MinChallengeStake)
	}
	deps.Pool = pool.New(pool.Config{
		Escrow:          escrow,
		TradingFeeBps:   cfg.Settlement.TradingFeeBps,
		MaxLiquidityCap: liquidityCap,
	}, deps.AMMStore, deps.Ledger, events, logger)

	deps.Oracle = oracle.New(oracle.Config{
		Admin:               admin,
		Escrow:              escrow,
		ConsensusThreshold:  cfg.Oracle.ConsensusThreshold,
		MaxOracles:          cfg.Oracle.MaxOracles,
		MinChallengeStake:   challengeStake,
		ChallengePeriodSecs: cfg.Oracle.ChallengePeriodSecs,
	}, deps.OracleStore, deps.Ledger, deps.Clock, events, logger)

	deps.Market = market.New(market.Config{
		Escrow:            escrow,
		PayoutFeeBps:      cfg.Settlement.PayoutFeeBps,
		DisputeWindowSecs: cfg.Settlement.DisputeWindowSecs,
		DisputeStake:      disputeStake,
	}, deps.MarketStore, deps.Ledger, deps.Clock, deps.Oracle, events, logger)

	// Finalization resolves markets through the market engine.
	deps.Oracle.SetResolver(deps.Market)

	// --- S3 blob storage ---
	if needsS3(cfg.Mode) || cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Market, deps.Pool, deps.Oracle, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
