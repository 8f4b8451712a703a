package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketsettle/internal/crypto"
	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/server"
	"github.com/alanyoungcy/marketsettle/internal/server/handler"
	"github.com/alanyoungcy/marketsettle/internal/server/ws"
)

// archiveCursorKey stores the last stream ID the archive loop has consumed.
const archiveCursorKey = "archive:cursor"

// archivePollInterval is how often the archive loop polls the event stream.
const archivePollInterval = 30 * time.Second

// ServerMode runs the HTTP and WebSocket API backed by Postgres and Redis.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAPI(ctx, g, deps)
	a.startAlerts(ctx, g, deps)
	return g.Wait()
}

// MemoryMode runs the same API against in-process state, for local
// development and integration testing. No Redis, Postgres, or S3 required.
func (a *App) MemoryMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting memory mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAPI(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode tails the settlement event stream and exports finished markets
// to blob storage. It serves no API.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.EventBus == nil || deps.Archiver == nil {
		return errors.New("app: archive mode requires redis and s3")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runArchiveLoop(ctx, deps)
	})
	return g.Wait()
}

// FullMode runs the API server and the archive loop in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startAPI(ctx, g, deps)
	a.startAlerts(ctx, g, deps)
	if deps.EventBus != nil && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}
	return g.Wait()
}

// startAPI builds the handler set and adds the HTTP server (and, when the
// event bus is wired, the WebSocket hub) to the given errgroup. The server
// is shut down gracefully when the context is cancelled.
func (a *App) startAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var marketEngine handler.MarketEngine = deps.Market
	var poolEngine handler.PoolEngine = deps.Pool
	if deps.SnapshotCache != nil {
		marketEngine = newCachedMarketEngine(deps.Market, deps.SnapshotCache)
		poolEngine = newCachedPoolEngine(deps.Pool, deps.SnapshotCache)
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode),
		Markets: handler.NewMarketHandler(marketEngine, a.logger),
		Pools:   handler.NewPoolHandler(poolEngine, a.logger),
		Oracles: handler.NewOracleHandler(deps.Oracle, a.logger),
	}
	if deps.Archiver != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Archiver, a.logger)
	}

	var hub *ws.Hub
	if deps.EventBus != nil {
		hub = ws.NewHub(deps.EventBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			err := hub.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	var adminAuth *crypto.RequestAuth
	if a.cfg.Admin.APISecret != "" {
		adminAuth = &crypto.RequestAuth{Secret: a.cfg.Admin.APISecret}
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		AdminAuth:       adminAuth,
		RateLimiter:     deps.RateLimiter,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	})
}

// startAlerts forwards terminal settlement events to the configured operator
// channels. Skipped when no event bus is wired.
func (a *App) startAlerts(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.EventBus == nil || deps.Notifier == nil {
		return
	}

	g.Go(func() error {
		msgCh, err := deps.EventBus.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("app: alert subscription: %w", err)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case raw, ok := <-msgCh:
				if !ok {
					return nil
				}
				var env archiveEnvelope
				if err := json.Unmarshal(raw, &env); err != nil {
					continue
				}
				title := fmt.Sprintf("settlement: %s", env.Type)
				message := fmt.Sprintf("market %s: %s", env.Payload.MarketID.Hex(), env.Type)
				if err := deps.Notifier.Notify(ctx, env.Type, title, message); err != nil {
					a.logger.WarnContext(ctx, "alert delivery failed",
						slog.String("event", env.Type),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})
}

// archiveEnvelope is the subset of the event wire format the archive loop
// cares about.
type archiveEnvelope struct {
	Type    string `json:"type"`
	Payload struct {
		MarketID common.Hash `json:"market_id"`
	} `json:"payload"`
}

// runArchiveLoop polls the durable event stream and archives each market
// that reaches a terminal state. The stream cursor is persisted so restarts
// resume where the previous run stopped.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	cursor, err := a.loadCursor(ctx, deps.CursorStore)
	if err != nil {
		return fmt.Errorf("app: load archive cursor: %w", err)
	}

	ticker := time.NewTicker(archivePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		messages, err := deps.EventBus.StreamRead(ctx, cursor, 100)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: stream read failed",
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, msg := range messages {
			a.archiveFromEvent(ctx, deps, msg.Payload)
			cursor = msg.ID
		}

		if len(messages) > 0 {
			if err := a.saveCursor(ctx, deps.CursorStore, cursor); err != nil {
				a.logger.ErrorContext(ctx, "archive: save cursor failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// archiveFromEvent archives the market referenced by a terminal-state event.
// Failures are logged, not fatal: the market stays archivable by hand via
// the admin endpoint.
func (a *App) archiveFromEvent(ctx context.Context, deps *Dependencies, raw []byte) {
	var env archiveEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	switch env.Type {
	case "market_resolved", "market_cancelled":
	default:
		return
	}

	path, err := deps.Archiver.ArchiveMarket(ctx, env.Payload.MarketID)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive: market export failed",
			slog.String("market_id", env.Payload.MarketID.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.InfoContext(ctx, "archive: market exported",
		slog.String("market_id", env.Payload.MarketID.Hex()),
		slog.String("path", path),
	)
}

func (a *App) loadCursor(ctx context.Context, store domain.StateStore) (string, error) {
	cursor := "0"
	err := store.View(ctx, func(kv domain.KV) error {
		raw, err := kv.Get(ctx, archiveCursorKey)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		cursor = string(raw)
		return nil
	})
	if err != nil {
		return "", err
	}
	return cursor, nil
}

func (a *App) saveCursor(ctx context.Context, store domain.StateStore, cursor string) error {
	return store.Update(ctx, func(kv domain.KV) error {
		return kv.Set(ctx, archiveCursorKey, []byte(cursor))
	})
}
