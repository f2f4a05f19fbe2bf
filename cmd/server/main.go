package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cubeforge/cube-draft-backend/internal/config"
	"github.com/cubeforge/cube-draft-backend/internal/engine"
	"github.com/cubeforge/cube-draft-backend/internal/finish"
	"github.com/cubeforge/cube-draft-backend/internal/httpapi"
	"github.com/cubeforge/cube-draft-backend/internal/hub"
	"github.com/cubeforge/cube-draft-backend/internal/predictor"
	"github.com/cubeforge/cube-draft-backend/internal/session"
	"github.com/cubeforge/cube-draft-backend/internal/store"
)

// storage is everything the server needs from a persistence backend. Both
// the postgres store and the in-memory store satisfy it.
type storage interface {
	httpapi.DraftStore
	httpapi.FollowerStore
	finish.Store
	engine.Store
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st storage
	if cfg.DatabaseURL != "" {
		st, err = store.Open(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	}

	bots := predictor.NewClient(cfg.DraftBotURL, predictor.Options{})
	finisher := finish.NewService(st, logger)

	factory := func(ctx context.Context, draftID string) (*session.Session, error) {
		d, err := st.GetDraft(ctx, draftID)
		if err != nil {
			return nil, err
		}
		eng, err := engine.New(ctx, d, engine.Deps{
			Predictor:     bots,
			Store:         st,
			Finisher:      finisher,
			Logger:        logger,
			AutoPickDelay: cfg.AutoPickDelay,
		})
		if err != nil {
			return nil, err
		}
		// The opening ratings fetch happens off the hub goroutine; a failure
		// leaves the engine in its error state for the UI to retry.
		go func() {
			if err := eng.Start(ctx); err != nil {
				logger.Warn("engine start failed", zap.String("draft_id", draftID), zap.Error(err))
			}
		}()
		return session.NewSession(ctx, eng, logger), nil
	}

	h := hub.NewHub(ctx, factory, logger)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.SetupRoutes(h, st, st, finisher, logger),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		h.Inbox() <- hub.ShutdownHub{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
