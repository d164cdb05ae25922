package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/nimbusfiles/upload-coordinator/internal/common"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/blobstore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/finalize"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/ingest"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/metastore"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/queue"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/recovery"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/session"
	"github.com/nimbusfiles/upload-coordinator/internal/upload/validator"
	"github.com/nimbusfiles/upload-coordinator/internal/uploadapi"
	"github.com/nimbusfiles/upload-coordinator/pkg/config"
)

func main() {
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	log.Info().Msg("starting upload coordinator")

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	cache, err := common.NewCache(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer cache.Close()

	blobs, err := blobstore.NewStore(cfg.Upload.UploadDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob storage")
	}

	meta := metastore.NewStore(db)
	finalizeQueue := queue.New(cache.Client())
	sessions := session.New(meta, blobs, cfg.Upload.ArchiveExtension)
	ingestor := ingest.New(meta, blobs, finalizeQueue, cfg.Upload.ChunkSizeBytes)
	valid := validator.New(blobs)
	finalizer := finalize.New(meta, blobs, valid)
	recoveryService := recovery.New(meta, blobs, finalizer, cfg.Upload.AbandonTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info().Msg("running startup recovery sweep")
	recoveryService.RunSweep(ctx)
	go recoveryService.Start(ctx, cfg.Upload.CleanupInterval)
	go runFinalizeWorker(ctx, finalizeQueue, finalizer)

	handlers := uploadapi.New(sessions, ingestor, meta, finalizer, valid)
	router := setupRouter(handlers)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	} else {
		log.Info().Msg("server shutdown complete")
	}
}

// runFinalizeWorker drains the advisory finalize queue until ctx is
// canceled, calling Finalize for every session id it pops. It is one
// of two ways finalization happens; RecoveryService's sweeps are the
// durable backstop if this worker misses a trigger or crashes.
func runFinalizeWorker(ctx context.Context, q *queue.FinalizeQueue, finalizer *finalize.Finalizer) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("finalize worker stopped")
			return
		default:
		}

		sessionID, ok, err := q.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("finalize worker: dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}

		if err := finalizer.Finalize(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("finalize worker: finalize attempt failed")
		}
	}
}

func setupRouter(h *uploadapi.Handlers) *gin.Engine {
	if zerologDebugEnabled() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	uploadapi.RegisterRoutes(router, h)
	return router
}

func zerologDebugEnabled() bool {
	return os.Getenv("LOG_LEVEL") == "debug"
}
