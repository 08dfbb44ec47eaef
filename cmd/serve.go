/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/tieubaoca/paperflow/config"
	"github.com/tieubaoca/paperflow/database"
	"github.com/tieubaoca/paperflow/handler"
	"github.com/tieubaoca/paperflow/middleware"
	"github.com/tieubaoca/paperflow/service"
	"go.uber.org/zap"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the conversion API server",
	Long: `Starts an HTTP server that launches conversion runs in the background,
streams their progress, serves converted outputs and, when Weaviate is
configured, searches indexed papers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Server.Port = port
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var flags hookFlags
		flags.summarize, _ = cmd.Flags().GetBool("summarize")
		flags.decide, _ = cmd.Flags().GetBool("decide")
		flags.index, _ = cmd.Flags().GetBool("index")

		repo, closeRepo, err := newOutcomeRepo(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeRepo()
		hook, waitHooks, err := newHooks(ctx, cfg, logger, flags)
		if err != nil {
			return err
		}
		// Built once so a bad token fails at startup.
		base, err := newPipeline(cfg, logger, time.Now(), repo, hook)
		if err != nil {
			return err
		}
		factory := func(progress service.ProgressFunc) *service.Coordinator {
			p, err := newPipeline(cfg, logger, time.Now(), repo, hook)
			if err != nil {
				logger.Warn("rebuilding pipeline failed, using startup pipeline", zap.Error(err))
				p = base
			}
			return p.factory(progress)
		}
		runs := service.NewRunManager(ctx, factory, logger)

		router := gin.New()
		router.Use(gin.Recovery(), requestLogger(logger))
		router.Use(handler.NewCorsHandler(cfg.Server.AllowedOrigins...).CorsMiddleware)

		runHandler := handler.NewRunHandler(runs, repo, cfg.Server.InputRoot)
		documentHandler := handler.NewDocumentHandler(func(date string) (string, string, error) {
			day := time.Now()
			if date != "" {
				parsed, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return "", "", fmt.Errorf("invalid date %q", date)
				}
				day = parsed
			}
			text, data := cfg.Output.OutputDirs(day)
			return text, data, nil
		})

		apiV1 := router.Group("/api/v1")
		apiV1.Use(middleware.TokenAuthMiddleware(cfg.Server.APIToken))
		{
			apiV1.POST("/runs", runHandler.HandleStartRun)
			apiV1.GET("/runs", runHandler.HandleListRuns)
			apiV1.GET("/runs/:id", runHandler.HandleGetRun)
			apiV1.GET("/runs/:id/events", runHandler.HandleRunEvents)
			apiV1.GET("/artifacts", documentHandler.ServeDocument)
		}
		if searchEnabled(cfg) {
			store, err := database.NewWeaviateStore(ctx, cfg.Index.WeaviateStoreConfig, logger)
			if err != nil {
				logger.Warn("weaviate unavailable, search disabled", zap.Error(err))
			} else {
				apiV1.POST("/papers/search", handler.NewSearchHandler(store).HandleSearch)
			}
		}

		srv := &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		}
		errCh := make(chan error, 1)
		go func() {
			logger.Info("starting server", zap.String("port", cfg.Server.Port))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
		case <-ctx.Done():
			logger.Info("shutting down")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
		runs.Wait()
		if failed := waitHooks(); failed > 0 {
			logger.Warn("some downstream hooks failed", zap.Int("failed", failed))
		}
		return nil
	},
}

// requestLogger logs one line per request through zap.
// searchEnabled reports whether a Weaviate host is configured for search.
func searchEnabled(c *config.Config) bool {
	return c.Index.WeaviateStoreConfig.Host != ""
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("port", "p", "", "listen port (overrides server.port)")
	serveCmd.Flags().Bool("summarize", false, "write an LLM summary of every converted paper")
	serveCmd.Flags().Bool("decide", false, "ask an LLM for the main institution of every converted paper")
	serveCmd.Flags().Bool("index", false, "index converted papers into Weaviate")
}
