package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kcmetrolive/metro-agent/internal/budget"
	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/resilience"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, the daily scheduler and the stage signal worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := ossignal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(ctx, env, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			return env.Scheduler.Start(gctx, scheduledRun(env))
		})

		if worker := env.Workers(); worker != nil {
			g.Go(func() error {
				return worker(gctx)
			})
		}

		return g.Wait()
	},
}

// scheduledRun adapts the orchestrator to the scheduler's run hook.
func scheduledRun(env *pipelineEnv) func(ctx context.Context, limit int) error {
	return func(ctx context.Context, limit int) error {
		res := env.Orchestrator.Run(ctx, limit, model.TriggerScheduled)
		if !res.Success {
			return eris.Errorf("scheduled run failed: %s", res.Message)
		}
		return env.Drain(ctx)
	}
}

// buildRouter mounts the API routes. ctx bounds background stage delivery
// that outlives a request.
func buildRouter(ctx context.Context, env *pipelineEnv, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", env.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			status, err := env.Orchestrator.Status(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, status)
		})

		r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Limit int `json:"limit"`
			}
			if err := decodeBody(req, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if body.Limit == 0 {
				body.Limit = env.Scheduler.Limit()
			}

			res := env.Orchestrator.Run(req.Context(), body.Limit, model.TriggerAPI)
			if res.Success {
				deliverAsync(ctx, env)
			}
			writeJSON(w, statusForResult(res), res)
		})

		r.Get("/runs/stats", func(w http.ResponseWriter, req *http.Request) {
			stats, err := env.Orchestrator.RunStats(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})

		r.Post("/stages/{stage}", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				SessionID string `json:"session_id"`
			}
			if err := decodeBody(req, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			stage := model.Stage(chi.URLParam(req, "stage"))
			res := runStage(req.Context(), env, stage, body.SessionID)
			if res == nil {
				writeError(w, http.StatusNotFound, "unknown stage: "+string(stage))
				return
			}
			writeJSON(w, statusForResult(res), res)
		})

		r.Get("/budget", func(w http.ResponseWriter, req *http.Request) {
			status, err := env.Ledger.Status(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, status)
		})

		r.Get("/budget/report", func(w http.ResponseWriter, req *http.Request) {
			period := req.URL.Query().Get("period")
			if period == "" {
				period = "month"
			}
			format := req.URL.Query().Get("format")
			report, err := env.Ledger.Report(req.Context(), period)
			if err != nil {
				writeError(w, httpStatus(err), err.Error())
				return
			}
			var buf bytes.Buffer
			if err := budget.ExportReport(&buf, report, format); err != nil {
				writeError(w, httpStatus(err), err.Error())
				return
			}
			w.Header().Set("Content-Type", reportContentType(format))
			_, _ = w.Write(buf.Bytes())
		})

		r.Post("/schedule/{action}", func(w http.ResponseWriter, req *http.Request) {
			rctx := req.Context()
			var err error
			switch chi.URLParam(req, "action") {
			case "enable":
				_, err = env.Scheduler.Enable(rctx)
			case "disable":
				err = env.Scheduler.Disable(rctx)
			case "status":
			default:
				writeError(w, http.StatusNotFound, "unknown schedule action")
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			status, err := env.Scheduler.Status(rctx)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, status)
		})
	})

	return r
}

// deliverAsync runs queued downstream stages after the response is written
// when the bus is inline.
func deliverAsync(ctx context.Context, env *pipelineEnv) {
	if env.inline == nil {
		return
	}
	go func() {
		if err := env.Drain(ctx); err != nil {
			zap.L().Error("deliver stage signals failed", zap.Error(err))
		}
	}()
}

// statusForResult maps a stage outcome to an HTTP status.
func statusForResult(res *model.StageResult) int {
	if res.Success {
		return http.StatusOK
	}
	return statusForKind(resilience.Kind(res.ErrorKind))
}

func httpStatus(err error) int {
	return statusForKind(resilience.KindOf(err))
}

func statusForKind(kind resilience.Kind) int {
	switch kind {
	case resilience.KindValidation:
		return http.StatusBadRequest
	case resilience.KindBudgetExceeded:
		return http.StatusPaymentRequired
	case resilience.KindUpstream, resilience.KindTransport, resilience.KindMalformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func reportContentType(format string) string {
	switch format {
	case budget.FormatCSV:
		return "text/csv"
	case budget.FormatYAML:
		return "application/yaml"
	default:
		return "application/json"
	}
}

// decodeBody reads an optional JSON body. An empty body leaves v unchanged.
func decodeBody(req *http.Request, v any) error {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
