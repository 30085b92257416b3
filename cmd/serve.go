package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kermitos690/lexveille/internal/model"
)

var servePort int

// recordCreator is the slice of the store the webhook needs.
type recordCreator interface {
	CreateRecord(ctx context.Context, rec *model.Record) error
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server receiving records for analysis",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		orch, err := initDetection(st)
		if err != nil {
			return err
		}

		// One background batch at a time; extra triggers are dropped.
		trigger := make(chan struct{}, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-trigger:
					result, err := orch.Run(ctx)
					if err != nil {
						zap.L().Error("webhook-triggered analysis failed", zap.Error(err))
						continue
					}
					zap.L().Info("webhook-triggered analysis complete",
						zap.Int("processed", result.Processed),
						zap.Int("incidents", result.IncidentsCreated))
				}
			}
		}()

		mux := buildServeMux(st, func() {
			select {
			case trigger <- struct{}{}:
			default:
			}
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(context.Background()) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildServeMux assembles the webhook routes. triggerAnalysis schedules a
// background analysis batch and must not block.
func buildServeMux(rc recordCreator, triggerAnalysis func()) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /webhook/analyze", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Sender     string    `json:"sender"`
			Recipient  string    `json:"recipient"`
			Subject    string    `json:"subject"`
			Body       string    `json:"body"`
			ThreadID   string    `json:"thread_id"`
			ReceivedAt time.Time `json:"received_at"`
			Analyze    bool      `json:"analyze"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		if strings.TrimSpace(req.Sender) == "" || strings.TrimSpace(req.Body) == "" {
			http.Error(w, `{"error":"sender and body are required"}`, http.StatusBadRequest)
			return
		}

		receivedAt := req.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = time.Now().UTC()
		}

		rec := &model.Record{
			ID:         uuid.New().String(),
			Sender:     req.Sender,
			Recipient:  req.Recipient,
			Subject:    req.Subject,
			Body:       req.Body,
			ThreadID:   req.ThreadID,
			ReceivedAt: receivedAt,
		}

		if err := rc.CreateRecord(r.Context(), rec); err != nil {
			zap.L().Error("webhook record insert failed",
				zap.String("sender", req.Sender), zap.Error(err))
			http.Error(w, `{"error":"failed to store record"}`, http.StatusInternalServerError)
			return
		}

		if req.Analyze {
			triggerAnalysis()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "accepted",
			"record_id": rec.ID,
		})
	})

	return mux
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
