package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mariobot/internal/config"
	"mariobot/internal/dispatch"
	"mariobot/internal/openai"
	"mariobot/internal/policy"
	"mariobot/internal/session"
	"mariobot/internal/utils"
	"mariobot/internal/whatsapp"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := makeStore(cfg)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	wa := whatsapp.NewClient(cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.AccessToken, cfg.WhatsApp.APIBase)
	ai := openai.NewClient(openai.Config{
		APIKey:          cfg.OpenAI.APIKey,
		APIBase:         cfg.OpenAI.APIBase,
		Model:           cfg.OpenAI.Model,
		TranscribeModel: cfg.OpenAI.TranscribeModel,
		MaxTokens:       cfg.OpenAI.MaxTokens,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Store:          store,
		Policy:         policy.New(),
		Sender:         wa,
		Generator:      ai,
		Transcriber:    ai,
		Media:          wa,
		IncludeHistory: cfg.Policy.HistoryEnabled(),
		HistoryWindow:  cfg.Policy.HistoryWindow,
		Timeout:        time.Duration(cfg.Policy.RequestTimeout) * time.Second,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		body, status := whatsapp.VerifyWebhook(
			q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"),
			cfg.WhatsApp.VerifyToken)
		if status == http.StatusOK {
			log.Println("[Server] ✅ Webhook verified")
		} else {
			log.Printf("[Server] ❌ Webhook verification failed (HTTP %d)", status)
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	})
	mux.HandleFunc("POST /webhook", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		outcome := dispatcher.Handle(r.Context(), body)
		log.Printf("[Server] webhook outcome: %s", outcome)
		// Always acknowledge: a non-2xx would make the platform re-deliver
		// and duplicate sends.
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})

	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
	srv := &http.Server{Addr: addr, Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] 🤖 mariobot listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[Server] shutdown: %v", err)
	}
	// Let in-flight turns finish so state flags and history stay paired.
	dispatcher.Stop()
	if closer, ok := store.(io.Closer); ok {
		closer.Close()
	}
	return nil
}

// makeStore builds the configured session store backend.
func makeStore(cfg config.Config) (session.Store, error) {
	switch cfg.Store.Backend {
	case "", "file":
		dataDir := cfg.Store.DataDir
		if dataDir == "" {
			dataDir = utils.GetDataPath()
		}
		return session.NewFileStore(dataDir)
	case "redis":
		return session.NewRedisStore(session.RedisConfig{
			URL:      cfg.Store.Redis.URL,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
