// Command fabricd runs the unified protocol fabric: it wires every
// configured MCP/A2A/ACP/ANP server into one namespaced tool catalog,
// serves a small HTTP control surface, and shuts down gracefully.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenticraft/protocolfabric/internal/config"
	"github.com/agenticraft/protocolfabric/internal/fabric"
	_ "github.com/agenticraft/protocolfabric/internal/fabric/a2aadapter"
	_ "github.com/agenticraft/protocolfabric/internal/fabric/acpadapter"
	_ "github.com/agenticraft/protocolfabric/internal/fabric/anpadapter"
	_ "github.com/agenticraft/protocolfabric/internal/fabric/mcpadapter"
)

func main() {
	dumpCatalog := flag.String("dump-catalog", "", "snapshot the tool catalog to this sqlite file after initialization and exit")
	flag.Parse()

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, logCleanup := setupLogger(cfg)
	defer logCleanup()
	slog.SetDefault(logger)

	if err := pingLLM(context.Background(), cfg); err != nil {
		slog.Warn("llm health check failed, continuing without it", "error", err)
	}

	f := fabric.New()
	for name, sc := range cfg.Servers {
		protocol := fabric.ProtocolId(strings.ToLower(sc.Protocol))
		pref := parseSDKPreference(sc.SDK)

		serverConfig := map[string]any{}
		for k, v := range sc.Extra {
			serverConfig[k] = v
		}
		if sc.Token != "" {
			serverConfig["token"] = sc.Token
		}

		id, err := f.RegisterServer(context.Background(), protocol, pref, serverConfig, sc.Namespace)
		if err != nil {
			slog.Error("register server failed", "server", name, "protocol", protocol, "error", err)
			continue
		}
		slog.Info("server registered", "server", name, "id", id)
	}

	if *dumpCatalog != "" {
		if err := f.DumpCatalog(context.Background(), *dumpCatalog); err != nil {
			slog.Error("dump catalog failed", "error", err)
			os.Exit(1)
		}
		slog.Info("catalog dumped", "path", *dumpCatalog)
		return
	}
	if cfg.Catalog.DumpPath != "" {
		if err := f.DumpCatalog(context.Background(), cfg.Catalog.DumpPath); err != nil {
			slog.Warn("background catalog dump failed", "error", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		protocol := fabric.ProtocolId(strings.ToLower(r.URL.Query().Get("protocol")))
		writeJSON(w, f.GetTools(protocol))
	})
	mux.HandleFunc("/sdk-info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, f.GetSDKInfo())
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("fabricd starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server start failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("fabricd stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown forced", "error", err)
	}

	f.Shutdown(shutdownCtx)
	slog.Info("fabricd stopped")
}

func parseSDKPreference(s string) fabric.SDKPreference {
	switch strings.ToLower(s) {
	case "official":
		return fabric.PreferOfficial
	case "custom":
		return fabric.PreferCustom
	case "hybrid":
		return fabric.PreferHybrid
	default:
		return fabric.PreferAuto
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

// pingLLM is the fabric's one ambient consumer-facing capability outside
// the protocol catalog itself: a cheap startup check that an LLM backend
// is reachable, for operators who point a unified agent at one. Absent
// LLM_API_KEY, it is a no-op — the fabric has no hard LLM dependency.
func pingLLM(ctx context.Context, cfg *config.Config) error {
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		return nil
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	_, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(model),
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage("ping")},
		MaxTokens: openai.Int(1),
	})
	if err != nil {
		return fmt.Errorf("llm ping failed: %w", err)
	}
	return nil
}

// setupLogger builds a slog.Logger fanning out to every configured
// output, rotating file outputs through lumberjack.
func setupLogger(cfg *config.Config) (*slog.Logger, func()) {
	var writers []io.Writer
	var closers []io.Closer

	for _, output := range strings.Split(cfg.Log.Output, ",") {
		output = strings.TrimSpace(output)
		if output == "" {
			continue
		}
		var w io.Writer
		switch output {
		case "stderr":
			w = os.Stderr
		case "stdout":
			w = os.Stdout
		default:
			l := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    cfg.Log.Rotation.MaxSize,
				MaxBackups: cfg.Log.Rotation.MaxBackups,
				MaxAge:     cfg.Log.Rotation.MaxAge,
				Compress:   cfg.Log.Rotation.Compress,
			}
			w = l
			closers = append(closers, l)
		}
		writers = append(writers, w)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	opts := &slog.HandlerOptions{Level: cfg.GetLogLevel()}
	var handler slog.Handler
	multi := io.MultiWriter(writers...)
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(multi, opts)
	} else {
		handler = slog.NewTextHandler(multi, opts)
	}

	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}
	return slog.New(handler), cleanup
}
