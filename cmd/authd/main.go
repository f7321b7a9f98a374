package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"vaultauth/internal/bootstrap"
	"vaultauth/internal/config"
	"vaultauth/internal/logging"
	"vaultauth/internal/metrics"
)

func main() {
	logging.Init("authd", nil)
	if err := run(os.Args[1:], serveHTTP); err != nil {
		fatalf("authd: %v", err)
	}
}

var serveHTTP = func(srv *http.Server) error { return srv.ListenAndServe() }
var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var loadConfig = config.LoadConfig
var buildStack = func(cfg config.Config) (*bootstrap.Stack, error) { return bootstrap.Build(cfg, nil) }

func run(args []string, serve func(*http.Server) error) error {
	fs := flag.NewFlagSet("authd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	addr := fs.String("addr", "", "listen address (overrides server.http_addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return errors.New("config required")
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	listen := strings.TrimSpace(*addr)
	if listen == "" {
		listen = cfg.Server.HTTPAddr
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	stack, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}()
	if err := stack.Start(ctx); err != nil {
		return err
	}

	slog.Info("authd listening", "addr", listen, "auth_method", cfg.Vault.AuthMethod)
	httpSrv := &http.Server{Addr: listen, Handler: metrics.Middleware(newMux(stack))}
	errCh := make(chan error, 1)
	go func() { errCh <- serve(httpSrv) }()
	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	forceExit := time.AfterFunc(30*time.Second, func() { os.Exit(1) })
	defer forceExit.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	err = <-errCh
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type tokenStatus struct {
	Method    string     `json:"method"`
	Cached    bool       `json:"cached"`
	Accessor  string     `json:"accessor,omitempty"`
	Renewable bool       `json:"renewable"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func newMux(stack *bootstrap.Stack) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !stack.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{}
		st := tokenStatus{Method: stack.Config.Vault.AuthMethod}
		if p, ok := stack.Provider(); ok {
			if tok, cached := p.Cached(); cached {
				st.Cached = true
				st.Accessor = tok.Accessor
				st.Renewable = tok.Renewable
				if tok.TTL > 0 {
					exp := tok.ExpiresAt()
					st.ExpiresAt = &exp
				}
			}
		}
		out["token"] = st
		if stack.Monitor != nil {
			if last, ok := stack.Monitor.Last(); ok {
				out["vault"] = last
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
