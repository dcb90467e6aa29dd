package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/towns-protocol/rpc-gateway/internal/app/gateway"
	"github.com/towns-protocol/rpc-gateway/internal/config"
)

const defaultReadHeaderTimeout = 10 * time.Second

// RPCServer is the external HTTP listener: JSON-RPC POST requests and
// health-probe GETs, behind the configured CORS policy.
type RPCServer struct {
	httpServer *http.Server
}

func NewRPCServer(cfg config.ServerConfig, corsCfg config.CORSConfig, gw *gateway.Gateway) *RPCServer {
	mux := http.NewServeMux()

	rpcHandler := &RPCHandler{gateway: gw}
	healthHandler := &HealthCheckHandler{}

	mux.Handle("/health", healthHandler)
	mux.Handle("/health/liveness", healthHandler)
	mux.Handle("/health/readiness", healthHandler)
	mux.Handle("/", instrumentHandler(rpcHandler))

	handler := corsMiddleware(corsCfg).Handler(mux)

	return &RPCServer{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
		},
	}
}

func (s *RPCServer) Start() error {
	zap.L().Info("Starting RPC server.", zap.String("addr", s.httpServer.Addr))

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *RPCServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware translates the gateway's CORS config into an rs/cors
// policy. AllowAny* flags take priority over their corresponding explicit
// lists, matching how the rest of the config package treats a *bool
// true-by-default flag as the coarse switch and a list as the fine-grained
// override.
func corsMiddleware(cfg config.CORSConfig) *cors.Cors {
	options := cors.Options{
		MaxAge: cfg.MaxAgeSeconds,
	}

	if cfg.AllowAnyOrigin == nil || *cfg.AllowAnyOrigin {
		options.AllowedOrigins = []string{"*"}
	} else {
		options.AllowedOrigins = cfg.AllowedOrigins
	}

	if cfg.AllowAnyHeader == nil || *cfg.AllowAnyHeader {
		options.AllowedHeaders = []string{"*"}
	} else {
		options.AllowedHeaders = cfg.AllowedHeaders
	}

	if cfg.AllowAnyMethod == nil || *cfg.AllowAnyMethod {
		options.AllowedMethods = []string{http.MethodPost, http.MethodOptions, http.MethodGet}
	} else {
		options.AllowedMethods = cfg.AllowedMethods
	}

	if cfg.ExposeAnyHeader == nil || *cfg.ExposeAnyHeader {
		options.ExposedHeaders = []string{"*"}
	}

	return cors.New(options)
}
