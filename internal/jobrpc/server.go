package jobrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/semantica/task-engine/internal/apperr"
)

// ServerConfig binds the JSON-RPC server to loopback per the design
// ("JSON-RPC 2.0 over HTTP bound to loopback").
type ServerConfig struct {
	Host string
	Port int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{Host: "127.0.0.1", Port: 9527}
}

// Server routes JSON-RPC 2.0 requests to Handler methods.
type Server struct {
	cfg     ServerConfig
	handler *Handler
	limiter *rate.Limiter
	log     *slog.Logger
	http    *http.Server
}

func NewServer(cfg ServerConfig, h *Handler, limiter *rate.Limiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, handler: h, limiter: limiter, log: log}
}

func (s *Server) ListenAndServe() error {
	r := mux.NewRouter()
	r.HandleFunc("/rpc", s.serveRPC).Methods(http.MethodPost)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{Addr: addr, Handler: r}
	s.log.Info("jobrpc: listening", "addr", addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, RPCError{Code: CodeValidation, Message: "malformed JSON-RPC request"})
		return
	}

	if !s.limiter.Allow() {
		writeError(w, req.ID, RPCError{Code: CodeThrottled, Message: "rate limit exceeded"})
		return
	}

	result, err := s.dispatch(req.Method, req.Params)
	if err != nil {
		writeError(w, req.ID, ToRPCError(err))
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "dev.enqueue.v1":
		var p EnqueueParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, validationErr(err)
		}
		return s.handler.Enqueue(p)
	case "dev.cancel.v1":
		var p CancelParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, validationErr(err)
		}
		return s.handler.Cancel(p)
	case "logs.tail.v1":
		var p TailParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, validationErr(err)
		}
		return s.handler.TailLogs(p)
	case "admin.stats.v1":
		return s.handler.Stats()
	case "admin.maintenance.v1":
		var p MaintenanceParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, validationErr(err)
			}
		}
		return s.handler.RunMaintenance(p)
	default:
		return nil, validationErr(fmt.Errorf("unknown method %q", method))
	}
}

func validationErr(err error) error {
	return apperr.Wrap(apperr.Validation, "invalid params", err)
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{JSONRPC: "2.0", ID: id, Result: result})
}

func writeError(w http.ResponseWriter, id json.RawMessage, rpcErr RPCError) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{JSONRPC: "2.0", ID: id, Error: &rpcErr})
}
