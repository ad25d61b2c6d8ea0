// Package rpc implements the JSON-RPC 2.0 API server.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-bft/config"
	"github.com/Klingon-tech/klingnet-bft/internal/engine"
	"github.com/Klingon-tech/klingnet-bft/internal/gossip"
	klog "github.com/Klingon-tech/klingnet-bft/internal/log"
	"github.com/Klingon-tech/klingnet-bft/internal/mempool"
	"github.com/Klingon-tech/klingnet-bft/internal/stake"
	"github.com/Klingon-tech/klingnet-bft/internal/store"
	"github.com/Klingon-tech/klingnet-bft/pkg/types"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// statusTimeout bounds how long a handler waits for the engine loop to
// answer a status request.
const statusTimeout = 2 * time.Second

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr       string
	engine     *engine.Engine
	cstore     *store.ConsensusStore
	pool       *mempool.Pool
	registry   *stake.Registry
	gossipNode *gossip.Node // nil = P2P disabled
	genesis    *config.Genesis
	self       types.ValidatorID
	server     *http.Server
	logger     zerolog.Logger
	ln         net.Listener
}

// New creates a new RPC server. The gossipNode parameter is optional
// (nil reports zero peers on net_getPeerInfo).
func New(addr string, eng *engine.Engine, cstore *store.ConsensusStore, pool *mempool.Pool,
	registry *stake.Registry, gossipNode *gossip.Node, genesis *config.Genesis, self types.ValidatorID) *Server {

	s := &Server{
		addr:       addr,
		engine:     eng,
		cstore:     cstore,
		pool:       pool,
		registry:   registry,
		gossipNode: gossipNode,
		genesis:    genesis,
		self:       self,
		logger:     klog.WithComponent("rpc"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("RPC server listening")

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	result, rpcErr := s.dispatch(&req)
	if rpcErr != nil {
		writeJSON(w, Response{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	writeJSON(w, Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req *Request) (interface{}, *Error) {
	switch req.Method {
	case "node_getStatus":
		return s.handleNodeGetStatus(req)
	case "chain_getBlock":
		return s.handleChainGetBlock(req)
	case "chain_getQC":
		return s.handleChainGetQC(req)
	case "chain_getFinalized":
		return s.handleChainGetFinalized(req)
	case "stake_getValidators":
		return s.handleStakeGetValidators(req)
	case "stake_getValidator":
		return s.handleStakeGetValidator(req)
	case "pool_submit":
		return s.handlePoolSubmit(req)
	case "pool_getInfo":
		return s.handlePoolGetInfo(req)
	case "evidence_list":
		return s.handleEvidenceList(req)
	case "net_getPeerInfo":
		return s.handleNetGetPeerInfo(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}

	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}

	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
