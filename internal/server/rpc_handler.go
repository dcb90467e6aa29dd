package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/towns-protocol/rpc-gateway/internal/app/gateway"
	"github.com/towns-protocol/rpc-gateway/internal/jsonrpc"
	"github.com/towns-protocol/rpc-gateway/internal/util"
)

const apiKeyHeader = "Authorization"

// RPCHandler parses a request's URL and body into a gateway.Request and
// serves whatever the Gateway returns.
type RPCHandler struct {
	gateway *gateway.Gateway
}

func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		respondJSON(w, "Method not allowed.", http.StatusMethodNotAllowed)
		return
	}

	headerContentType := req.Header.Get("Content-Type")
	// Content-Type SHOULD be 'application/json-rpc' but MAY be
	// 'application/json' or 'application/jsonrequest'.
	// See https://www.jsonrpc.org/historical/json-rpc-over-http.html.
	if !slices.Contains([]string{"application/json", "application/json-rpc", "application/jsonrequest"}, headerContentType) {
		respondJSON(w, "Content-Type not supported.", http.StatusUnsupportedMediaType)
		return
	}

	chainID, projectName, err := parseChainPath(req.URL.Path)
	if err != nil {
		respondJSON(w, "Invalid Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	ctx := util.NewContext(context.Background(), getClientID(req))

	rawBody, err := io.ReadAll(req.Body)
	if err != nil {
		zap.L().Error("Failed to read request body.", zap.Error(err))
		respondJSON(w, "Request body could not be read.", http.StatusInternalServerError)

		return
	}

	preserved, err := jsonrpc.ParsePreservedRequest(rawBody)
	if err != nil {
		zap.L().Debug("Rejecting unparseable request body.", zap.Error(err), zap.String("requestID", util.GetRequestIDFromContext(ctx)))
		respondJSON(w, "Invalid Request: body is not a JSON-RPC call or batch.", http.StatusBadRequest)

		return
	}

	resp := h.gateway.Handle(ctx, gateway.Request{
		ChainID:     chainID,
		ProjectName: projectName,
		CallerKey:   callerKeyFromHeader(req),
		Preserved:   preserved,
	})

	respondJSONRPC(w, resp, http.StatusOK)
}

// parseChainPath splits "/<chain-id>" or "/<chain-id>/<project>" into a
// chain id and a project name, defaulting the project to "default" when the
// path has no suffix.
func parseChainPath(path string) (uint64, string, error) {
	trimmed := strings.Trim(path, "/")
	segments := strings.Split(trimmed, "/")

	chainID, err := strconv.ParseUint(segments[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("chain id must be a positive integer: %w", err)
	}

	projectName := "default"
	if len(segments) > 1 && segments[1] != "" {
		projectName = segments[1]
	}

	return chainID, projectName, nil
}

// callerKeyFromHeader reads the project key from the Authorization header,
// accepting either a bare key or a "Bearer <key>" value. A missing header
// means the caller supplied no key at all, distinct from an empty one.
func callerKeyFromHeader(req *http.Request) *string {
	header := req.Header.Get(apiKeyHeader)
	if header == "" {
		return nil
	}

	key := strings.TrimPrefix(header, "Bearer ")

	return &key
}

// getClientID identifies the caller for logging, via an optional "client"
// query parameter -- convenient when the calling code is hard to modify but
// its RPC URL is configurable.
func getClientID(req *http.Request) string {
	if clientID := req.URL.Query().Get("client"); clientID != "" {
		return clientID
	}

	return "unknown"
}

func respondJSONRPC(w http.ResponseWriter, response jsonrpc.ResponseBody, httpStatusCode int) {
	if response == nil {
		w.WriteHeader(httpStatusCode)
		return
	}

	respBytes, err := response.Encode()
	if err != nil {
		zap.L().Error("Failed to serialize response.", zap.Error(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)

	if _, err := w.Write(respBytes); err != nil {
		zap.L().Error("Failed to write JSON-RPC response body.", zap.Error(err))
	}
}

func respondJSON(w http.ResponseWriter, message string, httpStatusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)

	body := fmt.Sprintf(`{"message":%q}`, message)
	if _, err := w.Write([]byte(body)); err != nil {
		zap.L().Error("Failed to write response body.", zap.Error(err))
	}
}
