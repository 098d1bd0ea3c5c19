package mcpserver

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/fernmcp/hostd/authmw"
	"github.com/fernmcp/hostd/dispatch"
	"github.com/fernmcp/hostd/internal/apierr"
	"github.com/fernmcp/hostd/registry"
)

var sessionIdInPath = regexp.MustCompile(`^[A-Za-z0-9.-]+_[A-Za-z0-9]+$`)

// handleMCP implements spec.md §4.1 for the /mcp/{contextId}/{sessionId?}
// route.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeCORSPreflight(w)
		return
	}

	if err := checkDNSRebinding(r); err != nil {
		writeProtocolError(w, err)
		return
	}

	contextId, routeSessionId := parseMCPPath(r.URL.Path)
	if contextId == "" {
		writeProtocolError(w, apierr.NewInvalidRequest("missing context id in path"))
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handlePOST(w, r, contextId, routeSessionId)
	case http.MethodGet:
		s.handleGET(w, r, contextId, routeSessionId)
	default:
		writeProtocolError(w, apierr.NewMethodNotAllowed("method %s is not allowed on the MCP endpoint", r.Method))
	}
}

func writeCORSPreflight(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id, MCP-Protocol-Version")
	w.WriteHeader(http.StatusOK)
}

// checkDNSRebinding implements spec.md §4.1 step 2: if Host resolves to a
// loopback name and Origin's host does not, the request is rejected.
func checkDNSRebinding(r *http.Request) *apierr.Error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	if !isLoopbackHost(r.Host) {
		return nil
	}
	originHost := origin
	if idx := strings.Index(origin, "://"); idx >= 0 {
		originHost = origin[idx+3:]
	}
	if !isLoopbackHost(originHost) {
		return apierr.NewInvalidRequest("request host is loopback but Origin is not: possible DNS rebinding")
	}
	return nil
}

func isLoopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(host), "/")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// parseMCPPath extracts contextId and an optional route-embedded sessionId
// from "/mcp/{contextId}/{sessionId?}".
func parseMCPPath(path string) (contextId, sessionId string) {
	trimmed := strings.Trim(strings.TrimPrefix(path, "/mcp/"), "/")
	if trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, "/", 2)
	contextId = parts[0]
	if len(parts) == 2 {
		sessionId = parts[1]
	}
	return contextId, sessionId
}

// resolveSessionId implements spec.md §4.1 step 4's resolution order:
// header → route parameter → path-segment regex match.
func resolveSessionId(r *http.Request, routeSessionId string) string {
	if header := r.Header.Get("Mcp-Session-Id"); header != "" {
		return header
	}
	if routeSessionId != "" {
		return routeSessionId
	}
	for _, segment := range strings.Split(r.URL.Path, "/") {
		if sessionIdInPath.MatchString(segment) {
			return segment
		}
	}
	return ""
}

func (s *Server) handlePOST(w http.ResponseWriter, r *http.Request, contextId, routeSessionId string) {
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		s.Logger.Errorf("mcpserver: failed to read request body for context %s: %v", contextId, err)
		writeProtocolError(w, apierr.NewParseError("failed to read request body"))
		return
	}

	sessionId := resolveSessionId(r, routeSessionId)
	isInitialize := isInitializeRequest(data)

	var rc *registry.RequestContext
	if isInitialize {
		rc = &registry.RequestContext{BaseURL: s.Config.BaseURL}
	} else {
		version := s.negotiatedVersionForSession(r, sessionId)
		authedRc, rej := s.Auth.Authenticate(r.Context(), r, contextId, version)
		if rej != nil {
			s.writeRejection(w, r, contextId, rej)
			return
		}
		rc = authedRc
	}

	result := s.Dispatcher.Dispatch(r.Context(), sessionId, data, rc)
	writeDispatchResult(w, result)
}

func (s *Server) handleGET(w http.ResponseWriter, r *http.Request, contextId, routeSessionId string) {
	sessionId := resolveSessionId(r, routeSessionId)
	if sessionId == "" {
		writeProtocolError(w, apierr.NewSessionError("GET requires an existing session id"))
		return
	}

	version := s.negotiatedVersionForSession(r, sessionId)
	if version == "" {
		writeProtocolError(w, apierr.NewSessionError("unknown session %q", sessionId))
		return
	}

	if !s.Config.Auth.Authless {
		_, rej := s.Auth.Authenticate(r.Context(), r, contextId, version)
		if rej != nil {
			s.writeRejection(w, r, contextId, rej)
			return
		}
	}

	s.streamSession(r.Context(), w, r, sessionId, version)
}

func (s *Server) negotiatedVersionForSession(r *http.Request, sessionId string) string {
	if sessionId == "" {
		return ""
	}
	sess, err := s.Store.GetSession(r.Context(), sessionId)
	if err != nil || sess == nil {
		return ""
	}
	return sess.ProtocolVersion
}

// isInitializeRequest reports whether a single (non-batch) JSON-RPC body's
// method is "initialize"; a batch never gets the initialize bypass, so a
// batch is always authenticated (and dispatch/batch.go answers an initialize
// element inside a batch with an invalid-request error).
func isInitializeRequest(data []byte) bool {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		return false
	}
	var probe struct {
		Method string `json:"method"`
	}
	_ = json.Unmarshal(data, &probe)
	return probe.Method == "initialize"
}

func writeProtocolError(w http.ResponseWriter, err *apierr.Error) {
	envelope := err.AsJSONRPCError(nil)
	data, marshalErr := json.Marshal(envelope)
	if marshalErr != nil {
		data = []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_, _ = w.Write(data)
}

func (s *Server) writeRejection(w http.ResponseWriter, r *http.Request, contextId string, rej *authmw.Rejection) {
	s.Logger.Debugf("mcpserver: rejected %s %s (context=%s): status=%d", r.Method, r.URL.Path, contextId, rej.Status)
	writeRejection(w, rej)
}

func writeRejection(w http.ResponseWriter, rej *authmw.Rejection) {
	if rej.WWWAuthenticate != "" {
		w.Header().Set("WWW-Authenticate", rej.WWWAuthenticate)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rej.Status)
	_, _ = w.Write(rej.Body)
}

func writeDispatchResult(w http.ResponseWriter, result *dispatch.Result) {
	if result.SessionId != "" {
		w.Header().Set("Mcp-Session-Id", result.SessionId)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	_, _ = w.Write(result.Body)
}
