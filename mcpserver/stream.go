package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fernmcp/hostd/internal/config"
	"github.com/fernmcp/hostd/transport/server/http/common"
)

// streamSession implements the shared polling loop of spec.md §4.8, adapted
// from the teacher's base.Session/SSE event-framing idiom (event-id prefix,
// FlushWriter, keepalive ticks with backoff) but sourcing deliveries from
// the storage-backed message queue instead of an in-process session
// struct — the queue is what dispatch/dispatch.go's queue() appends to, so
// this loop is the other half of that contract.
func (s *Server) streamSession(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionId, version string) {
	transportCfg := s.transportConfigFor(version)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if version == "2025-06-18" {
		w.Header().Set("MCP-Protocol-Version", version)
	}

	writer := common.NewFlushWriter(w)

	if version == "2024-11-05" {
		endpoint := fmt.Sprintf("%s/mcp/%s/%s", s.Config.BaseURL, lastPathSegmentBeforeSession(r), sessionId)
		_, _ = writer.Write([]byte(fmt.Sprintf("event: endpoint\ndata: %s\n\n", endpoint)))
	}

	interval := transportCfg.KeepaliveInterval
	if interval <= 0 {
		interval = time.Second
	}
	maxConnectionTime := transportCfg.MaxConnectionTime
	if maxConnectionTime <= 0 {
		maxConnectionTime = 1800 * time.Second
	}
	switchAfter := transportCfg.SwitchIntervalAfter
	if switchAfter <= 0 {
		switchAfter = 60 * time.Second
	}

	deadline := time.Now().Add(maxConnectionTime)
	sinceLastDelivery := time.Duration(0)
	var eventId uint64

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ctx.Done():
			return
		default:
		}
		if time.Now().After(deadline) {
			return
		}

		entries, err := s.Store.GetMessages(ctx, sessionId)
		if err != nil {
			s.Logger.Errorf("mcpserver: failed to poll queued messages for session %s: %v", sessionId, err)
			return
		}
		if len(entries) == 0 {
			if !writeKeepalive(writer, version) {
				return
			}
			sinceLastDelivery += interval
			if sinceLastDelivery > switchAfter {
				interval = interval * 2
				if interval > 5*time.Second {
					interval = 5 * time.Second
				}
			}
			timer := time.NewTimer(interval)
			select {
			case <-r.Context().Done():
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		for _, entry := range entries {
			eventId++
			if !writeDelivery(writer, eventId, entry.Data) {
				return
			}
			if err := s.Store.DeleteMessage(ctx, entry.Id); err != nil {
				s.Logger.Errorf("mcpserver: failed to delete delivered message %s for session %s: %v", entry.Id, sessionId, err)
				return
			}
		}
		deadline = time.Now().Add(maxConnectionTime)
		sinceLastDelivery = 0
		interval = transportCfg.KeepaliveInterval
		if interval <= 0 {
			interval = time.Second
		}
	}
}

func writeKeepalive(writer *common.FlushWriter, version string) bool {
	var payload []byte
	if version == "2024-11-05" {
		payload = []byte(": keepalive\n\n")
	} else {
		payload = []byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/ping\"}\n\n")
	}
	_, err := writer.Write(payload)
	return err == nil
}

// writeDelivery frames one queued message as an SSE event. Both transports
// of spec.md §4.8 use identical "event: message" framing for deliveries;
// they differ only in keepalive shape (writeKeepalive) and in 2025-06-18's
// extra MCP-Protocol-Version response header, set once up front.
func writeDelivery(writer *common.FlushWriter, eventId uint64, data []byte) bool {
	framed := fmt.Sprintf("id: %d\nevent: message\ndata: %s\n\n", eventId, data)
	_, err := writer.Write([]byte(framed))
	return err == nil
}

func (s *Server) transportConfigFor(version string) config.Transport {
	if version == "2024-11-05" {
		return s.Config.SSE
	}
	return s.Config.StreamableHTTP
}

func lastPathSegmentBeforeSession(r *http.Request) string {
	contextId, _ := parseMCPPath(r.URL.Path)
	return contextId
}
