package protocol

import "testing"

func TestVersionNegotiator_Negotiate(t *testing.T) {
	n := NewVersionNegotiator([]string{"2025-06-18", "2025-03-26", "2024-11-05"})
	tests := []struct {
		name   string
		client string
		want   string
	}{
		{"exact match newest", "2025-06-18", "2025-06-18"},
		{"exact match middle", "2025-03-26", "2025-03-26"},
		{"between versions picks older", "2025-05-01", "2025-03-26"},
		{"newer than everything picks newest", "2026-01-01", "2025-06-18"},
		{"older than everything falls back to oldest", "2020-01-01", "2024-11-05"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Negotiate(tt.client)
			if got != tt.want {
				t.Errorf("Negotiate(%q) = %q, want %q", tt.client, got, tt.want)
			}
		})
	}
}

func TestProtocolManager_SupportsMethod(t *testing.T) {
	pm := NewProtocolManager(nil)
	tests := []struct {
		name    string
		version string
		method  string
		want    bool
	}{
		{"completions gated pre-2025-03-26", "2024-11-05", "completions/complete", false},
		{"completions enabled 2025-03-26", "2025-03-26", "completions/complete", true},
		{"elicitation only on 2025-06-18", "2025-03-26", "elicitation/create", false},
		{"elicitation enabled 2025-06-18", "2025-06-18", "elicitation/create", true},
		{"core method always on", "2024-11-05", "tools/call", true},
		{"unknown method passes through", "2024-11-05", "tools/unknown", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pm.SupportsMethod(tt.version, tt.method)
			if got != tt.want {
				t.Errorf("SupportsMethod(%q, %q) = %v, want %v", tt.version, tt.method, got, tt.want)
			}
		})
	}
}

func TestProtocolManager_BatchingAllowed(t *testing.T) {
	pm := NewProtocolManager(nil)
	if pm.BatchingAllowed("2025-06-18") {
		t.Errorf("2025-06-18 should disable batching")
	}
	if !pm.BatchingAllowed("2025-03-26") {
		t.Errorf("2025-03-26 should allow batching")
	}
	if pm.BatchingAllowed("2024-11-05") {
		t.Errorf("2024-11-05 should disallow batching")
	}
}

func TestVersionFromSessionId(t *testing.T) {
	v, ok := VersionFromSessionId("2025-06-18_abcdef0123456789")
	if !ok || v != "2025-06-18" {
		t.Errorf("VersionFromSessionId = %q, %v, want 2025-06-18, true", v, ok)
	}
	if _, ok := VersionFromSessionId("no-underscore"); ok {
		t.Errorf("expected ok=false for a session id without an underscore")
	}
}
