package protocol

import "strings"

// methodFeature maps a JSON-RPC method to the feature that must be enabled
// for the session's negotiated version before the dispatcher may invoke it.
// "initialize" is absent because it runs before negotiation exists
// (SupportsMethod lets it through directly); ping is gated on FeatureCore,
// which every version enables.
var methodFeature = map[string]string{
	"ping":                          FeatureCore,
	"tools/list":                    FeatureCore,
	"tools/call":                    FeatureCore,
	"prompts/list":                  FeatureCore,
	"prompts/get":                   FeatureCore,
	"resources/list":                FeatureCore,
	"resources/read":                FeatureCore,
	"resources/templates/list":      FeatureCore,
	"sampling/createMessage":        FeatureCore,
	"roots/list":                    FeatureCore,
	"roots/read":                    FeatureCore,
	"roots/listDirectory":           FeatureCore,
	"completions/complete":          FeatureCompletions,
	"elicitation/create":            FeatureElicitation,
	"notifications/progress":        FeatureProgress,
	"notifications/initialized":     FeatureCore,
	"notifications/cancelled":       FeatureCore,
}

// ProtocolManager owns the feature matrix and version negotiation, and
// answers the dispatcher's and initializer's questions about what a given
// session version may do (spec.md §4.2, §4.5).
type ProtocolManager struct {
	matrix     *Matrix
	negotiator *VersionNegotiator
}

// NewProtocolManager builds a manager over the given supported-version list
// (newest first). An empty list falls back to DefaultMatrix's versions.
func NewProtocolManager(supported []string) *ProtocolManager {
	matrix := DefaultMatrix()
	if len(supported) > 0 {
		matrix.versions = supported
	}
	return &ProtocolManager{
		matrix:     matrix,
		negotiator: NewVersionNegotiator(matrix.versions),
	}
}

// Negotiate resolves a client-requested version to a supported one.
func (p *ProtocolManager) Negotiate(clientVersion string) string {
	return p.negotiator.Negotiate(clientVersion)
}

// SupportsMethod reports whether method may be invoked on a session running
// version. Unknown methods are allowed through; the registries report "not
// found" for those, matching spec.md §4.3's execute() contract.
func (p *ProtocolManager) SupportsMethod(version, method string) bool {
	if method == "initialize" {
		return true
	}
	feature, ok := methodFeature[method]
	if !ok {
		return true
	}
	return p.matrix.Supports(version, feature)
}

// SupportsFeature exposes the underlying matrix lookup for callers (tool
// result wrapping, content validation) that reason about features directly
// rather than methods.
func (p *ProtocolManager) SupportsFeature(version, feature string) bool {
	return p.matrix.Supports(version, feature)
}

// BatchingAllowed reports whether version accepts JSON-RPC batch arrays
// (spec.md §4.4 — disabled again on 2025-06-18 per the resolved Open
// Question documented in the design notes).
func (p *ProtocolManager) BatchingAllowed(version string) bool {
	return p.matrix.Supports(version, FeatureJSONRPCBatching)
}

// Capabilities builds the initialize response's capabilities object by
// introspecting the feature matrix for version (spec.md §4.5 step 6).
// FeatureCore adds the tools, prompts, resources, roots, sampling and ping
// keys, with sub-capabilities where the MCP capability object conventionally
// carries them; FeatureCompletions and FeatureElicitation each add their own
// key. The other features add no key.
func (p *ProtocolManager) Capabilities(version string) map[string]interface{} {
	row := p.matrix.Row(version)
	caps := map[string]interface{}{}
	if row[FeatureCore] {
		caps["tools"] = map[string]interface{}{"listChanged": true}
		caps["prompts"] = map[string]interface{}{"listChanged": true}
		caps["resources"] = map[string]interface{}{"subscribe": false, "listChanged": true}
		caps["roots"] = map[string]interface{}{"listChanged": true}
		caps["sampling"] = map[string]interface{}{}
		caps["ping"] = map[string]interface{}{}
	}
	if row[FeatureCompletions] {
		caps["completions"] = map[string]interface{}{}
	}
	if row[FeatureElicitation] {
		caps["elicitation"] = map[string]interface{}{}
	}
	return caps
}

// AllocateSessionId builds the "<negotiated>_<hex>" session id of spec.md
// §4.5 step 3, from a negotiated version and a caller-supplied random hex
// suffix (the dispatcher owns the randomness source).
func AllocateSessionId(version, hexSuffix string) string {
	return version + "_" + hexSuffix
}

// VersionFromSessionId recovers the protocol version a session id was
// allocated under, for the fallback path of spec.md §4.2's "session version
// resolution" when the session record itself lacks protocol_version.
func VersionFromSessionId(sessionId string) (string, bool) {
	idx := strings.IndexByte(sessionId, '_')
	if idx <= 0 {
		return "", false
	}
	return sessionId[:idx], true
}
