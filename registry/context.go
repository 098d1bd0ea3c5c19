package registry

// RequestContext is the context_object threaded through every handler
// invocation (spec.md §4.3): tenant data, auth token data, session id,
// protocol version, and the server's externally-visible base URL.
type RequestContext struct {
	SessionId       string
	ProtocolVersion string
	BaseURL         string
	TenantId        string
	UserId          string
	Scope           string
	TenantData      map[string]interface{}
	TokenData       map[string]interface{}
}
