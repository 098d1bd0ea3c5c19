package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/fernmcp/hostd/internal/apierr"
)

// audioMimeTypes is the allowlist of spec.md §4.7.
var audioMimeTypes = map[string]bool{
	"audio/mpeg": true,
	"audio/wav":  true,
	"audio/ogg":  true,
	"audio/mp4":  true,
	"audio/webm": true,
	"audio/flac": true,
	"audio/aac":  true,
}

const maxAudioDecodedBytes = 50 * 1024 * 1024 // 50 MiB, spec.md §4.7

// audioContent is the wire shape of an audio content item, spec.md §4.7.
type audioContent struct {
	Type        string          `json:"type"`
	Data        string          `json:"data"`
	MimeType    string          `json:"mimeType"`
	Duration    float64         `json:"duration,omitempty"`
	Name        string          `json:"name,omitempty"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
}

// validateAudioContent enforces spec.md §4.7: known mime type, base64
// decodable, decoded size under the cap. Called only when the session's
// negotiated version has FeatureAudioContent enabled; the caller is
// responsible for that gate.
func validateAudioContent(raw json.RawMessage) *apierr.Error {
	var ac audioContent
	if err := json.Unmarshal(raw, &ac); err != nil {
		return apierr.NewInvalidParams("invalid audio content: %v", err)
	}
	if ac.Type != "audio" {
		return apierr.NewInvalidParams("audio content must have type \"audio\"")
	}
	if ac.Data == "" {
		return apierr.NewInvalidParams("audio content requires data")
	}
	if !audioMimeTypes[ac.MimeType] {
		return apierr.NewInvalidParams("unsupported audio mimeType %q", ac.MimeType)
	}
	decoded, err := base64.StdEncoding.DecodeString(ac.Data)
	if err != nil {
		return apierr.NewInvalidParams("audio data is not valid base64: %v", err)
	}
	if len(decoded) > maxAudioDecodedBytes {
		return apierr.NewInvalidParams("audio data exceeds %d bytes decoded", maxAudioDecodedBytes)
	}
	return nil
}

// toolTextContent is one element of a tools/call result's content array.
type toolTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// toolCallResult is the wrapper every tools/call result is marshaled into,
// per spec.md §4.4: "every tools/call result becomes
// {content:[{type:"text", text:JSON(result)}]}", with an optional
// structuredContent/resourceLinks extension on versions that support it.
type toolCallResult struct {
	Content          []toolTextContent `json:"content"`
	StructuredContent interface{}      `json:"structuredContent,omitempty"`
	ResourceLinks    interface{}       `json:"resourceLinks,omitempty"`
}

// handlerMeta is the subset of a tool handler's result the dispatcher reads
// to decide on structured-output wrapping: a "_meta" object with a
// "structured" boolean and optional "resourceLinks".
type handlerMeta struct {
	Meta *struct {
		Structured    bool        `json:"structured"`
		ResourceLinks interface{} `json:"resourceLinks,omitempty"`
	} `json:"_meta,omitempty"`
}

// wrapToolResult marshals result into the spec.md §4.4 content envelope.
// structuredOutputsEnabled gates whether a handler's _meta.structured flag
// is honored (2025-06-18 only).
func wrapToolResult(result interface{}, structuredOutputsEnabled bool) (json.RawMessage, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	wrapped := toolCallResult{
		Content: []toolTextContent{{Type: "text", Text: string(resultJSON)}},
	}
	if structuredOutputsEnabled {
		var meta handlerMeta
		if err := json.Unmarshal(resultJSON, &meta); err == nil && meta.Meta != nil && meta.Meta.Structured {
			wrapped.StructuredContent = result
			wrapped.ResourceLinks = meta.Meta.ResourceLinks
		}
	}
	return json.Marshal(wrapped)
}
