package protocol

// Feature names used as keys into a Matrix row and as capability keys in
// initialize responses (spec.md §4.2, §4.5).
const (
	FeatureCore             = "core" // tools/prompts/resources/sampling/roots/ping
	FeatureProgress         = "progress"
	FeatureAnnotations      = "annotations"
	FeatureAudioContent     = "audio_content"
	FeatureCompletions      = "completions"
	FeatureProgressMessage  = "progress_message"
	FeatureJSONRPCBatching  = "json_rpc_batching"
	FeatureElicitation      = "elicitation"
	FeatureStructuredOutput = "structured_output"
	FeatureResourceLinks    = "resource_links"
	FeatureResourceServer   = "resource_server"
)

// Row is one version's feature support, per the table in spec.md §4.2.
type Row map[string]bool

// Matrix maps protocol version to its feature Row, newest first. Order
// matters: VersionNegotiator walks it to find the best match.
type Matrix struct {
	versions []string
	rows     map[string]Row
}

// DefaultMatrix encodes the exact table of spec.md §4.2.
func DefaultMatrix() *Matrix {
	return &Matrix{
		versions: []string{"2025-06-18", "2025-03-26", "2024-11-05"},
		rows: map[string]Row{
			"2024-11-05": {
				FeatureCore:     true,
				FeatureProgress: true,
			},
			"2025-03-26": {
				FeatureCore:            true,
				FeatureProgress:        true,
				FeatureAnnotations:     true,
				FeatureAudioContent:    true,
				FeatureCompletions:     true,
				FeatureProgressMessage: true,
				FeatureJSONRPCBatching: true,
			},
			"2025-06-18": {
				FeatureCore:             true,
				FeatureProgress:         true,
				FeatureAnnotations:      true,
				FeatureAudioContent:     true,
				FeatureCompletions:      true,
				FeatureProgressMessage:  true,
				FeatureJSONRPCBatching:  false,
				FeatureElicitation:      true,
				FeatureStructuredOutput: true,
				FeatureResourceLinks:    true,
				FeatureResourceServer:   true,
			},
		},
	}
}

// Versions returns the supported list, newest first.
func (m *Matrix) Versions() []string {
	out := make([]string, len(m.versions))
	copy(out, m.versions)
	return out
}

// Supports reports whether feature is enabled for version. An unknown
// version supports nothing.
func (m *Matrix) Supports(version, feature string) bool {
	row, ok := m.rows[version]
	if !ok {
		return false
	}
	return row[feature]
}

// Row returns the feature row for version, or nil if version is unknown.
func (m *Matrix) Row(version string) Row {
	return m.rows[version]
}
