// Package chunk splits normalized document text into structured,
// retrievable chunks. The chunker is pure: no I/O, deterministic output
// for identical input and options.
package chunk

// Chunking defaults.
const (
	// DefaultMaxChars is the maximum chunk size in characters.
	DefaultMaxChars = 1200

	// DefaultOverlap is the overlap budget in characters between
	// consecutive chunks.
	DefaultOverlap = 100

	// headerContextLines is how many following non-empty lines a header
	// chunk absorbs as context.
	headerContextLines = 2

	// overlapMaxWords caps the word-based overlap fragment fallback.
	overlapMaxWords = 10
)

// Chunk is the atomic indexing unit of a document.
type Chunk struct {
	// Text is the chunk content, including any injected overlap prefix.
	Text string `json:"text"`

	// Index is the 0-based position of the chunk within its document.
	// The sequence is contiguous per document.
	Index int `json:"chunk_idx"`

	// Metadata carries document-level metadata copied onto each chunk.
	Metadata map[string]string `json:"metadata,omitempty"`

	// IsHeader marks a dedicated header chunk.
	IsHeader bool `json:"is_header,omitempty"`

	// IsTable marks an atomic table chunk. Table chunks are exempt from
	// max-chars splitting and from overlap injection.
	IsTable bool `json:"is_table,omitempty"`

	// ParentSection is the most recent header text governing this chunk.
	ParentSection string `json:"parent_section,omitempty"`

	// HasOverlap reports whether Text begins with an overlap fragment
	// taken from the previous chunk.
	HasOverlap bool `json:"has_overlap,omitempty"`

	// OverlapFrom is the Index of the chunk the overlap fragment was
	// derived from. Only meaningful when HasOverlap is true.
	OverlapFrom int `json:"overlap_from,omitempty"`
}

// Options configures the chunker.
type Options struct {
	// MaxChars is the maximum chunk size in characters (default 1200).
	// A single line longer than MaxChars is still emitted whole:
	// structural integrity wins over strict size compliance.
	MaxChars int

	// Overlap is the overlap budget in characters (default 100).
	Overlap int
}

// withDefaults fills zero fields with package defaults.
func (o Options) withDefaults() Options {
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	} else if o.Overlap == 0 {
		o.Overlap = DefaultOverlap
	}
	return o
}
