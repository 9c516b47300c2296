package chunk

import (
	"strings"
	"unicode/utf8"
)

// Chunker implements adaptive structural chunking: it walks classified
// lines, keeps headers and tables intact, and splits prose at the
// max-chars boundary with sentence-aware overlap.
type Chunker struct {
	opts Options
}

// NewChunker creates a chunker with default options.
func NewChunker() *Chunker {
	return NewChunkerWithOptions(Options{})
}

// NewChunkerWithOptions creates a chunker with custom options.
func NewChunkerWithOptions(opts Options) *Chunker {
	return &Chunker{opts: opts.withDefaults()}
}

// Chunk splits normalized text into an ordered chunk sequence.
// Empty or whitespace-only input yields an empty, non-nil slice.
// Document metadata, when provided, is copied onto every chunk.
func (c *Chunker) Chunk(text string, metadata map[string]string) []*Chunk {
	if strings.TrimSpace(text) == "" {
		return []*Chunk{}
	}

	w := &walker{opts: c.opts, metadata: metadata}
	w.scan(strings.Split(text, "\n"))
	return w.finish()
}

// walker holds the accumulation state for a single document scan.
type walker struct {
	opts     Options
	metadata map[string]string

	chunks        []*Chunk
	buffer        []string
	bufLen        int
	parentSection string

	// pendingOverlap marks that the current buffer was seeded with an
	// overlap fragment from the previously flushed chunk.
	pendingOverlap bool
}

// scan walks the classified lines.
func (w *walker) scan(lines []string) {
	for i := 0; i < len(lines); {
		line := lines[i]

		switch classifyLine(line) {
		case lineBlank:
			// A blank line inside a buffer keeps paragraphs separated;
			// leading blanks are dropped.
			if len(w.buffer) > 0 {
				w.appendLine("")
			}
			i++

		case lineSectionMarker:
			// Structural break: flush, the marker itself is not content.
			w.flush()
			i++

		case lineHeader:
			w.flush()
			i = w.emitHeader(lines, i)

		case lineTableStart:
			w.flush()
			i = w.emitTable(lines, i)

		default:
			w.accumulate(line)
			i++
		}
	}

	w.flush()
}

// accumulate adds a prose line to the buffer, flushing first when the
// addition would exceed max chars. A single line longer than max chars is
// buffered whole; it is emitted untruncated on the next flush.
func (w *walker) accumulate(line string) {
	addition := len(line)
	if len(w.buffer) > 0 {
		addition++ // joining newline
	}

	if len(w.buffer) > 0 && w.bufLen+addition > w.opts.MaxChars {
		flushed := w.flush()
		if flushed != nil {
			if frag := overlapFragment(flushed.Text, w.opts.Overlap); frag != "" {
				w.buffer = []string{frag}
				w.bufLen = len(frag)
				w.pendingOverlap = true
			}
		}
	}

	w.appendLine(line)
}

// appendLine adds a raw line to the buffer.
func (w *walker) appendLine(line string) {
	if len(w.buffer) == 0 {
		w.buffer = []string{line}
		w.bufLen = len(line)
		return
	}
	w.buffer = append(w.buffer, line)
	w.bufLen += 1 + len(line)
}

// flush emits the current buffer as a chunk, if any.
func (w *walker) flush() *Chunk {
	if len(w.buffer) == 0 {
		return nil
	}

	text := strings.TrimRight(strings.Join(w.buffer, "\n"), " \n")
	w.buffer = nil
	w.bufLen = 0

	seeded := w.pendingOverlap
	w.pendingOverlap = false

	if text == "" {
		return nil
	}

	ck := w.emit(text)
	ck.HasOverlap = seeded
	return ck
}

// emitHeader emits a dedicated header chunk consisting of the header line
// plus up to two following non-empty lines, and updates the parent section
// for subsequent chunks. Returns the next unconsumed line index.
func (w *walker) emitHeader(lines []string, i int) int {
	header := strings.TrimSpace(lines[i])
	body := []string{header}

	j := i + 1
	for j < len(lines) && len(body) <= headerContextLines {
		if classifyLine(lines[j]) != lineText {
			break
		}
		body = append(body, lines[j])
		j++
	}

	ck := w.emit(strings.Join(body, "\n"))
	ck.IsHeader = true
	w.parentSection = header
	return j
}

// emitTable greedily consumes contiguous table-like and continuation lines
// until a blank line or structural break, emitting them as one atomic table
// chunk. Returns the next unconsumed line index.
func (w *walker) emitTable(lines []string, i int) int {
	body := []string{lines[i]}

	j := i + 1
	for j < len(lines) && isTableContinuation(lines[j]) {
		body = append(body, lines[j])
		j++
	}

	ck := w.emit(strings.Join(body, "\n"))
	ck.IsTable = true
	return j
}

// emit appends a chunk with the walker's current section and metadata.
func (w *walker) emit(text string) *Chunk {
	ck := &Chunk{
		Text:          text,
		ParentSection: w.parentSection,
		Metadata:      copyMetadata(w.metadata),
	}
	w.chunks = append(w.chunks, ck)
	return ck
}

// finish numbers the chunks and runs the overlap post-pass: every
// non-first, non-table chunk without a seeded overlap gets a fragment of
// the previous chunk's tail prepended.
func (w *walker) finish() []*Chunk {
	if w.chunks == nil {
		return []*Chunk{}
	}

	for i, ck := range w.chunks {
		ck.Index = i
		if i == 0 || ck.IsTable {
			ck.HasOverlap = false
			continue
		}
		if ck.HasOverlap {
			ck.OverlapFrom = i - 1
			continue
		}
		// Budget includes the joining newline so the injected chunk stays
		// within max chars plus the overlap budget.
		frag := overlapFragment(w.chunks[i-1].Text, w.opts.Overlap-1)
		if frag == "" {
			continue
		}
		ck.Text = frag + "\n" + ck.Text
		ck.HasOverlap = true
		ck.OverlapFrom = i - 1
	}

	return w.chunks
}

// overlapFragment derives an overlap fragment from the tail of text,
// bounded by budget characters: the last full sentence when it fits, else
// the last few words, else the last budget characters.
func overlapFragment(text string, budget int) string {
	text = strings.TrimSpace(text)
	if text == "" || budget <= 0 {
		return ""
	}

	if s := lastSentence(text); s != "" && len(s) <= budget {
		return s
	}

	if ws := lastWords(text, overlapMaxWords); ws != "" && len(ws) <= budget {
		return ws
	}

	return tailChars(text, budget)
}

// lastSentence returns the last complete sentence of text, or "".
func lastSentence(text string) string {
	end := -1
	for i := len(text) - 1; i >= 0; i-- {
		if isSentenceEnd(text[i]) {
			end = i
			break
		}
	}
	if end < 0 {
		return ""
	}

	start := 0
	for i := end - 1; i >= 0; i-- {
		if isSentenceEnd(text[i]) {
			start = i + 1
			break
		}
	}

	return strings.TrimSpace(text[start : end+1])
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// lastWords returns up to n trailing words of text joined by single spaces.
func lastWords(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	if len(fields) > n {
		fields = fields[len(fields)-n:]
	}
	return strings.Join(fields, " ")
}

// tailChars returns the last n bytes of text, aligned to a rune boundary.
func tailChars(text string, n int) string {
	if len(text) <= n {
		return text
	}
	cut := len(text) - n
	for cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut++
	}
	return text[cut:]
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
