package chunking

import (
	"fmt"
	"strings"
)

// ChunkParams configures the chunking algorithm. Size and Overlap are
// measured in runes.
type ChunkParams struct {
	Size    int
	Overlap int
	MinSize int
}

// DefaultChunkParams returns the defaults used for code and memory indexing.
func DefaultChunkParams() ChunkParams {
	return ChunkParams{
		Size:    1500,
		Overlap: 200,
		MinSize: 50,
	}
}

// Chunk is a single piece of split content with its byte offset and 1-based
// line range in the original text.
type Chunk struct {
	content   string
	offset    int
	startLine int
	endLine   int
}

// Content returns the chunk text.
func (c Chunk) Content() string { return c.content }

// Offset returns the byte offset of this chunk in the original content.
func (c Chunk) Offset() int { return c.offset }

// StartLine returns the 1-based line where the chunk begins.
func (c Chunk) StartLine() int { return c.startLine }

// EndLine returns the 1-based line where the chunk ends.
func (c Chunk) EndLine() int { return c.endLine }

// Chunker splits file content recursively along language-aware separator
// boundaries, merging adjacent pieces into chunks of at most Size runes with
// Overlap runes carried between consecutive chunks.
type Chunker struct {
	params ChunkParams
}

// NewChunker validates the parameters and returns a chunker.
func NewChunker(params ChunkParams) (*Chunker, error) {
	if params.Size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", params.Size)
	}
	if params.Overlap >= params.Size {
		return nil, fmt.Errorf("overlap (%d) must be less than size (%d)", params.Overlap, params.Size)
	}
	return &Chunker{params: params}, nil
}

// piece is an atomic fragment no larger than Size runes, with its byte
// offset in the original content.
type piece struct {
	text   string
	offset int
}

// Split chunks content for the language detected from path.
func (c *Chunker) Split(path, content string) []Chunk {
	return c.SplitLanguage(DetectLanguage(path, content), content)
}

// SplitLanguage chunks content using the separator hierarchy of an explicit
// language.
func (c *Chunker) SplitLanguage(lang Language, content string) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	pieces := c.splitRecursive(content, 0, separators(lang))
	chunks := c.merge(content, pieces)
	assignLineNumbers(content, chunks)
	return chunks
}

// splitRecursive breaks text into pieces of at most Size runes. It splits on
// the first separator in seps that actually occurs, then recurses with the
// remaining separators into any fragment still over budget. The empty-string
// separator terminates recursion by splitting on rune boundaries.
func (c *Chunker) splitRecursive(text string, offset int, seps []string) []piece {
	if len([]rune(text)) <= c.params.Size {
		return []piece{{text: text, offset: offset}}
	}

	sep, rest := pickSeparator(text, seps)
	if sep == "" {
		return splitRunes(text, offset, c.params.Size)
	}

	var pieces []piece
	for _, frag := range splitKeeping(text, sep) {
		if len([]rune(frag.text)) > c.params.Size {
			pieces = append(pieces, c.splitRecursive(frag.text, offset+frag.offset, rest)...)
		} else {
			pieces = append(pieces, piece{text: frag.text, offset: offset + frag.offset})
		}
	}
	return pieces
}

// pickSeparator returns the first separator present in text and the
// hierarchy below it.
func pickSeparator(text string, seps []string) (string, []string) {
	for i, sep := range seps {
		if sep == "" {
			return "", nil
		}
		if strings.Contains(text, sep) {
			return sep, seps[i+1:]
		}
	}
	return "", nil
}

// splitKeeping splits text on sep, keeping the separator attached to the
// start of the following fragment so that concatenating fragments
// reconstructs the original text exactly.
func splitKeeping(text, sep string) []piece {
	var frags []piece
	offset := 0
	remaining := text
	for len(remaining) > 0 {
		// Search from byte 1 so a separator at the very start stays with
		// its own fragment instead of producing an empty one.
		idx := -1
		if len(remaining) > 1 {
			idx = strings.Index(remaining[1:], sep)
		}
		if idx < 0 {
			frags = append(frags, piece{text: remaining, offset: offset})
			break
		}
		cut := idx + 1
		frags = append(frags, piece{text: remaining[:cut], offset: offset})
		offset += cut
		remaining = remaining[cut:]
	}
	return frags
}

// splitRunes is the last-resort split on rune boundaries.
func splitRunes(text string, offset int, size int) []piece {
	runes := []rune(text)
	var pieces []piece
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		byteOff := len(string(runes[:i]))
		pieces = append(pieces, piece{text: string(runes[i:end]), offset: offset + byteOff})
	}
	return pieces
}

// merge greedily packs consecutive pieces into chunks of at most Size runes,
// carrying trailing pieces within the Overlap budget into the next chunk.
func (c *Chunker) merge(content string, pieces []piece) []Chunk {
	var chunks []Chunk
	var acc []piece
	accRunes := 0

	flush := func() {
		if len(acc) == 0 {
			return
		}
		var b strings.Builder
		for _, p := range acc {
			b.WriteString(p.text)
		}
		text := b.String()
		if len([]rune(text)) >= c.params.MinSize {
			chunks = append(chunks, Chunk{content: text, offset: acc[0].offset})
		}
		acc, accRunes = overlapPieces(acc, c.params.Overlap)
	}

	for _, p := range pieces {
		r := len([]rune(p.text))
		if accRunes+r > c.params.Size && accRunes > 0 {
			flush()
		}
		acc = append(acc, p)
		accRunes += r
	}
	// Final flush must not re-carry overlap.
	if len(acc) > 0 {
		var b strings.Builder
		for _, p := range acc {
			b.WriteString(p.text)
		}
		text := b.String()
		if len([]rune(text)) >= c.params.MinSize {
			chunks = append(chunks, Chunk{content: text, offset: acc[0].offset})
		}
	}

	// A file smaller than MinSize still yields one chunk.
	if len(chunks) == 0 && strings.TrimSpace(content) != "" {
		chunks = append(chunks, Chunk{content: content, offset: 0})
	}
	return chunks
}

// overlapPieces walks backward over the just-emitted pieces and returns the
// trailing run that fits within the overlap budget.
func overlapPieces(pieces []piece, overlap int) ([]piece, int) {
	if overlap == 0 {
		return nil, 0
	}
	total := 0
	start := len(pieces)
	for i := len(pieces) - 1; i >= 0; i-- {
		r := len([]rune(pieces[i].text))
		if total+r > overlap {
			break
		}
		total += r
		start = i
	}
	if start == len(pieces) {
		return nil, 0
	}
	carried := make([]piece, len(pieces)-start)
	copy(carried, pieces[start:])
	return carried, total
}

// assignLineNumbers computes 1-based start and end line numbers for each
// chunk from its byte offset, using a newline position index so overlapping
// chunks resolve correctly.
func assignLineNumbers(content string, chunks []Chunk) {
	var positions []int
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			positions = append(positions, i)
		}
	}

	for i := range chunks {
		start := lineAfter(positions, chunks[i].offset)
		end := start
		if n := len(chunks[i].content); n > 0 {
			if e := lineAt(positions, chunks[i].offset+n-1); e > start {
				end = e
			}
		}
		chunks[i].startLine = start
		chunks[i].endLine = end
	}
}

// lineAt returns the 1-based line number containing the byte offset, via
// binary search over newline positions. Newlines strictly before the offset
// each end a line, so a trailing newline stays on the line it terminates.
func lineAt(positions []int, offset int) int {
	lo, hi := 0, len(positions)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if positions[mid] < offset {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo + 1
}

// lineAfter is lineAt with an offset landing exactly on a newline byte
// assigned to the following line. Split fragments carry their separator at
// the front, so a chunk starting on a line break begins the next line.
func lineAfter(positions []int, offset int) int {
	lo, hi := 0, len(positions)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if positions[mid] <= offset {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo + 1
}
