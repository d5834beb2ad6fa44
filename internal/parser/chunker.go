package parser

import (
	"strings"
	"unicode"
)

// Chunk is one piece of a split artifact. StartLine/EndLine are 1-based
// and only set for line-addressable content (code files).
type Chunk struct {
	Content   string
	Index     int
	StartLine int
	EndLine   int
	Context   string // heading path for markdown sections
}

// ChunkConfig defines chunking parameters.
type ChunkConfig struct {
	// MaxSize: maximum chunk size in characters
	MaxSize int
	// MinSize: minimum chunk size (smaller chunks merge with neighbors)
	MinSize int
	// Overlap: character overlap carried between adjacent chunks
	Overlap int
}

// DefaultChunkConfig returns sensible defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxSize: 1500,
		MinSize: 200,
		Overlap: 200,
	}
}

// codeBoundaryPrefixes mark lines where a new declaration likely starts.
// Splitting there keeps functions and classes intact where possible.
var codeBoundaryPrefixes = []string{
	"func ", "def ", "class ", "fn ", "function ", "impl ",
	"public ", "private ", "protected ", "static ",
	"type ", "interface ", "module ", "package ",
}

func isCodeBoundary(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, p := range codeBoundaryPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// ChunkCode splits source code into chunks, preferring declaration
// boundaries. Output is deterministic for identical input.
func ChunkCode(content string, cfg ChunkConfig) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	lines := strings.Split(content, "\n")

	var chunks []Chunk
	var cur []string
	curSize := 0
	startLine := 1

	flush := func(endLine int) {
		text := strings.Join(cur, "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{
				Content:   text,
				Index:     len(chunks),
				StartLine: startLine,
				EndLine:   endLine,
			})
		}
	}

	for i, line := range lines {
		lineNo := i + 1
		overflows := curSize+len(line) > cfg.MaxSize
		atBoundary := isCodeBoundary(line) && curSize >= cfg.MaxSize/2
		if curSize > 0 && (overflows || atBoundary) {
			flush(lineNo - 1)
			cur = tailLines(cur, cfg.Overlap)
			curSize = 0
			for _, l := range cur {
				curSize += len(l) + 1
			}
			startLine = lineNo - len(cur)
		}
		cur = append(cur, line)
		curSize += len(line) + 1
	}
	flush(len(lines))

	return mergeSmallChunks(chunks, cfg.MinSize)
}

// tailLines returns the trailing lines of a chunk totalling at most
// maxChars, used as overlap context for the next chunk.
func tailLines(lines []string, maxChars int) []string {
	if maxChars <= 0 || len(lines) == 0 {
		return nil
	}
	size := 0
	i := len(lines)
	for i > 0 {
		next := size + len(lines[i-1]) + 1
		if next > maxChars {
			break
		}
		size = next
		i--
	}
	if i == len(lines) {
		return nil
	}
	tail := make([]string, len(lines)-i)
	copy(tail, lines[i:])
	return tail
}

// ChunkDiff splits a unified diff at file and hunk boundaries.
func ChunkDiff(content string, cfg ChunkConfig) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var segments []string
	var cur strings.Builder
	for _, line := range strings.Split(content, "\n") {
		boundary := strings.HasPrefix(line, "diff --git") || strings.HasPrefix(line, "@@")
		if boundary && cur.Len() > 0 {
			segments = append(segments, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		segments = append(segments, cur.String())
	}

	var chunks []Chunk
	var acc strings.Builder
	emit := func() {
		text := acc.String()
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{Content: text, Index: len(chunks)})
		}
		acc.Reset()
	}
	for _, seg := range segments {
		if acc.Len() > 0 && acc.Len()+len(seg) > cfg.MaxSize {
			emit()
		}
		// A single oversized hunk gets hard-cut.
		for len(seg) > cfg.MaxSize {
			if acc.Len() > 0 {
				emit()
			}
			acc.WriteString(seg[:cfg.MaxSize])
			emit()
			seg = seg[cfg.MaxSize:]
		}
		if acc.Len() > 0 {
			acc.WriteString("\n")
		}
		acc.WriteString(seg)
	}
	emit()

	return chunks
}

// ChunkProse splits natural-language text at paragraph boundaries,
// falling back to sentences for oversized paragraphs.
func ChunkProse(content string, cfg ChunkConfig) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if len(content) <= cfg.MaxSize {
		return []Chunk{{Content: strings.TrimSpace(content)}}
	}
	return applyOverlap(chunkByParagraphs(content, cfg), cfg.Overlap)
}

// ChunkMarkdown splits a parsed Markdown document into semantic chunks,
// preferring section boundaries and carrying the heading path as context.
func ChunkMarkdown(doc *MarkdownDoc, cfg ChunkConfig) []Chunk {
	if strings.TrimSpace(doc.Content) == "" {
		return nil
	}
	if len(doc.Content) <= cfg.MaxSize {
		return []Chunk{{Content: strings.TrimSpace(doc.Content)}}
	}
	if len(doc.Sections) == 0 {
		return applyOverlap(chunkByParagraphs(doc.Content, cfg), cfg.Overlap)
	}

	var chunks []Chunk
	for _, section := range doc.Sections {
		if strings.TrimSpace(section.Content) == "" {
			continue
		}
		if len(section.Content) <= cfg.MaxSize {
			if len(section.Content) >= cfg.MinSize || len(chunks) == 0 {
				chunks = append(chunks, Chunk{
					Content: section.Content,
					Index:   len(chunks),
					Context: section.Path,
				})
			} else {
				last := &chunks[len(chunks)-1]
				last.Content += "\n\n" + section.Content
			}
			continue
		}
		for _, pc := range chunkByParagraphs(section.Content, cfg) {
			chunks = append(chunks, Chunk{
				Content: pc.Content,
				Index:   len(chunks),
				Context: section.Path,
			})
		}
	}
	return applyOverlap(chunks, cfg.Overlap)
}

// chunkByParagraphs splits content by paragraph boundaries.
func chunkByParagraphs(content string, cfg ChunkConfig) []Chunk {
	paragraphs := strings.Split(content, "\n\n")

	var chunks []Chunk
	var cur strings.Builder

	flush := func() {
		text := strings.TrimSpace(cur.String())
		if text != "" {
			chunks = append(chunks, Chunk{Content: text, Index: len(chunks)})
		}
		cur.Reset()
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len()+len(para) > cfg.MaxSize && cur.Len() > 0 {
			flush()
		}
		if len(para) > cfg.MaxSize {
			flush()
			for _, sc := range chunkBySentences(para, cfg) {
				chunks = append(chunks, Chunk{Content: sc, Index: len(chunks)})
			}
			continue
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()

	return chunks
}

// chunkBySentences splits text by sentence boundaries, hard-cutting
// sentences that alone exceed the maximum.
func chunkBySentences(text string, cfg ChunkConfig) []string {
	var chunks []string
	var cur strings.Builder

	for _, sentence := range splitSentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if cur.Len()+len(sentence) > cfg.MaxSize && cur.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		for len(sentence) > cfg.MaxSize {
			chunks = append(chunks, sentence[:cfg.MaxSize])
			sentence = strings.TrimSpace(sentence[cfg.MaxSize:])
		}
		if sentence == "" {
			continue
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(sentence)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(cur.String()))
	}

	return chunks
}

// splitSentences splits text into sentences.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				// Likely abbreviation like "Dr."
				if i > 1 && unicode.IsUpper(runes[i-1]) {
					continue
				}
				sentences = append(sentences, current.String())
				current.Reset()
			}
		}
	}

	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}

	return sentences
}

// applyOverlap prepends the word-aligned tail of each chunk to its
// successor.
func applyOverlap(chunks []Chunk, overlap int) []Chunk {
	if overlap <= 0 || len(chunks) <= 1 {
		return chunks
	}

	result := make([]Chunk, len(chunks))
	copy(result, chunks)

	for i := 1; i < len(result); i++ {
		prev := chunks[i-1].Content
		if len(prev) <= overlap {
			continue
		}
		overlapText := prev[len(prev)-overlap:]
		if spaceIdx := strings.LastIndex(overlapText, " "); spaceIdx > 0 {
			overlapText = overlapText[spaceIdx+1:]
		}
		result[i].Content = overlapText + " " + result[i].Content
	}

	return result
}

// mergeSmallChunks folds undersized trailing chunks into their
// predecessor so chunk boundaries never produce fragments.
func mergeSmallChunks(chunks []Chunk, minSize int) []Chunk {
	if minSize <= 0 || len(chunks) < 2 {
		return chunks
	}
	merged := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if len(merged) > 0 && len(c.Content) < minSize {
			last := &merged[len(merged)-1]
			last.Content += "\n" + c.Content
			if c.EndLine > last.EndLine {
				last.EndLine = c.EndLine
			}
			continue
		}
		c.Index = len(merged)
		merged = append(merged, c)
	}
	return merged
}
