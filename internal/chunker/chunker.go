// Package chunker implements the length-bounded text splitter spec.md §4.2
// stage 4 (Persist) calls for: "chunk the source text with a length-bounded
// splitter to stay in [chunk_min_chars, chunk_max_chars]". spec.md §9 flags
// that the original source expresses these bounds in characters at some
// call sites and tokens at others; this package picks characters as the
// single unit throughout (a TextChunk's byte length is what the Store's
// tsvector/HNSW indexes operate on, not a token count the core never
// otherwise computes) and does not convert.
//
// Grounded on the teacher's internal/rag/chunker.SimpleChunker for the
// split-on-paragraph-then-hard-wrap shape, simplified: the teacher dispatches
// on a caller-chosen strategy name (fixed/markdown/code) because its
// generic ingest API exposes one; spec.md's TextChunk has no such option, so
// this package always uses the paragraph-aware strategy.
package chunker

import "strings"

// Options bounds chunk length in characters (spec.md §3 TextChunk invariant:
// "chunk length within configured [min, max] token bounds" -- read as chars,
// see package doc). Lengths are measured with len, i.e. in bytes, which
// equals the character count only for ASCII text.
type Options struct {
	MinChars int
	MaxChars int
}

// DefaultOptions mirrors the bounds implied by spec.md's TextChunk examples:
// chunks small enough to embed cheaply but large enough to carry context.
func DefaultOptions() Options {
	return Options{MinChars: 200, MaxChars: 1200}
}

// Chunk is a single produced slice of a TextContent's text.
type Chunk struct {
	Index int
	Text  string
}

// Split breaks text into chunks within [opt.MinChars, opt.MaxChars],
// preferring paragraph boundaries, falling back to whitespace boundaries,
// and hard-wrapping only when a single "paragraph" exceeds MaxChars on its
// own. Every chunk satisfies MaxChars. MinChars is not guaranteed: a
// buffered run of paragraphs is emitted as soon as the next paragraph does
// not fit beside it, whatever its length, and the last piece of a
// hard-wrapped paragraph can be short; only an undersized final chunk is
// merged into its predecessor afterwards.
func Split(text string, opt Options) []Chunk {
	minC, maxC := opt.MinChars, opt.MaxChars
	if maxC <= 0 {
		maxC = DefaultOptions().MaxChars
	}
	if minC <= 0 || minC > maxC {
		minC = DefaultOptions().MinChars
		if minC > maxC {
			minC = maxC / 2
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	paragraphs := splitParagraphs(text)

	var out []Chunk
	idx := 0
	var buf strings.Builder

	flush := func() {
		s := strings.TrimSpace(buf.String())
		if s != "" {
			out = append(out, Chunk{Index: idx, Text: s})
			idx++
		}
		buf.Reset()
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		switch {
		case buf.Len() == 0 && len(p) > maxC:
			// A single paragraph too large to fit: hard-wrap it directly,
			// splitting at whitespace boundaries where possible.
			for _, piece := range hardWrap(p, maxC) {
				out = append(out, Chunk{Index: idx, Text: piece})
				idx++
			}
		case buf.Len()+len(p)+2 <= maxC:
			if buf.Len() > 0 {
				buf.WriteString("\n\n")
			}
			buf.WriteString(p)
			if buf.Len() >= minC {
				// Keep accumulating until the next paragraph would overflow;
				// greedily packing chunks close to MaxChars.
			}
		default:
			flush()
			if len(p) > maxC {
				for _, piece := range hardWrap(p, maxC) {
					out = append(out, Chunk{Index: idx, Text: piece})
					idx++
				}
			} else {
				buf.WriteString(p)
			}
		}
	}
	flush()

	return mergeUndersizedTail(out, minC, maxC)
}

// mergeUndersizedTail folds a too-small final chunk into its predecessor
// when doing so does not exceed MaxChars. Earlier undersized chunks are left
// as they are.
func mergeUndersizedTail(chunks []Chunk, minC, maxC int) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	if len(last.Text) >= minC {
		return chunks
	}
	prev := chunks[len(chunks)-2]
	if len(prev.Text)+2+len(last.Text) > maxC {
		return chunks
	}
	merged := prev.Text + "\n\n" + last.Text
	out := append([]Chunk(nil), chunks[:len(chunks)-2]...)
	out = append(out, Chunk{Index: prev.Index, Text: merged})
	for i := range out {
		out[i].Index = i
	}
	return out
}

func splitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(normalized, "\n\n")
}

// hardWrap splits a single oversized paragraph into pieces <= maxC,
// preferring to cut at whitespace rather than mid-word.
func hardWrap(s string, maxC int) []string {
	var out []string
	for len(s) > maxC {
		cut := maxC
		if i := strings.LastIndexByte(s[:maxC], ' '); i > maxC/2 {
			cut = i
		}
		piece := strings.TrimSpace(s[:cut])
		if piece != "" {
			out = append(out, piece)
		}
		s = strings.TrimSpace(s[cut:])
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
