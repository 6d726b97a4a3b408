package ingest

import "unicode/utf8"

// Separators lists the boundaries tried by the splitter, largest first:
// paragraph, line, sentence, word and finally single characters.
var Separators = []string{"\n\n", "\n", ". ", " ", ""}

// span is a half-open rune range [start, end) of the normalised text.
type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

// splitSpans cuts text[start:end] into consecutive spans of at most limit
// runes. Separators stay attached to the piece they terminate so the spans
// always tile the input.
func splitSpans(text []rune, start, end int, seps []string, limit int) []span {
	if end-start <= limit {
		return []span{{start, end}}
	}
	if len(seps) == 0 || seps[0] == "" {
		return hardSplit(start, end, limit)
	}

	pieces := splitKeep(text, start, end, []rune(seps[0]))
	if len(pieces) == 1 {
		return splitSpans(text, start, end, seps[1:], limit)
	}

	var out []span
	cur := span{start, start}
	for _, p := range pieces {
		if p.len() > limit {
			if cur.len() > 0 {
				out = append(out, cur)
			}
			out = append(out, splitSpans(text, p.start, p.end, seps[1:], limit)...)
			cur = span{p.end, p.end}
			continue
		}
		if cur.len()+p.len() > limit {
			out = append(out, cur)
			cur = span{p.start, p.start}
		}
		cur.end = p.end
	}
	if cur.len() > 0 {
		out = append(out, cur)
	}
	return out
}

func hardSplit(start, end, limit int) []span {
	out := make([]span, 0, (end-start)/limit+1)
	for i := start; i < end; i += limit {
		out = append(out, span{i, min(i+limit, end)})
	}
	return out
}

// splitKeep splits text[start:end] after every occurrence of sep.
func splitKeep(text []rune, start, end int, sep []rune) []span {
	var out []span
	pieceStart := start
	for i := start; i+len(sep) <= end; {
		if hasPrefix(text[i:end], sep) {
			i += len(sep)
			out = append(out, span{pieceStart, i})
			pieceStart = i
			continue
		}
		i++
	}
	if pieceStart < end {
		out = append(out, span{pieceStart, end})
	}
	return out
}

func hasPrefix(s, prefix []rune) bool {
	if len(prefix) > len(s) {
		return false
	}
	for i := range prefix {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}

// SplitText splits text into chunks of at most size runes. Every chunk after
// the first starts with the trailing overlap runes of its predecessor; the
// returned overlaps hold the length of that prefix for each chunk.
func SplitText(text string, size, overlap int) (chunks []string, overlaps []int) {
	runes := []rune(text)
	for _, sp := range chunkSpans(runes, size, overlap) {
		chunks = append(chunks, string(runes[sp.start:sp.end]))
		overlaps = append(overlaps, sp.overlap)
	}
	return chunks, overlaps
}

type chunkSpan struct {
	span
	overlap int
}

func chunkSpans(text []rune, size, overlap int) []chunkSpan {
	if len(text) == 0 {
		return nil
	}
	bodies := splitSpans(text, 0, len(text), Separators, size-overlap)
	out := make([]chunkSpan, 0, len(bodies))
	for i, body := range bodies {
		start := body.start
		if i > 0 {
			start = max(body.start-overlap, out[i-1].start)
		}
		out = append(out, chunkSpan{span: span{start, body.end}, overlap: body.start - start})
	}
	return out
}

// RuneLen returns the length of s in characters.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
