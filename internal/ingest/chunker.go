package ingest

import "strings"

// ChunkText splits a section body into chunks of at most maxChars characters
// with overlapChars of overlap between consecutive chunks. Cut points prefer
// paragraph breaks, then sentence ends, then a hard cut at the size limit.
//
// The cursor always advances by at least one character per chunk, so the loop
// terminates even when overlapChars >= maxChars.
func ChunkText(text string, maxChars, overlapChars int) []string {
	if len(text) <= maxChars {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + maxChars
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}

		var next int
		if cut := findCut(text, start, end); cut > start {
			// Keep the boundary character at the end of the chunk.
			chunks = append(chunks, text[start:cut+1])
			next = cut + 1 - overlapChars
		} else {
			chunks = append(chunks, text[start:end])
			next = end - overlapChars
		}
		if next <= start {
			next = start + 1
		}
		start = next
	}

	out := chunks[:0]
	for _, c := range chunks {
		if t := strings.TrimSpace(c); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// findCut searches backward within text[start:end] for the best break point:
// the last paragraph break, else the last sentence-ending period followed by
// a space or newline. Returns -1 when no usable break exists.
func findCut(text string, start, end int) int {
	window := text[start:end]
	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return start + i
	}
	i := strings.LastIndex(window, ". ")
	if j := strings.LastIndex(window, ".\n"); j > i {
		i = j
	}
	if i > 0 {
		return start + i
	}
	return -1
}
