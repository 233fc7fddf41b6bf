package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// structuralSegments splits text at hard document boundaries: ATX heading
// lines, horizontal rules, and code-fence delimiters. Each boundary line
// becomes its own segment so semantic analysis never crosses it.
func structuralSegments(text string) []string {
	var segments []string
	var buf []string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		s := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if s != "" {
			segments = append(segments, s)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if isStructuralBoundary(line) {
			flush()
			if s := strings.TrimSpace(line); s != "" {
				segments = append(segments, s)
			}
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return segments
}

// isStructuralBoundary reports whether a line is an ATX heading (#–######),
// a horizontal rule, or a code-fence delimiter.
func isStructuralBoundary(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" {
		return false
	}
	if strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~") {
		return true
	}
	if t[0] == '#' {
		n := 0
		for n < len(t) && t[n] == '#' {
			n++
		}
		return n <= 6 && (n == len(t) || t[n] == ' ' || t[n] == '\t')
	}

	// Horizontal rule: three or more of the same -, * or _, spaces allowed.
	var mark byte
	count := 0
	for i := 0; i < len(t); i++ {
		c := t[i]
		if c == ' ' || c == '\t' {
			continue
		}
		if c != '-' && c != '*' && c != '_' {
			return false
		}
		if mark == 0 {
			mark = c
		} else if c != mark {
			return false
		}
		count++
	}
	return count >= 3
}

// splitSentences splits text into sentences. Boundary detection skips common
// abbreviations and decimal numbers and recognizes CJK terminators. Text
// with no detectable boundaries comes back as a single sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for _, b := range sentenceBoundaries(text) {
		if s := strings.TrimSpace(text[start:b]); s != "" {
			sentences = append(sentences, s)
		}
		start = b
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// abbreviations whose trailing period does not end a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true,
	"vs": true, "etc": true, "inc": true, "ltd": true, "co": true,
	"e.g": true, "i.e": true, "cf": true, "al": true,
	"approx": true, "dept": true, "est": true, "min": true, "max": true,
	"fig": true, "eq": true, "no": true, "vol": true, "ch": true, "sec": true, "pp": true,
}

// sentenceBoundaries returns byte offsets where a new sentence starts.
// A terminator (. ! ? or CJK 。！？) ends a sentence when it is not part of
// an abbreviation or a decimal number and is followed by whitespace.
func sentenceBoundaries(text string) []int {
	var boundaries []int
	runes := []rune(text)
	n := len(runes)

	offsets := make([]int, n+1)
	pos := 0
	for i, r := range runes {
		offsets[i] = pos
		pos += utf8.RuneLen(r)
	}
	offsets[n] = pos

	for i := 0; i < n; i++ {
		switch runes[i] {
		case '。', '！', '？':
			boundaries = append(boundaries, offsets[i+1])
			continue
		case '.', '!', '?':
		default:
			continue
		}

		at := offsets[i]
		if runes[i] == '.' {
			if isDecimalPoint(text, at) || endsAbbreviation(text, at) {
				continue
			}
		}

		if i+1 >= n {
			continue // segment end is a forced boundary anyway
		}
		switch runes[i+1] {
		case '\n':
			boundaries = append(boundaries, offsets[i+1])
		case ' ':
			if i+2 < n && unicode.IsUpper(runes[i+2]) {
				boundaries = append(boundaries, offsets[i+2])
			} else if i+2 >= n {
				boundaries = append(boundaries, offsets[n])
			}
		}
	}
	return boundaries
}

// isDecimalPoint reports whether the dot at byte offset pos sits between two
// digits (3.14, $1.50).
func isDecimalPoint(text string, pos int) bool {
	if pos == 0 || pos+1 >= len(text) {
		return false
	}
	return text[pos-1] >= '0' && text[pos-1] <= '9' &&
		text[pos+1] >= '0' && text[pos+1] <= '9'
}

// endsAbbreviation reports whether the word ending at the dot at byte offset
// pos is a known abbreviation.
func endsAbbreviation(text string, pos int) bool {
	start := pos
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		start -= size
	}
	return abbreviations[strings.ToLower(text[start:pos])]
}
