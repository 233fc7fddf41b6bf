package strata

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// BM25 tuning parameters.
const (
	bm25K1       = 1.2
	bm25B        = 0.75
	headingBoost = 2.0 // multiplier for terms found in a chunk's section heading
)

// lexicalIndex is an Okapi BM25 inverted index over one collection's chunks.
// It is built once per collection snapshot and never mutated; writes to the
// collection invalidate the whole index via the registry.
type lexicalIndex struct {
	postings  map[string][]posting    // term -> chunk postings
	headTerms map[string]map[int]bool // term -> chunk set (terms in headings)
	docLens   []int                   // token count per chunk
	avgDL     float64
	n         int
}

// posting records a term's frequency in a single chunk.
type posting struct {
	doc  int // index into the collection snapshot
	freq int
}

// scoredRef is a ranked reference into a collection snapshot.
type scoredRef struct {
	idx   int
	score float64
}

// newLexicalIndex builds an inverted index over the chunk snapshot.
func newLexicalIndex(chunks []Chunk) *lexicalIndex {
	ix := &lexicalIndex{
		postings:  make(map[string][]posting),
		headTerms: make(map[string]map[int]bool),
		docLens:   make([]int, len(chunks)),
		n:         len(chunks),
	}

	totalLen := 0
	for i, c := range chunks {
		tokens := tokenize(c.Content)
		ix.docLens[i] = len(tokens)
		totalLen += len(tokens)

		tf := make(map[string]int)
		for _, t := range tokens {
			tf[t]++
		}
		for term, freq := range tf {
			ix.postings[term] = append(ix.postings[term], posting{doc: i, freq: freq})
		}

		for _, t := range tokenize(c.Meta.Heading) {
			if ix.headTerms[t] == nil {
				ix.headTerms[t] = make(map[int]bool)
			}
			ix.headTerms[t][i] = true
		}
	}

	if len(chunks) > 0 {
		ix.avgDL = float64(totalLen) / float64(len(chunks))
	}
	return ix
}

// search returns up to k chunk references ranked by BM25 score.
func (ix *lexicalIndex) search(query string, k int) []scoredRef {
	terms := tokenize(query)
	if len(terms) == 0 || ix.n == 0 {
		return nil
	}

	// Deduplicate query terms.
	seen := make(map[string]bool)
	var unique []string
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			unique = append(unique, t)
		}
	}

	n := float64(ix.n)
	scores := make(map[int]float64)

	for _, term := range unique {
		posts, ok := ix.postings[term]
		if !ok {
			continue
		}

		df := float64(len(posts))
		idf := math.Log((n-df+0.5)/(df+0.5) + 1.0)

		for _, p := range posts {
			dl := float64(ix.docLens[p.doc])
			tf := float64(p.freq)
			tfNorm := (tf * (bm25K1 + 1)) / (tf + bm25K1*(1-bm25B+bm25B*(dl/ix.avgDL)))

			score := idf * tfNorm
			if ix.headTerms[term][p.doc] {
				score *= headingBoost
			}

			scores[p.doc] += score
		}
	}

	if len(scores) == 0 {
		return nil
	}

	refs := make([]scoredRef, 0, len(scores))
	for doc, score := range scores {
		refs = append(refs, scoredRef{idx: doc, score: score})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].score != refs[j].score {
			return refs[i].score > refs[j].score
		}
		return refs[i].idx < refs[j].idx
	})

	if len(refs) > k {
		refs = refs[:k]
	}
	return refs
}

// tokenize splits text into lowercase search tokens. Hyphenated words are
// indexed both as a whole ("multi-agent") and as parts ("multi", "agent").
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	var buf strings.Builder

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		word := strings.Trim(buf.String(), "-")
		buf.Reset()
		if len(word) < 2 {
			return
		}
		tokens = append(tokens, word)
		if strings.Contains(word, "-") {
			for _, part := range strings.Split(word, "-") {
				if len(part) >= 2 {
					tokens = append(tokens, part)
				}
			}
		}
	}

	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			buf.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}
