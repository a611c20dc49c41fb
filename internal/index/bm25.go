// Package index implements the BM25 lexical index over memory and
// conversation snippets. The index is rebuilt wholesale (startup, schedule,
// or explicit request) and queried read-only in between.
package index

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

const (
	k1 = 1.5
	b  = 0.75
	// minTokenLen drops noise words; Russian function words are mostly
	// shorter than 3 runes.
	minTokenLen = 3
)

// Doc is an indexed snippet with its provenance.
type Doc struct {
	Collection string // "memories" or "conversations"
	ID         string
	Content    string
}

// Hit is a search result with its raw BM25 score.
type Hit struct {
	Doc   Doc
	Score float64
}

// Index is a rebuildable BM25 index. Build swaps the whole structure under
// an exclusive lock; Search takes a read lock.
type Index struct {
	mu     sync.RWMutex
	docs   []Doc
	tf     []map[string]int
	docLen []int
	df     map[string]int
	avgLen float64
}

// New returns an empty index.
func New() *Index {
	return &Index{df: make(map[string]int)}
}

// Tokenize lowercases, strips punctuation, splits on whitespace, and drops
// tokens shorter than 3 runes.
func Tokenize(s string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)

	var tokens []string
	for _, tok := range strings.Fields(cleaned) {
		if len([]rune(tok)) >= minTokenLen {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// Build replaces the index contents with the given documents.
func (ix *Index) Build(docs []Doc) {
	tf := make([]map[string]int, len(docs))
	docLen := make([]int, len(docs))
	df := make(map[string]int)
	totalLen := 0

	for i, doc := range docs {
		tokens := Tokenize(doc.Content)
		freq := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freq[tok]++
		}
		for tok := range freq {
			df[tok]++
		}
		tf[i] = freq
		docLen[i] = len(tokens)
		totalLen += len(tokens)
	}

	avgLen := 0.0
	if len(docs) > 0 {
		avgLen = float64(totalLen) / float64(len(docs))
	}

	ix.mu.Lock()
	ix.docs = append([]Doc(nil), docs...)
	ix.tf = tf
	ix.docLen = docLen
	ix.df = df
	ix.avgLen = avgLen
	ix.mu.Unlock()
}

// Search returns the top-k documents by BM25 score, descending. Documents
// with zero score are omitted.
func (ix *Index) Search(query string, k int) []Hit {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.docs)
	if n == 0 {
		return nil
	}

	var hits []Hit
	for i := range ix.docs {
		score := 0.0
		for _, term := range terms {
			f := ix.tf[i][term]
			if f == 0 {
				continue
			}
			df := ix.df[term]
			idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
			norm := float64(f) * (k1 + 1) / (float64(f) + k1*(1-b+b*float64(ix.docLen[i])/ix.avgLen))
			score += idf * norm
		}
		if score > 0 {
			hits = append(hits, Hit{Doc: ix.docs[i], Score: score})
		}
	}

	sort.SliceStable(hits, func(a, c int) bool { return hits[a].Score > hits[c].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Size returns the number of indexed documents.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}
