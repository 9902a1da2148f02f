package index

import (
	"math"
	"sort"
	"sync"
)

// Default BM25 parameters.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Hit is a single ranked search result.
type Hit struct {
	ID    string
	Score float64
}

// Index is an in-memory BM25 inverted-statistics index over short text
// documents. Documents are added and removed incrementally; the index
// never touches disk and is rebuilt from the backing store on process
// start. Safe for concurrent use.
type Index struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	// Per-document term frequencies and token lengths.
	termFreqs  map[string]map[string]int
	docLengths map[string]int

	// Number of documents containing each term.
	docFreqs map[string]int

	// Running total of token lengths, for the average.
	totalLen int
}

// New creates an empty index. Non-positive parameters fall back to the
// defaults.
func New(k1, b float64) *Index {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b <= 0 {
		b = DefaultB
	}
	return &Index{
		k1:         k1,
		b:          b,
		termFreqs:  make(map[string]map[string]int),
		docLengths: make(map[string]int),
		docFreqs:   make(map[string]int),
	}
}

// Add indexes a document's content under id. Adding an id that is
// already present replaces the previous entry.
func (ix *Index) Add(id, content string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.termFreqs[id]; exists {
		ix.removeLocked(id)
	}

	tokens := Tokenize(content)
	freqs := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freqs[tok]++
	}

	ix.termFreqs[id] = freqs
	ix.docLengths[id] = len(tokens)
	ix.totalLen += len(tokens)
	for term := range freqs {
		ix.docFreqs[term]++
	}
}

// Remove drops a document from the index. Unknown ids are a no-op.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *Index) removeLocked(id string) {
	freqs, exists := ix.termFreqs[id]
	if !exists {
		return
	}
	for term := range freqs {
		if ix.docFreqs[term] <= 1 {
			delete(ix.docFreqs, term)
		} else {
			ix.docFreqs[term]--
		}
	}
	ix.totalLen -= ix.docLengths[id]
	delete(ix.termFreqs, id)
	delete(ix.docLengths, id)
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.termFreqs)
}

// Search scores every document containing at least one query term and
// returns up to k hits ordered by descending score, ties broken by
// ascending id. Documents scoring zero are excluded. An empty corpus,
// a query with no indexable tokens, or k <= 0 yields no hits.
func (ix *Index) Search(query string, k int) []Hit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.termFreqs)
	if n == 0 || k <= 0 {
		return nil
	}

	// Deduplicate query terms; a repeated term must not double-count.
	seen := make(map[string]struct{})
	terms := make([]string, 0, 8)
	for _, tok := range Tokenize(query) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, tok)
	}
	if len(terms) == 0 {
		return nil
	}

	avgLen := float64(ix.totalLen) / float64(n)

	hits := make([]Hit, 0, 16)
	for id, freqs := range ix.termFreqs {
		score := 0.0
		for _, term := range terms {
			tf := float64(freqs[term])
			if tf == 0 {
				continue
			}
			df := float64(ix.docFreqs[term])
			idf := math.Log((float64(n)-df+0.5)/(df+0.5) + 1.0)
			docLen := float64(ix.docLengths[id])
			score += idf * (tf * (ix.k1 + 1)) / (tf + ix.k1*(1-ix.b+ix.b*docLen/avgLen))
		}
		if score > 0 {
			hits = append(hits, Hit{ID: id, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
