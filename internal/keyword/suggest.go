package keyword

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Suggester proposes corrected queries from the terms of a dictionary. Terms are loaded
// lazily and cached until Refresh, Invalidate or the max age passes.
type Suggester struct {
	dict        TermDictionary
	maxDistance int
	minFreq     int
	maxAge      time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	terms    []string
	termSet  map[string]struct{}
	loaded   bool
	loadedAt time.Time
}

// SuggesterOption configures a Suggester.
type SuggesterOption func(*Suggester)

// WithMaxDistance sets the largest edit distance considered a typo.
func WithMaxDistance(d int) SuggesterOption {
	return func(s *Suggester) {
		if d > 0 {
			s.maxDistance = d
		}
	}
}

// WithMinFrequency ignores candidate terms found in fewer than f sources.
func WithMinFrequency(f int) SuggesterOption {
	return func(s *Suggester) {
		if f >= 0 {
			s.minFreq = f
		}
	}
}

// WithMaxAge reloads the term cache on the next Suggest once it is older than d.
func WithMaxAge(d time.Duration) SuggesterOption {
	return func(s *Suggester) { s.maxAge = d }
}

// NewSuggester returns a suggester over dict.
func NewSuggester(dict TermDictionary, opts ...SuggesterOption) *Suggester {
	s := &Suggester{dict: dict, maxDistance: 2, minFreq: 1, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh reloads the term cache. Call it after the index changes.
func (s *Suggester) Refresh() error {
	terms, err := s.dict.Terms()
	if err != nil {
		return err
	}
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[strings.ToLower(t)] = struct{}{}
	}
	s.mu.Lock()
	s.terms, s.termSet, s.loaded, s.loadedAt = terms, set, true, s.now()
	s.mu.Unlock()
	return nil
}

// Invalidate drops the term cache so the next Suggest reloads it.
func (s *Suggester) Invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
}

func (s *Suggester) stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return true
	}
	return s.maxAge > 0 && s.now().Sub(s.loadedAt) > s.maxAge
}

// Suggest returns query with every unknown term replaced by its best known neighbour. ok is
// false when nothing was corrected.
func (s *Suggester) Suggest(query string) (corrected string, ok bool) {
	if s.stale() {
		if err := s.Refresh(); err != nil {
			return query, false
		}
	}

	terms := tokenizeQuery(query)
	out := make([]string, len(terms))
	for i, term := range terms {
		out[i] = term
		s.mu.RLock()
		_, known := s.termSet[term]
		s.mu.RUnlock()
		if known {
			continue
		}
		if best := s.closest(term); best != "" {
			out[i] = best
			ok = true
		}
	}
	if !ok {
		return query, false
	}
	return strings.Join(out, " "), true
}

// closest returns the known term nearest to term, preferring smaller distance and then
// higher document frequency.
func (s *Suggester) closest(term string) string {
	type candidate struct {
		term     string
		distance int
		freq     int
	}
	s.mu.RLock()
	terms := s.terms
	s.mu.RUnlock()

	var cands []candidate
	n := len([]rune(term))
	for _, t := range terms {
		lt := strings.ToLower(t)
		if d := len([]rune(lt)) - n; d > s.maxDistance || -d > s.maxDistance {
			continue
		}
		dist := EditDistance(term, lt)
		if dist == 0 || dist > s.maxDistance {
			continue
		}
		freq, err := s.dict.TermFrequency(t)
		if err != nil || freq < s.minFreq {
			continue
		}
		cands = append(cands, candidate{term: lt, distance: dist, freq: freq})
	}
	if len(cands) == 0 {
		return ""
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].distance != cands[j].distance {
			return cands[i].distance < cands[j].distance
		}
		if cands[i].freq != cands[j].freq {
			return cands[i].freq > cands[j].freq
		}
		return cands[i].term < cands[j].term
	})
	return cands[0].term
}

// EditDistance is the optimal string alignment distance between a and b: insertions,
// deletions, substitutions and adjacent transpositions each cost one. Runes, not bytes, are
// compared.
func EditDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	d := make([][]int, len(ra)+1)
	for i := range d {
		d[i] = make([]int, len(rb)+1)
		d[i][0] = i
	}
	for j := range d[0] {
		d[0][j] = j
	}
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d[i][j] = min(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				d[i][j] = min(d[i][j], d[i-2][j-2]+1)
			}
		}
	}
	return d[len(ra)][len(rb)]
}
