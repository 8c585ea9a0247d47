package introspect

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Match scores.
const (
	ScoreExactFull   = 1000
	ScoreExactShort  = 100
	ScoreSuffix      = 90
	ScoreFullSubstr  = 50
	ScoreShortSubstr = 25
	ScoreNamespace   = 10
)

// SuggestDistance is the largest edit distance offered as a suggestion.
const SuggestDistance = 3

// Candidate is anything with a short name, a qualified name and a namespace.
type Candidate struct {
	Name      string `json:"name"`
	FullName  string `json:"full_name"`
	Namespace string `json:"namespace"`
}

// Scored pairs a candidate with its match score.
type Scored struct {
	Candidate
	Score int `json:"score"`
}

// Score rates how well query names c. Comparisons ignore case; zero means no match.
func Score(query string, c Candidate) int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	full := strings.ToLower(c.FullName)
	short := strings.ToLower(c.Name)
	switch {
	case full == q:
		return ScoreExactFull
	case short == q:
		return ScoreExactShort
	case strings.HasSuffix(full, "."+q):
		return ScoreSuffix
	case strings.Contains(full, q):
		return ScoreFullSubstr
	case strings.Contains(short, q):
		return ScoreShortSubstr
	case c.Namespace != "" && strings.Contains(strings.ToLower(c.Namespace), q):
		return ScoreNamespace
	}
	return 0
}

// Rank scores every candidate and returns the matches best first. Equal
// scores keep their input order.
func Rank(query string, candidates []Candidate) []Scored {
	var out []Scored
	for _, c := range candidates {
		s := Score(query, c)
		if s == 0 {
			continue
		}
		if s == ScoreExactFull {
			return []Scored{{Candidate: c, Score: s}}
		}
		out = append(out, Scored{Candidate: c, Score: s})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Best returns the highest scoring candidate, first seen on ties.
func Best(query string, candidates []Candidate) (Scored, bool) {
	ranked := Rank(query, candidates)
	if len(ranked) == 0 {
		return Scored{}, false
	}
	return ranked[0], true
}

// Suggest returns names within SuggestDistance edits of query, closest first.
func Suggest(query string, names []string) []string {
	q := strings.ToLower(query)
	type hit struct {
		name string
		dist int
	}
	var hits []hit
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		d := levenshtein.ComputeDistance(q, strings.ToLower(n))
		if d <= SuggestDistance {
			hits = append(hits, hit{name: n, dist: d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].name < hits[j].name
	})
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}
