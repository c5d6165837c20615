// Package scoring compares an observed list of player names against a battle
// roster and produces a score in [0,1] with the pairs that earned it.
package scoring

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"

	"github.com/okian/replaylink/internal/domain/model"
	"github.com/okian/replaylink/internal/domain/normalize"
)

// TopKStrategy picks k for the top-k mean.
type TopKStrategy string

const (
	// TopKMinSize uses k = min(|observed|, |roster|).
	TopKMinSize TopKStrategy = "min-size"
	// TopKFixed uses a configured k.
	TopKFixed TopKStrategy = "fixed"
)

const defaultNoiseFloor = 0.5

// Name is a raw name with its comparable forms precomputed.
type Name struct {
	Raw       string
	canonical string
	tokens    []string
}

// Roster is a prepared battle roster, sorted by raw name.
type Roster struct {
	names []Name
}

// Len returns the number of distinct roster names.
func (r Roster) Len() int { return len(r.names) }

// Observed is a prepared observed-name list with duplicates removed.
type Observed struct {
	names []Name
}

// Len returns the number of distinct usable observed names.
func (o Observed) Len() int { return len(o.names) }

// Result is the scorer's verdict for one roster.
type Result struct {
	Score float64
	Pairs []model.MatchedPair
}

// Scorer is immutable after construction and safe for concurrent use.
type Scorer struct {
	normalizer *normalize.Normalizer
	noiseFloor float64
	strategy   TopKStrategy
	fixedK     int
}

// New creates a Scorer. Defaults: noise floor 0.5, min-size top-k, OCR folding on.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		normalizer: normalize.New(),
		noiseFloor: defaultNoiseFloor,
		strategy:   TopKMinSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scorer) prepare(raw string) (Name, bool) {
	folded := s.normalizer.Normalize(raw)
	if folded == "" {
		return Name{}, false
	}
	return Name{
		Raw:       raw,
		canonical: s.normalizer.Canonical(raw),
		tokens:    uniqueSorted(normalize.Tokenize(folded)),
	}, true
}

// PrepareRoster normalizes a roster once so it can be scored many times.
func (s *Scorer) PrepareRoster(names []string) Roster {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	seen := make(map[string]struct{}, len(sorted))
	out := make([]Name, 0, len(sorted))
	for _, raw := range sorted {
		n, ok := s.prepare(raw)
		if !ok {
			continue
		}
		if _, dup := seen[n.canonical]; dup {
			continue
		}
		seen[n.canonical] = struct{}{}
		out = append(out, n)
	}
	return Roster{names: out}
}

// PrepareObserved normalizes observed names, dropping blanks and repeats.
func (s *Scorer) PrepareObserved(names []string) Observed {
	seen := make(map[string]struct{}, len(names))
	out := make([]Name, 0, len(names))
	for _, raw := range names {
		n, ok := s.prepare(raw)
		if !ok {
			continue
		}
		if _, dup := seen[n.canonical]; dup {
			continue
		}
		seen[n.canonical] = struct{}{}
		out = append(out, n)
	}
	return Observed{names: out}
}

// Score compares raw observed names against a raw roster.
func (s *Scorer) Score(observed, roster []string) Result {
	return s.ScorePrepared(s.PrepareObserved(observed), s.PrepareRoster(roster))
}

// ScorePrepared is Score on prepared inputs.
func (s *Scorer) ScorePrepared(observed Observed, roster Roster) Result {
	if observed.Len() == 0 || roster.Len() == 0 {
		return Result{}
	}

	kept := make([]model.MatchedPair, 0, observed.Len())
	for _, o := range observed.names {
		best, bestScore, bestExact := -1, 0.0, false
		for i, r := range roster.names {
			exact := o.canonical == r.canonical
			score := 1.0
			if !exact {
				score = tokenSetRatio(o.tokens, r.tokens)
			}
			// roster is sorted, so strict comparison keeps the smallest name on ties
			if score > bestScore || (score == bestScore && exact && !bestExact) {
				best, bestScore, bestExact = i, score, exact
			}
		}
		if best < 0 || bestScore < s.noiseFloor {
			continue
		}
		kept = append(kept, model.MatchedPair{
			Observed:    o.Raw,
			Participant: roster.names[best].Raw,
			Score:       bestScore,
		})
	}
	if len(kept) == 0 {
		return Result{}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Observed < kept[j].Observed
	})

	k := s.k(observed.Len(), roster.Len())
	if k > len(kept) {
		k = len(kept)
	}
	sum := 0.0
	for _, p := range kept[:k] {
		sum += p.Score
	}
	return Result{Score: clamp(sum / float64(k)), Pairs: kept}
}

func (s *Scorer) k(observed, roster int) int {
	if s.strategy == TopKFixed && s.fixedK > 0 {
		return s.fixedK
	}
	return min(observed, roster)
}

// TokenSetRatio scores two names by their token sets: the shared tokens are
// compared against each side's full token list and the best ratio wins.
func TokenSetRatio(a, b string) float64 {
	return tokenSetRatio(
		uniqueSorted(normalize.Tokenize(a)),
		uniqueSorted(normalize.Tokenize(b)),
	)
}

func tokenSetRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var inter, onlyA, onlyB []string
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter = append(inter, a[i])
			i++
			j++
		case a[i] < b[j]:
			onlyA = append(onlyA, a[i])
			i++
		default:
			onlyB = append(onlyB, b[j])
			j++
		}
	}
	onlyA = append(onlyA, a[i:]...)
	onlyB = append(onlyB, b[j:]...)

	if len(inter) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 1
	}

	sect := strings.Join(inter, " ")
	withA := joinNonEmpty(sect, strings.Join(onlyA, " "))
	withB := joinNonEmpty(sect, strings.Join(onlyB, " "))

	best := ratio(withA, withB)
	if sect != "" {
		best = max(best, ratio(sect, withA), ratio(sect, withB))
	}
	return clamp(best)
}

// ratio is the normalized indel similarity 2*LCS/(|a|+|b|) over runes.
func ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 1
	}
	return 2 * float64(edlib.LCS(a, b)) / float64(total)
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

func uniqueSorted(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	sort.Strings(tokens)
	out := tokens[:1]
	for _, t := range tokens[1:] {
		if t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
