// Package matching scores free-text tokens against schema vocabulary using
// exact, abbreviation, edit-distance and phonetic strategies.
package matching

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/insightloop/insight-engine/pkg/models"
)

// Options holds the tunable scoring constants. Zero values fall back to
// the package defaults.
type Options struct {
	Threshold         float64 // minimum score for any returned match
	AbbreviationScore float64 // fixed score for expansion-table hits
	PhoneticScore     float64 // fixed score for phonetic-only matches
	CorrectionFloor   float64 // lower bound of the corrective band
}

const (
	defaultThreshold         = 0.75
	defaultAbbreviationScore = 0.95
	defaultPhoneticScore     = 0.78
	defaultCorrectionFloor   = 0.6
)

// Matcher scores terms against candidate vocabularies. It is stateless and
// safe for concurrent use.
type Matcher struct {
	opts       Options
	expansions map[string]string
}

// NewMatcher creates a matcher with the given options and the built-in
// abbreviation expansion table.
func NewMatcher(opts Options) *Matcher {
	if opts.Threshold <= 0 {
		opts.Threshold = defaultThreshold
	}
	if opts.AbbreviationScore <= 0 {
		opts.AbbreviationScore = defaultAbbreviationScore
	}
	if opts.PhoneticScore <= 0 {
		opts.PhoneticScore = defaultPhoneticScore
	}
	if opts.CorrectionFloor <= 0 {
		opts.CorrectionFloor = defaultCorrectionFloor
	}
	return &Matcher{opts: opts, expansions: loadExpansions()}
}

// Similarity returns the normalized Levenshtein similarity of two strings,
// case-insensitive, in [0,1].
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1.0
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

// Match scores term against every candidate and returns qualifying matches
// in descending score order. Ties break by smaller absolute length
// difference, then lexicographically. threshold <= 0 uses the configured
// default; maxResults <= 0 means unbounded.
//
// Per candidate the first qualifying strategy wins: exact (1.0), then
// abbreviation, then edit-distance similarity, then phonetic equality.
func (m *Matcher) Match(term string, candidates []string, threshold float64, maxResults int) []models.CandidateMatch {
	if threshold <= 0 {
		threshold = m.opts.Threshold
	}
	termLower := strings.ToLower(strings.TrimSpace(term))
	if termLower == "" {
		return nil
	}
	termCode := Soundex(termLower)
	expansion := m.expansions[termLower]

	matches := make([]models.CandidateMatch, 0, len(candidates))
	for _, cand := range candidates {
		candLower := strings.ToLower(cand)

		var score float64
		var matchType string
		switch {
		case termLower == candLower:
			score, matchType = 1.0, models.MatchTypeExact
		case expansion != "" && expansion == candLower:
			score, matchType = m.opts.AbbreviationScore, models.MatchTypeAbbreviation
		default:
			if sim := Similarity(termLower, candLower); sim >= threshold {
				score, matchType = sim, models.MatchTypeFuzzy
			} else if termCode != "" && termCode == Soundex(candLower) {
				score, matchType = m.opts.PhoneticScore, models.MatchTypePhonetic
			}
		}

		if matchType == "" || score < threshold {
			continue
		}
		matches = append(matches, models.CandidateMatch{
			Term:      term,
			Candidate: cand,
			Score:     score,
			MatchType: matchType,
		})
	}

	sortMatches(term, matches)
	if maxResults > 0 && len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches
}

// SuggestCorrections tokenizes text and proposes the single best correction
// for each token that has no exact match among validTerms. Only candidates
// inside the corrective band [CorrectionFloor, 1.0) qualify.
func (m *Matcher) SuggestCorrections(text string, validTerms []string) []models.Correction {
	valid := make(map[string]struct{}, len(validTerms))
	for _, t := range validTerms {
		valid[strings.ToLower(t)] = struct{}{}
	}

	var corrections []models.Correction
	for _, token := range Tokenize(text) {
		if len(token) < 3 {
			continue
		}
		if _, ok := valid[strings.ToLower(token)]; ok {
			continue
		}
		best, ok := m.bestCorrection(token, validTerms)
		if ok {
			corrections = append(corrections, best)
		}
	}
	return corrections
}

func (m *Matcher) bestCorrection(token string, validTerms []string) (models.Correction, bool) {
	matches := m.Match(token, validTerms, m.opts.CorrectionFloor, 1)
	if len(matches) == 0 {
		return models.Correction{}, false
	}
	top := matches[0]
	// Exact matches were already filtered out by the caller; a 1.0 here
	// means a case-only difference, which is not a typo.
	if top.Score >= 1.0 {
		return models.Correction{}, false
	}
	return models.Correction{
		Original:   token,
		Suggestion: top.Candidate,
		Score:      top.Score,
	}, true
}

// Tokenize splits text into lowercase-comparable word tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return false
		case r >= '0' && r <= '9':
			return false
		case r == '_':
			return false
		}
		return true
	})
}

func sortMatches(term string, matches []models.CandidateMatch) {
	termLen := len(term)
	lenDiff := func(cand string) int {
		d := len(cand) - termLen
		if d < 0 {
			d = -d
		}
		return d
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		di, dj := lenDiff(matches[i].Candidate), lenDiff(matches[j].Candidate)
		if di != dj {
			return di < dj
		}
		return matches[i].Candidate < matches[j].Candidate
	})
}
