package relay

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// anchorFloor is the minimum Jaro-Winkler score an edge word of a
	// multi-word span needs against some term word for the span to qualify.
	anchorFloor = 0.60

	// minTermCoverage is the fraction of a term's letters a span must carry.
	// Shorter spans are partial hearings and must not claim the whole term.
	minTermCoverage = 0.60
)

// Replacement records one glossary term realigned in a transcript.
type Replacement struct {
	// Heard is the transcript span that was replaced.
	Heard string

	// Term is the canonical glossary spelling emitted instead.
	Term string

	// Score is the Jaro-Winkler similarity that accepted the replacement.
	Score float64
}

// lexTerm is one glossary entry with its comparison forms precomputed.
type lexTerm struct {
	canonical string
	lower     string
	joined    string
	tokens    []string
	codes     map[string]struct{}
}

// Lexicon realigns mistranscribed glossary terms. Speech recognition mangles
// proper nouns it has never seen; a transcript span that sounds like a
// configured term is replaced with the canonical spelling before the text
// reaches translation.
//
// Matching runs in two stages. Double Metaphone codes gate the candidates: a
// term whose codes share an entry with the span's codes competes at the
// phonetic threshold. Terms with no code overlap still match on pure
// Jaro-Winkler similarity, at the stricter fuzzy threshold, which catches
// spelling-level drift the phonetic codes miss.
//
// A Lexicon is read-only after construction and safe for concurrent use.
type Lexicon struct {
	terms             []lexTerm
	maxTermWords      int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// LexiconOption is a functional option for configuring a [Lexicon].
type LexiconOption func(*Lexicon)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a term that
// passed the phonetic gate. Default: 0.70.
func WithPhoneticThreshold(threshold float64) LexiconOption {
	return func(l *Lexicon) { l.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term with no
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) LexiconOption {
	return func(l *Lexicon) { l.fuzzyThreshold = threshold }
}

// NewLexicon builds a [Lexicon] from the glossary terms. Blank terms are
// dropped; the configured casing of each term is what replacements emit.
func NewLexicon(terms []string, opts ...LexiconOption) *Lexicon {
	l := &Lexicon{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(l)
	}
	for _, t := range terms {
		canonical := strings.TrimSpace(t)
		if canonical == "" {
			continue
		}
		lower := strings.ToLower(canonical)
		tokens := strings.Fields(lower)
		l.terms = append(l.terms, lexTerm{
			canonical: canonical,
			lower:     lower,
			joined:    strings.Join(tokens, ""),
			tokens:    tokens,
			codes:     metaphoneCodes(tokens),
		})
		if len(tokens) > l.maxTermWords {
			l.maxTermWords = len(tokens)
		}
	}
	return l
}

// Len reports the number of usable glossary terms.
func (l *Lexicon) Len() int {
	return len(l.terms)
}

// Correct scans transcript for spans that match a glossary term and replaces
// them with the canonical spelling. At each position the widest window is
// tried first so multi-word terms beat partial single-word matches; windows
// run one token wider than the longest term so a split hearing ("el drinax")
// can rejoin. Edge punctuation of a replaced span survives; its interior is
// the term verbatim.
//
// The returned text has single-space word separation. Replacements lists
// every span that changed; a span already spelled canonically is not
// reported.
func (l *Lexicon) Correct(transcript string) (string, []Replacement) {
	if l == nil || len(l.terms) == 0 {
		return transcript, nil
	}
	tokens := strings.Fields(transcript)
	if len(tokens) == 0 {
		return transcript, nil
	}

	var (
		output []string
		hits   []Replacement
	)
	i := 0
	for i < len(tokens) {
		maxN := l.maxTermWords + 1
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			prefix, core, suffix := trimEdges(window)
			if core == "" {
				continue
			}
			term, score, ok := l.match(core)
			if !ok {
				continue
			}
			output = append(output, strings.Fields(prefix+term+suffix)...)
			if core != term {
				hits = append(hits, Replacement{Heard: core, Term: term, Score: score})
			}
			i += n
			matched = true
			break
		}
		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}
	return strings.Join(output, " "), hits
}

// match finds the glossary term closest to span. Phonetically gated terms are
// preferred over pure-similarity ones regardless of score.
func (l *Lexicon) match(span string) (term string, score float64, ok bool) {
	lower := strings.ToLower(span)
	tokens := strings.Fields(lower)
	joined := strings.Join(tokens, "")
	codes := metaphoneCodes(tokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for i := range l.terms {
		t := &l.terms[i]
		// A span must carry most of the term's letters.
		if float64(len(joined)) < minTermCoverage*float64(len(t.joined)) {
			continue
		}
		// Multi-word spans anchor at both edges: the first and the last word
		// must each resemble part of the term.
		if len(tokens) > 1 &&
			(!anchored(tokens[0], t) || !anchored(tokens[len(tokens)-1], t)) {
			continue
		}
		s := similarity(lower, t.lower, joined, t.joined)
		if codesOverlap(codes, t.codes) {
			if s >= l.phoneticThreshold && (!bestPhonetic || s > bestScore) {
				best, bestScore, bestPhonetic = t.canonical, s, true
			}
		} else if !bestPhonetic && s >= l.fuzzyThreshold && s > bestScore {
			best, bestScore = t.canonical, s
		}
	}
	if best == "" {
		return span, 0, false
	}
	return best, bestScore, true
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens.
// Tokens that produce no code (too short, no consonants) contribute nothing.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share an entry.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// anchored reports whether tok resembles a word of the term or is a letter
// fragment of it. The fragment check covers split hearings whose tail piece
// ("dog" of "data dog" for Datadog) sits too deep in the term for
// Jaro-Winkler's matching window.
func anchored(tok string, t *lexTerm) bool {
	for _, tt := range t.tokens {
		if matchr.JaroWinkler(tok, tt, false) >= anchorFloor {
			return true
		}
	}
	return len(tok) >= 2 && strings.Contains(t.joined, tok)
}

// similarity is the better Jaro-Winkler score of two views of the pair: the
// full strings and the space-stripped strings. Speech recognition splits and
// joins words unpredictably, so "el drinax" must stay comparable with
// "eldrinax".
func similarity(aFull, bFull, aJoined, bJoined string) float64 {
	score := matchr.JaroWinkler(aFull, bFull, false)
	if aJoined != aFull || bJoined != bFull {
		if s := matchr.JaroWinkler(aJoined, bJoined, false); s > score {
			score = s
		}
	}
	return score
}

// trimEdges splits s into leading punctuation, word core, and trailing
// punctuation. Interior punctuation stays in the core.
func trimEdges(s string) (prefix, core, suffix string) {
	notWord := func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}
	trimmed := strings.TrimLeftFunc(s, notWord)
	prefix = s[:len(s)-len(trimmed)]
	core = strings.TrimRightFunc(trimmed, notWord)
	suffix = trimmed[len(core):]
	return prefix, core, suffix
}
