// Package conflict finds source phrases that were translated more than one way
// across the corpus, classifies each conflict and proposes a resolution.
//
// Classification tries the cheapest, most mechanical fix first:
// capitalization, then a dropped or added preposition, then an article, then a
// reflexive marker. Anything else goes to manual review.
package conflict

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/japaniel/coursegen/pkg/lattice"
	"github.com/japaniel/coursegen/pkg/textnorm"
)

// Type classifies a conflict.
type Type string

const (
	Capitalization   Type = "capitalization"
	Preposition      Type = "preposition"
	Article          Type = "article"
	Reflexive        Type = "reflexive"
	SemanticDistinct Type = "semantic_distinct"
)

// Action is the proposed fix.
type Action string

const (
	Normalize     Action = "normalize"
	Upchunk       Action = "upchunk_composite"
	Differentiate Action = "differentiate_known"
	ManualReview  Action = "manual_review"
)

// Resolution is a proposed fix for one conflict.
type Resolution struct {
	Action Action `json:"action"`
	// Canonical is the form to keep: the canonical casing for Normalize, the
	// atomic form for Upchunk.
	Canonical string `json:"canonical,omitempty"`
	// Rework lists the variants to re-express as composites (Upchunk) or whose
	// known text must be annotated (Differentiate).
	Rework []string `json:"rework,omitempty"`
	// KnownAnnotation is the suggested known text for a differentiated variant.
	KnownAnnotation string `json:"known_annotation,omitempty"`
	Note            string `json:"note,omitempty"`
}

// Context locates one variant in the corpus.
type Context struct {
	LegoID     string `json:"lego_id"`
	SeedID     string `json:"seed_id"`
	Variant    string `json:"variant"`
	SeedKnown  string `json:"seed_known"`
	SeedTarget string `json:"seed_target"`
}

// Conflict is a group of new LEGOs sharing a known text with differing targets.
type Conflict struct {
	KnownText  string     `json:"known_text"`
	Targets    []string   `json:"conflicting_target_texts"`
	Type       Type       `json:"conflict_type"`
	Resolution Resolution `json:"resolution"`
	Contexts   []Context  `json:"example_contexts"`
}

// Rules hold the language-pair specific closed-class word lists.
type Rules struct {
	Prepositions      []string `yaml:"prepositions"`
	Articles          []string `yaml:"articles"`
	ReflexiveMarkers  []string `yaml:"reflexive_markers"`
	ReflexiveSuffixes []string `yaml:"reflexive_suffixes"`
}

// Reconciler scans a snapshot for conflicts.
type Reconciler struct {
	Logger zerolog.Logger

	preps, arts, markers map[string]bool
	suffixes             []string
	lower                cases.Caser
}

// NewReconciler builds a Reconciler from rules.
func NewReconciler(rules Rules) *Reconciler {
	set := func(words []string) map[string]bool {
		m := map[string]bool{}
		for _, w := range words {
			if w = textnorm.Normalize(w); w != "" {
				m[w] = true
			}
		}
		return m
	}
	var suf []string
	for _, s := range rules.ReflexiveSuffixes {
		if s = textnorm.Normalize(s); s != "" {
			suf = append(suf, s)
		}
	}
	sort.Slice(suf, func(i, j int) bool { return len(suf[i]) > len(suf[j]) })
	return &Reconciler{
		Logger:   zerolog.Nop(),
		preps:    set(rules.Prepositions),
		arts:     set(rules.Articles),
		markers:  set(rules.ReflexiveMarkers),
		suffixes: suf,
		lower:    cases.Lower(language.Und),
	}
}

type group struct {
	known    string
	variants []string // surface forms in first-seen order
	legos    []int
}

// Reconcile returns every conflict in snap, ordered by the first LEGO involved.
func (r *Reconciler) Reconcile(snap *lattice.Snapshot) []Conflict {
	groups := map[string]*group{}
	var order []string
	for i := 0; i < snap.Len(); i++ {
		l := snap.Lego(i)
		if l.Origin != lattice.New {
			continue
		}
		key := textnorm.Normalize(l.Known)
		g, ok := groups[key]
		if !ok {
			g = &group{known: l.Known}
			groups[key] = g
			order = append(order, key)
		}
		g.legos = append(g.legos, i)
		v := textnorm.Surface(l.Target)
		if !contains(g.variants, v) {
			g.variants = append(g.variants, v)
		}
	}

	var out []Conflict
	for _, key := range order {
		g := groups[key]
		if len(g.variants) < 2 {
			continue
		}
		typ, res := r.ClassifyGroup(g.variants)
		c := Conflict{
			KnownText:  g.known,
			Targets:    append([]string(nil), g.variants...),
			Type:       typ,
			Resolution: res,
		}
		if typ == Reflexive && len(res.Rework) > 0 {
			c.Resolution.KnownAnnotation = g.known + " (reflexive)"
		}
		for _, i := range g.legos {
			l := snap.Lego(i)
			s := snap.SeedOf(i)
			c.Contexts = append(c.Contexts, Context{
				LegoID:     l.ID,
				SeedID:     s.ID,
				Variant:    l.Target,
				SeedKnown:  s.Known,
				SeedTarget: s.Target,
			})
		}
		r.Logger.Info().Str("known", g.known).Str("type", string(typ)).Strs("targets", g.variants).Msg("conflict detected")
		out = append(out, c)
	}
	return out
}

// Classify classifies a pair of conflicting target texts. The result does not
// depend on argument order.
func (r *Reconciler) Classify(a, b string) (Type, Resolution) {
	return r.ClassifyGroup([]string{a, b})
}

// ClassifyGroup classifies two or more conflicting target texts.
func (r *Reconciler) ClassifyGroup(variants []string) (Type, Resolution) {
	vs := make([]string, 0, len(variants))
	for _, v := range variants {
		if v = textnorm.Surface(v); !contains(vs, v) {
			vs = append(vs, v)
		}
	}
	sort.Strings(vs)

	folded := map[string]bool{}
	var forms []string
	for _, v := range vs {
		f := textnorm.Normalize(v)
		if !folded[f] {
			folded[f] = true
			forms = append(forms, f)
		}
	}
	if len(forms) == 1 {
		return Capitalization, Resolution{
			Action:    Normalize,
			Canonical: r.canonicalCase(vs),
			Rework:    without(vs, r.canonicalCase(vs)),
			Note:      "variants differ only by capitalization",
		}
	}

	// Compare every form against the shortest; a uniform mechanical relation
	// across all of them is required.
	sort.Slice(forms, func(i, j int) bool {
		ti, tj := len(strings.Fields(forms[i])), len(strings.Fields(forms[j]))
		if ti != tj {
			return ti < tj
		}
		return forms[i] < forms[j]
	})
	base := forms[0]
	typ := Type("")
	for _, f := range forms[1:] {
		t := r.classifyPair(base, f)
		if typ == "" {
			typ = t
		} else if t != typ {
			typ = SemanticDistinct
		}
		if typ == SemanticDistinct {
			break
		}
	}

	switch typ {
	case Preposition, Article:
		return typ, Resolution{
			Action:    Upchunk,
			Canonical: base,
			Rework:    forms[1:],
			Note:      "keep the shorter form atomic; re-express longer forms as composites wrapping their context",
		}
	case Reflexive:
		return typ, Resolution{
			Action:    Differentiate,
			Canonical: base,
			Rework:    forms[1:],
			Note:      "keep both; disambiguate the known text of the reflexive form",
		}
	default:
		return SemanticDistinct, Resolution{
			Action: ManualReview,
			Note:   "distinct realizations; review with seed context",
		}
	}
}

// classifyPair compares two folded forms, short having no more tokens than long.
func (r *Reconciler) classifyPair(short, long string) Type {
	ts, tl := strings.Fields(short), strings.Fields(long)
	if len(tl) == len(ts)+1 {
		if w, ok := insertion(ts, tl); ok {
			switch {
			case r.preps[w]:
				return Preposition
			case r.arts[w]:
				return Article
			case r.markers[w]:
				return Reflexive
			}
		}
	}
	if len(tl) == len(ts) && r.reflexiveSuffix(ts, tl) {
		return Reflexive
	}
	return SemanticDistinct
}

// insertion reports the single token whose removal from long yields short.
func insertion(short, long []string) (string, bool) {
	for i := range long {
		ok := true
		for j, k := 0, 0; j < len(long); j++ {
			if j == i {
				continue
			}
			if long[j] != short[k] {
				ok = false
				break
			}
			k++
		}
		if ok {
			return long[i], true
		}
	}
	return "", false
}

// reflexiveSuffix reports whether a and b differ in exactly one token, where
// one is the other plus a reflexive suffix.
func (r *Reconciler) reflexiveSuffix(a, b []string) bool {
	diff := -1
	for i := range a {
		if a[i] != b[i] {
			if diff >= 0 {
				return false
			}
			diff = i
		}
	}
	if diff < 0 {
		return false
	}
	x, y := a[diff], b[diff]
	if len(x) > len(y) {
		x, y = y, x
	}
	for _, s := range r.suffixes {
		if y == x+s {
			return true
		}
	}
	return false
}

// canonicalCase prefers a variant already in lower case, else lower-cases the
// first variant.
func (r *Reconciler) canonicalCase(vs []string) string {
	for _, v := range vs {
		if r.lower.String(v) == v {
			return v
		}
	}
	return r.lower.String(vs[0])
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func without(list []string, s string) []string {
	var out []string
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
