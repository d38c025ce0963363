// Package watchlist evaluates freshly-persisted drops against active user
// watchlist patterns and emits matches for the notifier to pick up.
package watchlist

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"dropwatch-go/internal/core"
)

// compiled is an active watchlist with its pattern pre-compiled, built once
// per Load and reused across every drop in the cycle.
type compiled struct {
	w       core.Watchlist
	tlds    map[string]struct{} // nil = wildcard
	charset map[core.CharsetType]struct{}
	re      *regexp.Regexp // set for glob and regex kinds
}

// Matcher holds the active watchlist index for one matching cycle.
type Matcher struct {
	DB  core.Database
	set []compiled
}

// New creates a Matcher bound to db.
func New(db core.Database) *Matcher {
	return &Matcher{DB: db}
}

// Load fetches every active watchlist and compiles its pattern, per
// Compiled once per cycle, not once per drop. A watchlist whose
// pattern fails to compile is deactivated with a reason and excluded from
// the index rather than aborting the whole load.
func (m *Matcher) Load(ctx context.Context) error {
	watchlists, err := m.DB.ListActiveWatchlists(ctx)
	if err != nil {
		return fmt.Errorf("loading active watchlists: %w", err)
	}

	set := make([]compiled, 0, len(watchlists))
	for _, w := range watchlists {
		c := compiled{w: w}
		if len(w.AllowedTLDs) > 0 {
			c.tlds = make(map[string]struct{}, len(w.AllowedTLDs))
			for _, t := range w.AllowedTLDs {
				c.tlds[strings.ToLower(t)] = struct{}{}
			}
		}
		if len(w.AllowedCharsets) > 0 {
			c.charset = make(map[core.CharsetType]struct{}, len(w.AllowedCharsets))
			for _, cs := range w.AllowedCharsets {
				c.charset[cs] = struct{}{}
			}
		}

		re, err := compilePattern(w.PatternKind, w.Pattern)
		if err != nil {
			reason := fmt.Sprintf("invalid %s pattern %q: %v", w.PatternKind, w.Pattern, err)
			if dErr := m.DB.DeactivateWatchlist(ctx, w.ID, reason); dErr != nil {
				return fmt.Errorf("deactivating watchlist %d: %w", w.ID, dErr)
			}
			continue
		}
		c.re = re
		set = append(set, c)
	}
	m.set = set
	return nil
}

// compilePattern builds the regexp backing glob and regex pattern kinds.
// contains/prefix/suffix are evaluated directly against the label in Match
// and need no compiled form. A regex pattern is anchored with ^...$ unless
// it already supplies its own anchors.
func compilePattern(kind core.PatternKind, pattern string) (*regexp.Regexp, error) {
	switch kind {
	case core.PatternGlob:
		return regexp.Compile("(?i)^" + globToRegex(pattern) + "$")
	case core.PatternRegex:
		expr := pattern
		if !strings.HasPrefix(expr, "^") && !strings.HasSuffix(expr, "$") {
			expr = "^" + expr + "$"
		}
		return regexp.Compile("(?i)" + expr)
	case core.PatternContains, core.PatternPrefix, core.PatternSuffix:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown pattern kind %q", kind)
	}
}

// globToRegex translates fnmatch-style glob syntax (* and ?) into a regex
// fragment, escaping every other metacharacter literally.
func globToRegex(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// Match evaluates drop against every loaded watchlist and returns the
// matches, in short-circuit predicate order: TLD, length,
// charset, quality, pattern — cheapest checks first.
func (m *Matcher) Match(drop core.DropRecord) []core.WatchlistMatch {
	var out []core.WatchlistMatch
	for _, c := range m.set {
		if !c.matches(drop) {
			continue
		}
		out = append(out, core.WatchlistMatch{WatchlistID: c.w.ID, DropID: drop.ID})
	}
	return out
}

func (c *compiled) matches(d core.DropRecord) bool {
	if c.tlds != nil {
		if _, ok := c.tlds[strings.ToLower(d.TLD)]; !ok {
			return false
		}
	}
	if c.w.MinLength != nil && d.Length < *c.w.MinLength {
		return false
	}
	if c.w.MaxLength != nil && d.Length > *c.w.MaxLength {
		return false
	}
	if c.charset != nil {
		if _, ok := c.charset[d.CharsetType]; !ok {
			return false
		}
	}
	if c.w.MinQuality != nil {
		if d.QualityScore == nil || *d.QualityScore < *c.w.MinQuality {
			return false
		}
	}
	return c.matchesPattern(d.Label)
}

func (c *compiled) matchesPattern(label string) bool {
	switch c.w.PatternKind {
	case core.PatternGlob, core.PatternRegex:
		return c.re.MatchString(label)
	case core.PatternContains:
		return strings.Contains(strings.ToLower(label), strings.ToLower(c.w.Pattern))
	case core.PatternPrefix:
		return strings.HasPrefix(strings.ToLower(label), strings.ToLower(c.w.Pattern))
	case core.PatternSuffix:
		return strings.HasSuffix(strings.ToLower(label), strings.ToLower(c.w.Pattern))
	default:
		return false
	}
}

// MatchAll runs Match over every drop and batches the results through the
// database, deduplicated by the (watchlist_id, drop_id) unique constraint.
func (m *Matcher) MatchAll(ctx context.Context, drops []core.DropRecord) (inserted int, err error) {
	var all []core.WatchlistMatch
	for _, d := range drops {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		all = append(all, m.Match(d)...)
	}
	if len(all) == 0 {
		return 0, nil
	}
	return m.DB.InsertWatchlistMatches(ctx, all)
}
