// Package dropdetect computes the set difference between two adjacent
// daily LabelSets and derives per-drop metadata (length, charset, quality).
package dropdetect

import (
	"bufio"
	"context"
	"strings"
	"unicode/utf8"

	"dropwatch-go/internal/core"
	"dropwatch-go/internal/zoneparser"
)

// Detector computes drops = yesterday \ today and enriches each with
// derived metadata. QualityScorer is optional: a nil scorer, or one that
// errors, simply leaves QualityScore unset.
type Detector struct {
	Scorer core.QualityScorer
}

// New creates a Detector. scorer may be nil.
func New(scorer core.QualityScorer) *Detector {
	return &Detector{Scorer: scorer}
}

// Detect returns drop records for every label present in prev but absent
// from today. The diff strategy (in-memory hash set vs.
// external sorted merge) is chosen automatically based on how prev and
// today were parsed.
func (d *Detector) Detect(ctx context.Context, tld string, dropDate core.Date, prev, today *zoneparser.LabelSet) ([]core.DropRecord, error) {
	var labels []string
	var err error
	if prev.InMemory() && today.InMemory() {
		labels = diffMemory(prev.Memory(), today.Memory())
	} else {
		labels, err = diffExternal(ctx, prev, today)
		if err != nil {
			return nil, err
		}
	}

	records := make([]core.DropRecord, 0, len(labels))
	for _, label := range labels {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		rec := core.DropRecord{
			Label:       label,
			TLD:         tld,
			DropDate:    dropDate,
			Length:      utf8.RuneCountInString(label),
			LabelCount:  1,
			CharsetType: classify(label),
		}
		if d.Scorer != nil {
			if score, err := d.Scorer.Score(ctx, label); err == nil {
				s := score
				rec.QualityScore = &s
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// diffMemory computes prev \ today via a hash-set membership test.
func diffMemory(prev, today map[string]struct{}) []string {
	out := make([]string, 0, len(prev))
	for l := range prev {
		if _, ok := today[l]; !ok {
			out = append(out, l)
		}
	}
	return out
}

// diffExternal walks two sorted label streams with a linear two-pointer
// merge, emitting labels present in prev but not today, matching the
// external-merge strategy. Neither stream is loaded fully into memory.
func diffExternal(ctx context.Context, prev, today *zoneparser.LabelSet) ([]string, error) {
	pr, err := prev.SortedReader()
	if err != nil {
		return nil, err
	}
	defer pr.Close()
	tr, err := today.SortedReader()
	if err != nil {
		return nil, err
	}
	defer tr.Close()

	ps := bufio.NewScanner(pr)
	ps.Buffer(make([]byte, 4096), 1<<20)
	ts := bufio.NewScanner(tr)
	ts.Buffer(make([]byte, 4096), 1<<20)

	pOK := ps.Scan()
	tOK := ts.Scan()

	var out []string
	i := 0
	for pOK {
		i++
		if i%100_000 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		pLabel := ps.Text()
		switch {
		case !tOK || pLabel < ts.Text():
			out = append(out, pLabel)
			pOK = ps.Scan()
		case pLabel == ts.Text():
			pOK = ps.Scan()
			tOK = ts.Scan()
		default: // pLabel > today's current label; advance today
			tOK = ts.Scan()
		}
	}
	if err := ps.Err(); err != nil {
		return nil, err
	}
	if err := ts.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// classify derives the charset_type classification. IDN (xn--)
// labels are checked before the generic hyphenated case, since ACE-encoded
// labels always contain hyphens.
func classify(label string) core.CharsetType {
	allDigits, allLetters := true, true
	for _, r := range label {
		if r < '0' || r > '9' {
			allDigits = false
		}
		if r < 'a' || r > 'z' {
			allLetters = false
		}
	}
	switch {
	case allDigits:
		return core.CharsetNumbers
	case allLetters:
		return core.CharsetLetters
	case strings.HasPrefix(label, "xn--"):
		return core.CharsetIDN
	case strings.Contains(label, "-"):
		return core.CharsetHyphenated
	default:
		return core.CharsetMixed
	}
}
