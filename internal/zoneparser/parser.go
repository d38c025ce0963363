package zoneparser

import (
	"context"
	"io"
	"os"
	"regexp"
	"strings"

	"dropwatch-go/internal/core"
)

const (
	// DefaultMemoryBudget is the maximum number of unique labels held in
	// memory before the parser spills to external-sort deduplication.
	DefaultMemoryBudget = 20_000_000

	// DefaultYieldEvery is how often (in input lines) the parser checks the
	// caller's context for cancellation.
	DefaultYieldEvery = 100_000

	defaultChunkSize = 500_000
)

// labelPattern matches the SLD grammar: a DNS label of up to
// 63 characters that neither starts nor ends with a hyphen. xn-- (IDN
// ACE-encoded) labels are accepted separately without this check.
var labelPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// Parser extracts the set of SLD labels for a TLD from a streamed zone file.
type Parser struct {
	// MemoryBudget caps the number of unique labels held in memory before
	// falling back to external-sort deduplication. Zero uses
	// DefaultMemoryBudget.
	MemoryBudget int

	// YieldEvery is the line-count checkpoint interval for cancellation.
	// Zero uses DefaultYieldEvery.
	YieldEvery int

	// SpillDir is where external-sort run files are written when the
	// memory budget is exceeded. Empty uses os.TempDir.
	SpillDir string
}

// Parse streams r, a master-file zone for tld, and returns the deduplicated
// set of lowercased SLD labels. The caller must Close the returned set.
func (p *Parser) Parse(ctx context.Context, r io.Reader, tld string) (*LabelSet, error) {
	budget := p.MemoryBudget
	if budget <= 0 {
		budget = DefaultMemoryBudget
	}
	yieldEvery := p.YieldEvery
	if yieldEvery <= 0 {
		yieldEvery = DefaultYieldEvery
	}
	tldLower := strings.ToLower(tld)
	origin := tldLower + "."

	mem := make(map[string]struct{})
	var sp *spill

	sc := newSortedLineScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if lineNo%yieldEvery == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "$ORIGIN") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				o := strings.ToLower(fields[1])
				if !strings.HasSuffix(o, ".") {
					o += "."
				}
				origin = o
			}
			continue
		}
		if strings.HasPrefix(line, "$") {
			continue // other control directives ($TTL, etc.) don't affect SLD extraction
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		owner := fields[0]

		var fqdn string
		if strings.HasSuffix(owner, ".") {
			fqdn = owner
		} else {
			fqdn = owner + "." + origin
		}
		fqdn = strings.ToLower(fqdn)

		label, ok := extractSLD(fqdn, tldLower)
		if !ok {
			continue
		}

		if sp != nil {
			if err := sp.Add(label); err != nil {
				return nil, err
			}
			continue
		}

		if _, exists := mem[label]; exists {
			continue
		}
		mem[label] = struct{}{}
		if len(mem) > budget {
			var err error
			sp, err = p.spillFrom(mem)
			if err != nil {
				return nil, err
			}
			mem = nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &core.ParserError{Msg: err.Error(), Line: lineNo}
	}

	if sp != nil {
		path, count, err := sp.Finish()
		if err != nil {
			return nil, err
		}
		return &LabelSet{sortedPath: path, count: count}, nil
	}
	return &LabelSet{mem: mem, count: len(mem)}, nil
}

func (p *Parser) spillFrom(mem map[string]struct{}) (*spill, error) {
	dir := p.SpillDir
	if dir == "" {
		dir = os.TempDir()
	}
	sp, err := newSpill(dir, defaultChunkSize)
	if err != nil {
		return nil, err
	}
	for l := range mem {
		if err := sp.Add(l); err != nil {
			return nil, err
		}
	}
	return sp, nil
}

// extractSLD applies owner-name normalization: fqdn must be an
// absolute two-label name under tld, and the SLD must satisfy the label
// grammar or be an xn-- IDN label.
func extractSLD(fqdn, tld string) (string, bool) {
	fqdn = strings.TrimSuffix(fqdn, ".")
	parts := strings.Split(fqdn, ".")
	if len(parts) != 2 || parts[1] != tld {
		return "", false
	}
	sld := parts[0]
	if sld == "" {
		return "", false
	}
	if strings.HasPrefix(sld, "xn--") {
		return sld, true
	}
	if !labelPattern.MatchString(sld) {
		return "", false
	}
	return sld, true
}
