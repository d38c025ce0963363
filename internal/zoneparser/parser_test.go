package zoneparser

import (
	"context"
	"io"
	"strings"
	"testing"
)

func readAll(t *testing.T, s *LabelSet) []string {
	t.Helper()
	r, err := s.SortedReader()
	if err != nil {
		t.Fatalf("SortedReader() error = %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading sorted labels: %v", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func TestParser_Basic(t *testing.T) {
	zone := `; comment line
$ORIGIN dev.
alpha.dev.  3600 IN NS ns1.example.com.
beta.dev.   3600 IN NS ns1.example.com.
alpha       3600 IN NS ns1.example.com.
`
	p := &Parser{}
	set, err := p.Parse(context.Background(), strings.NewReader(zone), "dev")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	defer set.Close()

	if set.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", set.Len())
	}
	got := readAll(t, set)
	want := []string{"alpha", "beta"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("labels = %v, want %v", got, want)
	}
}

func TestParser_IgnoresOutOfZoneAndMalformed(t *testing.T) {
	zone := `alpha.dev.       IN NS ns1.
sub.alpha.dev.   IN NS ns1.
alpha.other.     IN NS ns1.
-bad.dev.        IN NS ns1.
xn--caf-dma.dev. IN NS ns1.
`
	p := &Parser{}
	set, err := p.Parse(context.Background(), strings.NewReader(zone), "dev")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	defer set.Close()

	got := readAll(t, set)
	want := []string{"alpha", "xn--caf-dma"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("labels = %v, want %v", got, want)
	}
}

func TestParser_OrderIndependence(t *testing.T) {
	shuffled := `beta.dev.  IN NS ns1.
alpha.dev. IN NS ns1.
gamma.dev. IN NS ns1.
`
	reordered := `gamma.dev. IN NS ns1.
alpha.dev. IN NS ns1.
beta.dev.  IN NS ns1.
`
	p := &Parser{}
	a, err := p.Parse(context.Background(), strings.NewReader(shuffled), "dev")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	defer a.Close()
	b, err := p.Parse(context.Background(), strings.NewReader(reordered), "dev")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	defer b.Close()

	if strings.Join(readAll(t, a), ",") != strings.Join(readAll(t, b), ",") {
		t.Errorf("parse output depends on input line order")
	}
}

func TestParser_OriginDirectiveChangesOwnerResolution(t *testing.T) {
	zone := `$ORIGIN dev.
alpha 3600 IN NS ns1.
$ORIGIN unrelated.example.
beta 3600 IN NS ns1.
`
	p := &Parser{}
	set, err := p.Parse(context.Background(), strings.NewReader(zone), "dev")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	defer set.Close()

	got := readAll(t, set)
	want := []string{"alpha"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("labels = %v, want %v (beta resolved under a different origin, must be excluded)", got, want)
	}
}

func TestParser_SpillsPastMemoryBudget(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("label")
		b.WriteByte(byte('a' + i))
		b.WriteString(".dev. IN NS ns1.\n")
	}
	p := &Parser{MemoryBudget: 3, SpillDir: t.TempDir()}
	set, err := p.Parse(context.Background(), strings.NewReader(b.String()), "dev")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	defer set.Close()

	if set.InMemory() {
		t.Fatal("expected external spill once budget exceeded")
	}
	if set.Len() != 10 {
		t.Errorf("Len() = %d, want 10", set.Len())
	}
	got := readAll(t, set)
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("spilled output not sorted: %v", got)
		}
	}
}
