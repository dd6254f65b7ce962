package dartapi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"dart_deepsearch/pkg/core/cache"
	"dart_deepsearch/pkg/models"
)

const (
	// resolveFloor is the minimum score a candidate needs to appear in
	// Resolve results at all.
	resolveFloor = 60
	// bestFloor is the minimum score for Best to report a confident match.
	bestFloor = 80
	// maxMatches caps how many candidates Resolve returns.
	maxMatches = 5
)

var directoryParams = map[string]string{"file": "corpCode.xml"}

// Directory maps free-form company names to DART corp codes. The full
// corp code dump (~100k entities) is loaded lazily, kept as an immutable
// snapshot, and rebuilt in place once it ages past the directory TTL.
// Readers always see either the previous complete snapshot or the new
// one, never a partial rebuild.
type Directory struct {
	transport *Transport
	store     *cache.Store

	mu       sync.RWMutex
	snapshot *directorySnapshot
}

type directorySnapshot struct {
	companies  []models.Company
	normalized []string
	byStock    map[string]int
	builtAt    time.Time
}

func NewDirectory(tr *Transport, store *cache.Store) *Directory {
	return &Directory{transport: tr, store: store}
}

// Resolve scores every directory entry against name and returns the top
// candidates with score >= 60, best first. Ties are broken by shorter
// official name, then lexicographically, so results are deterministic
// across rebuilds.
func (d *Directory) Resolve(ctx context.Context, name string) ([]models.CompanyMatch, error) {
	query := normalizeCorpName(name)
	if query == "" {
		return nil, nil
	}
	snap, err := d.ensure(ctx)
	if err != nil {
		return nil, err
	}

	queryBigrams := bigrams(query)
	var matches []models.CompanyMatch
	for i, candidate := range snap.normalized {
		score := matchScore(query, candidate, queryBigrams)
		if score < resolveFloor {
			continue
		}
		matches = append(matches, models.CompanyMatch{
			Company: snap.companies[i],
			Score:   score,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		al, bl := len([]rune(a.Name)), len([]rune(b.Name))
		if al != bl {
			return al < bl
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.CorpCode < b.CorpCode
	})
	if len(matches) > maxMatches {
		matches = matches[:maxMatches]
	}
	return matches, nil
}

// Best returns the single most likely match for name, or ok=false when
// no candidate reaches the confidence floor of 80.
func (d *Directory) Best(ctx context.Context, name string) (models.CompanyMatch, bool, error) {
	matches, err := d.Resolve(ctx, name)
	if err != nil {
		return models.CompanyMatch{}, false, err
	}
	if len(matches) == 0 || matches[0].Score < bestFloor {
		return models.CompanyMatch{}, false, nil
	}
	return matches[0], true, nil
}

// ByStockCode looks up a listed company by its 6-digit ticker.
func (d *Directory) ByStockCode(ctx context.Context, code string) (models.Company, bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return models.Company{}, false, nil
	}
	snap, err := d.ensure(ctx)
	if err != nil {
		return models.Company{}, false, err
	}
	idx, ok := snap.byStock[code]
	if !ok {
		return models.Company{}, false, nil
	}
	return snap.companies[idx], true, nil
}

// Len reports how many entities the current snapshot holds. Zero means
// the directory has not been loaded yet.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.snapshot == nil {
		return 0
	}
	return len(d.snapshot.companies)
}

func (d *Directory) ensure(ctx context.Context) (*directorySnapshot, error) {
	d.mu.RLock()
	snap := d.snapshot
	d.mu.RUnlock()
	if snap != nil && time.Since(snap.builtAt) < cache.DirectoryTTL {
		return snap, nil
	}

	raw, _, err := d.store.GetOrFetch(ctx, cache.NamespaceDirectory, directoryParams, cache.DirectoryTTL, func(ctx context.Context) ([]byte, error) {
		return d.transport.CorpCodeZIP(ctx)
	})
	if err != nil {
		if snap != nil {
			// Keep serving the aged snapshot rather than failing lookups.
			fmt.Printf("[DIRECTORY] Refresh failed, serving stale snapshot: %v\n", err)
			return snap, nil
		}
		return nil, err
	}

	companies, err := ParseCorpCodeZIP(raw)
	if err != nil {
		if snap != nil {
			fmt.Printf("[DIRECTORY] Parse failed, serving stale snapshot: %v\n", err)
			return snap, nil
		}
		return nil, fmt.Errorf("DART_DIRECTORY_PARSE_ERROR: %w", err)
	}

	next := buildSnapshot(companies)
	d.mu.Lock()
	d.snapshot = next
	d.mu.Unlock()
	fmt.Printf("[DIRECTORY] Loaded %d entities (%d listed)\n", len(next.companies), len(next.byStock))
	return next, nil
}

func buildSnapshot(companies []models.Company) *directorySnapshot {
	snap := &directorySnapshot{
		companies:  companies,
		normalized: make([]string, len(companies)),
		byStock:    make(map[string]int),
		builtAt:    time.Now(),
	}
	for i, c := range companies {
		snap.normalized[i] = normalizeCorpName(c.Name)
		if c.StockCode != "" {
			if _, dup := snap.byStock[c.StockCode]; !dup {
				snap.byStock[c.StockCode] = i
			}
		}
	}
	return snap
}

var corpNameNoise = strings.NewReplacer(
	"주식회사", "",
	"(주)", "",
	"㈜", "",
)

// normalizeCorpName strips corporate suffixes, whitespace, and case so
// that "삼성전자(주)" and "삼성전자" compare equal.
func normalizeCorpName(name string) string {
	name = corpNameNoise.Replace(name)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// matchScore rates candidate against query on a 0..100 scale.
// Exact match scores 100. Containment scores 80 plus up to 20 for
// length closeness, so "메리츠금융" confidently finds "메리츠금융지주".
// Everything else blends character-bigram overlap with edit distance.
func matchScore(query, candidate string, queryBigrams map[string]struct{}) int {
	if candidate == "" {
		return 0
	}
	if query == candidate {
		return 100
	}

	qLen := len([]rune(query))
	cLen := len([]rune(candidate))
	if strings.Contains(candidate, query) || strings.Contains(query, candidate) {
		short, long := qLen, cLen
		if short > long {
			short, long = long, short
		}
		return 80 + int(float64(20*short)/float64(long)+0.5)
	}

	overlap := bigramOverlap(queryBigrams, candidate)
	if overlap == 0 {
		// With no shared bigrams the blended score cannot reach the
		// resolve floor, so skip the edit distance entirely.
		return 0
	}

	union := len(queryBigrams) + bigramCount(candidate) - overlap
	jaccard := 0.0
	if union > 0 {
		jaccard = float64(overlap) / float64(union)
	}

	maxLen := qLen
	if cLen > maxLen {
		maxLen = cLen
	}
	editSim := 1 - float64(levenshtein(query, candidate))/float64(maxLen)
	if editSim < 0 {
		editSim = 0
	}

	return int(100*(0.5*jaccard+0.5*editSim) + 0.5)
}

func bigrams(s string) map[string]struct{} {
	runes := []rune(s)
	set := make(map[string]struct{})
	if len(runes) < 2 {
		if len(runes) == 1 {
			set[string(runes)] = struct{}{}
		}
		return set
	}
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

func bigramOverlap(set map[string]struct{}, s string) int {
	runes := []rune(s)
	if len(runes) == 1 {
		if _, ok := set[string(runes)]; ok {
			return 1
		}
		return 0
	}
	seen := make(map[string]struct{})
	overlap := 0
	for i := 0; i+1 < len(runes); i++ {
		bg := string(runes[i : i+2])
		if _, dup := seen[bg]; dup {
			continue
		}
		seen[bg] = struct{}{}
		if _, ok := set[bg]; ok {
			overlap++
		}
	}
	return overlap
}

func bigramCount(s string) int {
	runes := []rune(s)
	if len(runes) < 2 {
		return len(runes)
	}
	seen := make(map[string]struct{})
	for i := 0; i+1 < len(runes); i++ {
		seen[string(runes[i:i+2])] = struct{}{}
	}
	return len(seen)
}

// levenshtein computes the rune-level edit distance with a rolling
// two-row table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
