// Package fetch retrieves the content of filtered filings. Each filing
// is tried against up to three sources in priority order: a structured
// detail endpoint when the report type has one, the document archive
// (ZIP of XML), and finally the public web viewer. The first source
// that yields usable content wins. A filing whose every source fails
// stays in the result list with its fetch error recorded, so the
// synthesizer can still cite the reference.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dart_deepsearch/pkg/core/cache"
	"dart_deepsearch/pkg/core/dartapi"
	"dart_deepsearch/pkg/core/utils"
	"dart_deepsearch/pkg/models"
)

const (
	// DefaultParallel is how many fetches run at once
	// (DART_PARALLEL_DOWNLOADS).
	DefaultParallel = 3

	// DefaultTimeout bounds one filing's whole source chain
	// (DART_PARSE_TIMEOUT_MS).
	DefaultTimeout = 30 * time.Second

	// ContentBudget is the per-document rune budget carried into
	// prompts. Full cleaned text stays in the cache.
	ContentBudget = 1500
)

// source is the slice of the DART transport the fetcher needs.
type source interface {
	StructuredJSON(ctx context.Context, endpoint string, params url.Values) (*dartapi.StructuredList, error)
	DocumentZIP(ctx context.Context, rceptNo string) ([]byte, error)
	ViewerHTML(ctx context.Context, rceptNo string) (string, error)
}

type Options struct {
	Parallel    int
	Timeout     time.Duration
	DownloadDir string
}

// Fetcher runs the bounded-parallel retrieval stage.
type Fetcher struct {
	transport   source
	store       *cache.Store
	parallel    int
	timeout     time.Duration
	downloadDir string
	now         func() time.Time
}

func New(transport source, store *cache.Store, opts Options) *Fetcher {
	if opts.Parallel <= 0 {
		opts.Parallel = DefaultParallel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.DownloadDir != "" {
		if err := os.MkdirAll(opts.DownloadDir, 0o755); err != nil {
			fmt.Printf("[FETCH] download dir unavailable, raw archives not kept: %v\n", err)
			opts.DownloadDir = ""
		}
	}
	return &Fetcher{
		transport:   transport,
		store:       store,
		parallel:    opts.Parallel,
		timeout:     opts.Timeout,
		downloadDir: opts.DownloadDir,
		now:         time.Now,
	}
}

// Result is the fetch stage's output. Filings has the same length and
// order as the input refs.
type Result struct {
	Filings  []models.Filing
	Failures []models.PartialFailure
}

// Run fetches every ref with bounded parallelism. Individual fetch
// failures degrade to the next source and finally into the filing's
// fetch_error; only cancellation of ctx aborts the stage.
func (f *Fetcher) Run(ctx context.Context, refs []models.FilingRef) (*Result, error) {
	filings := make([]models.Filing, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallel)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			filings[i] = f.fetchOne(gctx, ref)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, models.NewPipelineError(models.KindCancelled, "fetch", "fetch stage cancelled", err)
	}

	var failures []models.PartialFailure
	counts := map[string]int{}
	for _, filing := range filings {
		counts[filing.Source]++
		if filing.FetchError != "" {
			failures = append(failures, models.PartialFailure{
				Phase:   "fetch",
				Kind:    string(models.KindFetchFailed),
				Message: filing.RceptNo + ": " + filing.FetchError,
			})
		}
	}
	fmt.Printf("[FETCH] %d documents: %d structured, %d archive, %d viewer, %d failed\n",
		len(filings), counts[models.SourceStructured], counts[models.SourceArchive],
		counts[models.SourceViewer], counts[models.SourceNone])

	return &Result{Filings: filings, Failures: failures}, nil
}

// fetchOne walks the source chain for a single filing under the
// per-fetch timeout. It always returns a Filing; failure is expressed
// through Source none plus FetchError.
func (f *Fetcher) fetchOne(parent context.Context, ref models.FilingRef) models.Filing {
	filing := models.Filing{
		FilingRef: ref,
		Source:    models.SourceNone,
		URL:       dartapi.ViewerURL(ref.RceptNo),
	}
	ctx, cancel := context.WithTimeout(parent, f.timeout)
	defer cancel()

	var attempts []string

	if route, ok := routeFor(ref); ok {
		row, err := f.structuredRow(ctx, ref, route)
		switch {
		case err != nil:
			attempts = append(attempts, "structured: "+err.Error())
		case row != nil:
			filing.StructuredData = row
			filing.Source = models.SourceStructured
			filing.FetchedAt = f.now()
			return filing
		default:
			attempts = append(attempts, fmt.Sprintf("structured: no %s row for receipt", route.endpoint))
		}
	}

	if text, err := f.archiveText(ctx, ref.RceptNo); err != nil {
		attempts = append(attempts, "archive: "+err.Error())
	} else {
		filing.Content, filing.Truncated = utils.TruncateMiddle(text, ContentBudget)
		filing.Source = models.SourceArchive
		filing.FetchedAt = f.now()
		return filing
	}

	if text, err := f.viewerText(ctx, ref.RceptNo); err != nil {
		attempts = append(attempts, "viewer: "+err.Error())
	} else {
		filing.Content, filing.Truncated = utils.TruncateMiddle(text, ContentBudget)
		filing.Source = models.SourceViewer
		filing.FetchedAt = f.now()
		return filing
	}

	filing.FetchError = strings.Join(attempts, "; ")
	filing.FetchedAt = f.now()
	return filing
}

// structuredRow fetches the detail-endpoint rows for a route and picks
// the one matching the filing's receipt number. The row list is cached
// whole; a missing row is not an error, just a miss for this source.
func (f *Fetcher) structuredRow(ctx context.Context, ref models.FilingRef, route structuredRoute) (map[string]interface{}, error) {
	cacheParams := map[string]string{"endpoint": route.endpoint}
	for k := range route.params {
		cacheParams[k] = route.params.Get(k)
	}

	payload, _, err := f.store.GetOrFetch(ctx, cache.NamespaceDocument, cacheParams, cache.DefaultTTL,
		func(ctx context.Context) ([]byte, error) {
			list, err := f.transport.StructuredJSON(ctx, route.endpoint, route.params)
			if err != nil {
				return nil, err
			}
			return json.Marshal(list.List)
		})
	if err != nil {
		return nil, err
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("FETCH_CACHE_DECODE_ERROR: endpoint=%s %v", route.endpoint, err)
	}
	for _, row := range rows {
		if no, _ := row["rcept_no"].(string); no == ref.RceptNo {
			return row, nil
		}
	}
	return nil, nil
}

// archiveText retrieves and cleans the filing's primary document from
// the ZIP archive endpoint. The cleaned full text is what gets cached.
func (f *Fetcher) archiveText(ctx context.Context, rceptNo string) (string, error) {
	payload, _, err := f.store.GetOrFetch(ctx, cache.NamespaceArchive,
		map[string]string{"rcept_no": rceptNo}, cache.DefaultTTL,
		func(ctx context.Context) ([]byte, error) {
			raw, err := f.transport.DocumentZIP(ctx, rceptNo)
			if err != nil {
				return nil, err
			}
			f.saveArchive(rceptNo, raw)
			markup, err := dartapi.ExtractDocumentXML(raw, rceptNo)
			if err != nil {
				return nil, err
			}
			cleaned := dartapi.CleanDocument(markup)
			if cleaned == "" {
				return nil, fmt.Errorf("FETCH_EMPTY_DOCUMENT: rcept_no=%s", rceptNo)
			}
			return []byte(cleaned), nil
		})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// viewerText retrieves and cleans the filing through the public web
// viewer, the last-resort source.
func (f *Fetcher) viewerText(ctx context.Context, rceptNo string) (string, error) {
	payload, _, err := f.store.GetOrFetch(ctx, cache.NamespaceDocument,
		map[string]string{"rcept_no": rceptNo, "source": "viewer"}, cache.DefaultTTL,
		func(ctx context.Context) ([]byte, error) {
			markup, err := f.transport.ViewerHTML(ctx, rceptNo)
			if err != nil {
				return nil, err
			}
			cleaned := dartapi.CleanViewerHTML(markup)
			if cleaned == "" {
				return nil, fmt.Errorf("FETCH_EMPTY_DOCUMENT: rcept_no=%s", rceptNo)
			}
			return []byte(cleaned), nil
		})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// saveArchive keeps the raw ZIP on disk when a download dir is
// configured (DART_DOWNLOAD_PATH). Failures only cost the copy.
func (f *Fetcher) saveArchive(rceptNo string, raw []byte) {
	if f.downloadDir == "" {
		return
	}
	path := filepath.Join(f.downloadDir, rceptNo+".zip")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		fmt.Printf("[FETCH] archive save failed for %s: %v\n", rceptNo, err)
	}
}
