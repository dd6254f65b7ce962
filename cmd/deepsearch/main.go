package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"dart_deepsearch/pkg/core/agent"
	"dart_deepsearch/pkg/core/cache"
	"dart_deepsearch/pkg/core/dartapi"
	"dart_deepsearch/pkg/core/expand"
	"dart_deepsearch/pkg/core/fetch"
	"dart_deepsearch/pkg/core/pipeline"
	"dart_deepsearch/pkg/core/prompt"
	"dart_deepsearch/pkg/core/search"
	"dart_deepsearch/pkg/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const maxDocumentRows = 10

func main() {
	query := flag.String("query", "", "question to answer from DART filings (required)")
	attempts := flag.Int("attempts", 0, "max search attempts (default 3)")
	limit := flag.Int("limit", 0, "max results per sub-query search")
	timeout := flag.Duration("timeout", 120*time.Second, "overall run timeout")
	lang := flag.String("lang", "", "answer language hint (default Korean)")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, assuming environment variables are set.")
	}

	if strings.TrimSpace(*query) == "" {
		flag.Usage()
		os.Exit(2)
	}

	apiKey := os.Getenv("DART_API_KEY")
	if apiKey == "" {
		log.Fatal("Error: DART_API_KEY is not set.")
	}

	// Prompt library is optional here; stages carry hardcoded fallbacks.
	if _, err := os.Stat("resources"); err == nil {
		prompt.LoadFromDirectory("resources")
	}

	configData, _ := os.ReadFile("config/models.yaml")
	var agentCfg agent.Config
	yaml.Unmarshal(configData, &agentCfg)
	agentMgr := agent.NewManager(agentCfg)

	fmt.Println("🔍 DART Deep Search Starting...")
	fmt.Printf("📂 Query: %s\n", *query)

	cacheDir := os.Getenv("DART_CACHE_PATH")
	if cacheDir == "" {
		cacheDir = ".cache/dart"
	}
	contentCache := cache.New(0, cacheDir)

	client := dartapi.NewClient(dartapi.ClientConfig{
		QuotaHosts: dartapi.Quota(envInt("DART_API_RATE_LIMIT", 0)),
	})
	transport := dartapi.NewTransport(client, apiKey)

	pipeCfg := pipeline.Config{
		Transport: transport,
		Store:     contentCache,
		Runner:    agentMgr,
		Search: search.Options{
			MaxToFilter: envInt("DART_MAX_SEARCH_RESULTS", 0),
		},
		Fetch: fetch.Options{
			Parallel:    envInt("DART_PARALLEL_DOWNLOADS", 0),
			Timeout:     time.Duration(envInt("DART_PARSE_TIMEOUT_MS", 0)) * time.Millisecond,
			DownloadDir: os.Getenv("DART_DOWNLOAD_PATH"),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if os.Getenv("GEMINI_API_KEY") != "" {
		if extractor, err := expand.NewStructuredExtractor(ctx); err == nil {
			pipeCfg.Extractor = extractor
			defer extractor.Close()
		} else {
			log.Printf("Warning: structured extractor unavailable: %v", err)
		}
	}
	orch := pipeline.New(pipeCfg)

	env, err := orch.DeepSearch(ctx, *query, pipeline.RunOptions{
		MaxAttempts:         *attempts,
		MaxResultsPerSearch: *limit,
		Language:            *lang,
	})

	printReport(env)

	if err != nil {
		fmt.Printf("\n[FATAL] Deep search failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\n[Done] Deep search complete.")
}

func printReport(env *models.Envelope) {
	fmt.Println("\n################################################################################")
	fmt.Println("                       DART DEEP SEARCH - RESULT REPORT")
	fmt.Printf("                       Run: %s\n", env.Telemetry.RunID)
	fmt.Println("################################################################################")

	fmt.Println("\n[1] ANSWER")
	fmt.Println(env.Answer)

	fmt.Println("\n[2] SUMMARY")
	fmt.Printf("Documents:        %d\n", env.Summary.TotalDocuments)
	if env.Summary.DateRange.Begin != "" || env.Summary.DateRange.End != "" {
		fmt.Printf("Date Range:       %s ~ %s\n", env.Summary.DateRange.Begin, env.Summary.DateRange.End)
	}
	if len(env.Summary.Companies) > 0 {
		fmt.Printf("Companies:        %s\n", strings.Join(env.Summary.Companies, ", "))
	}
	fmt.Printf("Confidence:       %s\n", env.Summary.Confidence)

	if len(env.Documents) > 0 {
		fmt.Println("\n[3] DOCUMENTS")
		fmt.Printf("%-15s | %-8s | %-12s | %s\n", "Receipt No", "Date", "Company", "Report")
		fmt.Println(strings.Repeat("-", 80))
		for i, d := range env.Documents {
			if i >= maxDocumentRows {
				fmt.Printf("... and %d more\n", len(env.Documents)-maxDocumentRows)
				break
			}
			fmt.Printf("%-15s | %-8s | %-12s | %s\n", d.RceptNo, d.RceptDt, d.CorpName, d.ReportNm)
		}
		fmt.Println(strings.Repeat("-", 80))
	}

	fmt.Println("\n[4] TELEMETRY")
	fmt.Printf("Attempts:         %d\n", env.Telemetry.Attempts)
	fmt.Printf("LLM Calls:        %d\n", env.Telemetry.LLMCalls)
	fmt.Printf("Cache Hit Rate:   %.0f%%\n", env.Telemetry.CacheHitRate*100)
	fmt.Printf("Duration:         %d ms\n", env.Telemetry.DurationMS)
	for _, stage := range []string{"expand", "search", "filter", "fetch", "sufficiency", "synthesize"} {
		if ms, ok := env.Telemetry.StageLatencyMS[stage]; ok {
			fmt.Printf("  %-13s %6d ms\n", stage, ms)
		}
	}

	if len(env.Telemetry.PartialFailures) > 0 {
		fmt.Println("\n[5] PARTIAL FAILURES")
		for _, pf := range env.Telemetry.PartialFailures {
			fmt.Printf("%-12s %s: %s\n", pf.Phase, pf.Kind, pf.Message)
		}
	}

	if env.Error != nil {
		fmt.Printf("\n[ERROR] %s: %s\n", env.Error.Kind, env.Error.Message)
	}
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
