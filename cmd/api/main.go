package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dart_deepsearch/pkg/api/company"
	configapi "dart_deepsearch/pkg/api/config"
	"dart_deepsearch/pkg/api/deepsearch"
	"dart_deepsearch/pkg/core/agent"
	"dart_deepsearch/pkg/core/cache"
	"dart_deepsearch/pkg/core/dartapi"
	"dart_deepsearch/pkg/core/expand"
	"dart_deepsearch/pkg/core/fetch"
	"dart_deepsearch/pkg/core/pipeline"
	"dart_deepsearch/pkg/core/prompt"
	"dart_deepsearch/pkg/core/search"
	"dart_deepsearch/pkg/core/store"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const version = "1.0.0"

var agentMgr *agent.Manager

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize Prompt Library
	// Determine resources path (relative to executable or working directory)
	resourcesPath := "resources"
	if _, err := os.Stat(resourcesPath); os.IsNotExist(err) {
		// Try from executable directory
		exePath, _ := os.Executable()
		resourcesPath = filepath.Join(filepath.Dir(exePath), "resources")
	}
	if err := prompt.LoadFromDirectory(resourcesPath); err != nil {
		fmt.Printf("[WARNING] Failed to load prompt library: %v\n", err)
		fmt.Println("  Falling back to hardcoded prompts")
	}

	// Initialize manager from config
	configData, _ := os.ReadFile("config/models.yaml")
	var agentCfg agent.Config
	yaml.Unmarshal(configData, &agentCfg)
	agentMgr = agent.NewManager(agentCfg)

	apiKey := os.Getenv("DART_API_KEY")
	if apiKey == "" {
		fmt.Println("[WARNING] DART_API_KEY is not set; OpenDART requests will be rejected")
	}

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
	if os.Getenv("GEMINI_API_KEY") != "" {
		if extractor, err := expand.NewStructuredExtractor(context.Background()); err == nil {
			pipeCfg.Extractor = extractor
			fmt.Println("[EXPAND] Direct JSON-mode extraction enabled")
		} else {
			fmt.Printf("[WARNING] Structured extractor unavailable: %v\n", err)
		}
	}
	orch := pipeline.New(pipeCfg)

	// Run history is optional; the pipeline works without a database.
	var runRepo *store.RunRepo
	if os.Getenv("DATABASE_URL") != "" {
		if err := store.InitDB(context.Background()); err != nil {
			fmt.Printf("[WARNING] Run history disabled: %v\n", err)
		} else {
			runRepo = store.NewRunRepo()
			fmt.Println("[STORE] Run history enabled")
		}
	}

	// Deep search endpoints
	searchHandler := deepsearch.NewHandler(orch, runRepo)
	http.HandleFunc("/api/search/deep", searchHandler.HandleDeepSearch)
	http.HandleFunc("/api/search/runs", searchHandler.HandleRuns)

	// Company directory endpoints
	companyHandler := company.NewHandler(dartapi.NewDirectory(transport, contentCache))
	http.HandleFunc("/api/company/lookup", companyHandler.HandleLookup)

	// Config endpoints
	configHandler := configapi.NewHandler(agentMgr)
	http.HandleFunc("/api/config", configHandler.HandleConfig)
	http.HandleFunc("/api/config/switch", configHandler.HandleSwitch)

	http.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "{\"status\":\"ok\",\"version\":%q}\n", version)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	fmt.Printf("API server starting on :%s...\n", port)
	fmt.Println("  - POST /api/search/deep")
	fmt.Println("  - GET  /api/search/runs")
	fmt.Println("  - GET  /api/company/lookup")
	fmt.Println("  - GET  /api/config")
	fmt.Println("  - POST /api/config/switch")
	fmt.Println("  - GET  /api/health")

	// Use log.Fatal to print error and exit with code 1 if it fails (e.g. port in use)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		fmt.Printf("[FATAL] Server failed to start: %v\n", err)
		os.Exit(1)
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
