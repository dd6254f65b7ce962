package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadFromDirectory loads all prompt JSON files from a directory tree.
// Expected structure:
//
//	baseDir/
//	  prompts/
//	    pipeline/
//	      expand.json
//	      filter.json
func LoadFromDirectory(baseDir string) error {
	registry := Get()

	promptDir := filepath.Join(baseDir, "prompts")
	if err := loadPrompts(registry, promptDir); err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}

	fmt.Printf("[PROMPT] Loaded %d prompts from %s\n", registry.Count(), baseDir)
	return nil
}

// loadPrompts recursively loads all .json files from the prompts directory
func loadPrompts(r *Registry, dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("prompts directory not found: %s", dir)
	}

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		var pt PromptTemplate
		if err := json.Unmarshal(data, &pt); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		// Auto-generate ID and category from the path if not specified,
		// e.g. "prompts/pipeline/expand.json" registers "pipeline.expand".
		if pt.ID == "" {
			pt.ID = generateIDFromPath(path, dir)
		}
		if pt.Category == "" {
			pt.Category = detectCategory(path, dir)
		}

		if err := r.Register(&pt); err != nil {
			return fmt.Errorf("failed to register %s: %w", pt.ID, err)
		}

		return nil
	})
}

func generateIDFromPath(path string, baseDir string) string {
	relPath, _ := filepath.Rel(baseDir, path)
	relPath = strings.TrimSuffix(relPath, ".json")
	relPath = strings.ReplaceAll(relPath, string(filepath.Separator), ".")
	return relPath
}

func detectCategory(path string, baseDir string) string {
	relPath, _ := filepath.Rel(baseDir, path)
	parts := strings.Split(relPath, string(filepath.Separator))
	if len(parts) > 1 {
		return parts[0]
	}
	return "default"
}
