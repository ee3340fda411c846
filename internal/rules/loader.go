package rules

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"nightwatch/internal/logger"
)

// LoadStats tracks rule loading outcomes.
type LoadStats struct {
	TotalFiles     int
	Loaded         int
	SkippedInvalid int
}

// LoadDir loads every YAML rule definition under dir. A malformed
// definition is skipped with a warning and counted; the rest of the
// rule set loads normally.
func LoadDir(dir string) ([]Rule, LoadStats, error) {
	var stats LoadStats

	resolved, err := filepath.Abs(dir)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve rule dir: %w", err)
	}
	if _, err := os.Stat(resolved); err != nil {
		return nil, stats, fmt.Errorf("stat rule dir: %w", err)
	}

	var files []string
	err = filepath.WalkDir(resolved, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		if isYAMLFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("walk rule dir: %w", err)
	}
	sort.Strings(files)

	stats.TotalFiles = len(files)
	loaded := make([]Rule, 0, len(files))
	for _, file := range files {
		rule, err := loadRuleFile(file)
		if err != nil {
			logger.Warnf("Skipping rule %s: %v", file, err)
			stats.SkippedInvalid++
			continue
		}
		loaded = append(loaded, rule)
		stats.Loaded++
	}
	return loaded, stats, nil
}

func loadRuleFile(path string) (Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return Compile(def)
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}
