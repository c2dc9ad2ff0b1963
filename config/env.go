package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads key=value pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key with strconv.ParseBool.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a Go duration ("750ms", "2s"). A bare integer is
// read as milliseconds.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, true, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overrides cfg with any CATALOG_* variables that are set.
func ApplyEnv(cfg *Config) error {
	strs := map[string]*string{
		"CATALOG_BASE_URL":         &cfg.BaseURL,
		"CATALOG_USER_AGENT":       &cfg.UserAgent,
		"CATALOG_CONSUMER_ID":      &cfg.ConsumerID,
		"CATALOG_KEY_VERSION":      &cfg.KeyVersion,
		"CATALOG_PRIVATE_KEY_PATH": &cfg.PrivateKeyPath,
		"CATALOG_INPUT_DIR":        &cfg.InputDir,
		"CATALOG_OUTPUT_DIR":       &cfg.OutputDir,
		"CATALOG_FORMAT":           &cfg.OutputFormat,
		"CATALOG_METRICS_ADDR":     &cfg.MetricsAddr,
		"CATALOG_LOG_FILE":         &cfg.LogFile,
	}
	ints := map[string]*int{
		"CATALOG_PAGE_SIZE":           &cfg.PageSize,
		"CATALOG_MAX_ATTEMPTS":        &cfg.MaxAttempts,
		"CATALOG_DEDUPE_MAX_SIZE":     &cfg.DedupeMaxSize,
		"CATALOG_MAX_FILENAME_LENGTH": &cfg.MaxFilenameLength,
		"CATALOG_BODY_SNIPPET_LIMIT":  &cfg.BodySnippetLimit,
	}
	durations := map[string]*time.Duration{
		"CATALOG_PAGE_DELAY":        &cfg.PageDelay,
		"CATALOG_CATEGORY_DELAY":    &cfg.CategoryDelay,
		"CATALOG_TIMEOUT":           &cfg.Timeout,
		"CATALOG_RETRY_BACKOFF":     &cfg.RetryBackoff,
		"CATALOG_RETRY_BACKOFF_MAX": &cfg.RetryBackoffMax,
	}
	bools := map[string]*bool{
		"CATALOG_SKIP_PARENTS":   &cfg.SkipParents,
		"CATALOG_DEDUP_CATEGORY": &cfg.DedupCategory,
		"CATALOG_DEDUP_SUBTREE":  &cfg.DedupSubtree,
		"CATALOG_DEDUP_MASTER":   &cfg.DedupMaster,
		"CATALOG_VERBOSE":        &cfg.Verbose,
	}

	var errs []error
	for key, dst := range strs {
		if value, ok := EnvString(key); ok {
			*dst = value
		}
	}
	for key, dst := range ints {
		if value, ok, err := EnvInt(key); err != nil {
			errs = append(errs, err)
		} else if ok {
			*dst = value
		}
	}
	for key, dst := range durations {
		if value, ok, err := EnvDuration(key); err != nil {
			errs = append(errs, err)
		} else if ok {
			*dst = value
		}
	}
	for key, dst := range bools {
		if value, ok, err := EnvBool(key); err != nil {
			errs = append(errs, err)
		} else if ok {
			*dst = value
		}
	}
	return errors.Join(errs...)
}
