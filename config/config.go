package config

import (
	"fmt"
	"net/url"
	"time"
)

// MaxAttemptsLimit bounds the per-request attempt ceiling.
const MaxAttemptsLimit = 100

// Config holds catalog sweep configuration.
type Config struct {
	BaseURL         string
	PageSize        int
	PageDelay       time.Duration
	CategoryDelay   time.Duration
	Timeout         time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	UserAgent       string

	ConsumerID     string
	KeyVersion     string
	PrivateKeyPath string

	InputDir     string
	OutputDir    string
	OutputFormat string // csv or dual
	SkipParents  bool

	DedupCategory bool
	DedupSubtree  bool
	DedupMaster   bool
	DedupeMaxSize int

	MaxFilenameLength int
	BodySnippetLimit  int

	Verbose     bool
	MetricsAddr string
	LogFile     string
}

// DefaultConfig returns conservative defaults for the affiliate catalog API.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "https://developer.api.walmart.com/api-proxy/service/affil/product/v2/paginated/items",
		PageSize:          400,
		PageDelay:         500 * time.Millisecond,
		CategoryDelay:     time.Second,
		Timeout:           30 * time.Second,
		MaxAttempts:       5,
		RetryBackoff:      time.Second,
		RetryBackoffMax:   time.Minute,
		UserAgent:         "go-catalog-sweep/1.0",
		KeyVersion:        "1",
		InputDir:          "subtrees",
		OutputDir:         "output",
		OutputFormat:      "csv",
		SkipParents:       true,
		DedupCategory:     false,
		DedupSubtree:      true,
		DedupMaster:       true,
		DedupeMaxSize:     2_000_000,
		MaxFilenameLength: 80,
		BodySnippetLimit:  500,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.PageDelay < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if c.CategoryDelay < 0 {
		return fmt.Errorf("category delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.MaxAttempts > MaxAttemptsLimit {
		return fmt.Errorf("max attempts cannot exceed %d", MaxAttemptsLimit)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.KeyVersion == "" {
		return fmt.Errorf("key version cannot be empty")
	}
	if c.InputDir == "" {
		return fmt.Errorf("input dir cannot be empty")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv or dual")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.MaxFilenameLength < 8 {
		return fmt.Errorf("max filename length must be at least 8")
	}
	if c.BodySnippetLimit < 0 {
		return fmt.Errorf("body snippet limit cannot be negative")
	}

	return nil
}

// ValidateCredentials checks the fields needed to sign requests.
// Kept apart from Validate so offline tooling can validate the rest.
func (c *Config) ValidateCredentials() error {
	if c.ConsumerID == "" {
		return fmt.Errorf("consumer id cannot be empty")
	}
	if c.PrivateKeyPath == "" {
		return fmt.Errorf("private key path cannot be empty")
	}
	return nil
}
