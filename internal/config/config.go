package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	Attempts   int           `yaml:"attempts"`    // total tries per request
	Backoff    time.Duration `yaml:"backoff"`     // first wait, doubled per retry
	MaxBackoff time.Duration `yaml:"max_backoff"` // cap
	UserAgent  string        `yaml:"user_agent"`
}

// Identity is what the upstream queries filter on.
type Identity struct {
	KernelEmail string `yaml:"kernel_email"`
	GitHubUser  string `yaml:"github_user"`
	GitHubToken string `yaml:"github_token"`
	DevtoUser   string `yaml:"devto_user"`
	JiraJQL     string `yaml:"jira_jql"`
}

type IngestConfig struct {
	MaxPages  int           `yaml:"max_pages"`
	Sleep     time.Duration `yaml:"sleep"`      // pause between page requests; negative disables
	EarlyStop int           `yaml:"early_stop"` // contiguous known events before pagination stops; negative disables
}

type AnalyticsConfig struct {
	Months int    `yaml:"months"` // trailing buckets
	Width  string `yaml:"width"`  // month | day
	Recent int    `yaml:"recent"`
}

type SourceConfig struct {
	Type     string `yaml:"type"` // github | github_commits | jira | devto | gitkernel | lore
	Name     string `yaml:"name"` // defaults to Type
	BaseURL  string `yaml:"base_url"`
	Repo     string `yaml:"repo"` // gitkernel repo path, or owner/name for github_commits
	List     string `yaml:"list"` // lore inbox, default "all"
	// CommitURL is a printf template with one %s for the commit sha. Commit
	// sources feeding the same store must agree on it.
	CommitURL string `yaml:"commit_url"`
	PageSize int    `yaml:"page_size"`
	MaxPages int    `yaml:"max_pages"` // overrides ingest.max_pages when > 0
	Disabled bool   `yaml:"disabled"`
}

type KeywordRule struct {
	When  []string          `yaml:"when"`  // case-insensitive substrings, all must appear in the title
	Attrs map[string]string `yaml:"attrs"` // attributes to set when matched
}

type RegexRule struct {
	Field string            `yaml:"field"` // title | url | any attribute name
	Expr  string            `yaml:"expr"`
	Attrs map[string]string `yaml:"attrs"`
}

type MapRule struct {
	Field   string            `yaml:"field"`
	Mapping map[string]string `yaml:"mapping"`
	OutKey  string            `yaml:"out_key"` // attribute to write, defaults to Field
}

type PostProcessConfig struct {
	Keywords []KeywordRule `yaml:"keywords"`
	Regex    []RegexRule   `yaml:"regex"`
	Maps     []MapRule     `yaml:"maps"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // node-exporter textfile path; empty disables
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type Config struct {
	DataDir   string            `yaml:"data_dir"`
	Identity  Identity          `yaml:"identity"`
	HTTP      HTTPConfig        `yaml:"http"`
	Ingest    IngestConfig      `yaml:"ingest"`
	Analytics AnalyticsConfig   `yaml:"analytics"`
	Sources   []SourceConfig    `yaml:"sources"`
	Post      PostProcessConfig `yaml:"postprocess"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	Log       LogConfig         `yaml:"log"`
}

// SourceTypes lists the adapters built when no sources are configured.
var SourceTypes = []string{"github", "jira", "devto", "gitkernel", "lore"}

// LoadDotEnv loads KEY=VALUE files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	c.Defaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("CONTRIB_DATA_DIR", &c.DataDir)
	str("KERNEL_EMAIL", &c.Identity.KernelEmail)
	str("GITHUB_USER", &c.Identity.GitHubUser)
	str("GITHUB_TOKEN", &c.Identity.GitHubToken)
	str("DEVTO_USER", &c.Identity.DevtoUser)
	str("JIRA_JQL", &c.Identity.JiraJQL)
	str("USER_AGENT", &c.HTTP.UserAgent)
	str("LOG_LEVEL", &c.Log.Level)

	var errs []error
	errs = append(errs,
		num("MAX_PAGES", &c.Ingest.MaxPages),
		num("EARLY_STOP_THRESHOLD", &c.Ingest.EarlyStop),
		num("BUCKET_MONTHS", &c.Analytics.Months),
	)
	if v, ok := lookup("EARLY_STOP_THRESHOLD"); ok && strings.TrimSpace(v) == "0" {
		c.Ingest.EarlyStop = -1
	}
	if v, ok := lookup("SLEEP_BETWEEN_REQUESTS"); ok && strings.TrimSpace(v) != "" {
		secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || secs < 0 {
			errs = append(errs, fmt.Errorf("SLEEP_BETWEEN_REQUESTS: invalid seconds %q", v))
		} else if secs == 0 {
			c.Ingest.Sleep = -1
		} else {
			c.Ingest.Sleep = time.Duration(secs * float64(time.Second))
		}
	}
	return errors.Join(errs...)
}

// Defaults fills every unset field.
func (c *Config) Defaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 20 * time.Second
	}
	if c.HTTP.Attempts == 0 {
		c.HTTP.Attempts = 3
	}
	if c.HTTP.Backoff == 0 {
		c.HTTP.Backoff = time.Second
	}
	if c.HTTP.MaxBackoff == 0 {
		c.HTTP.MaxBackoff = 8 * time.Second
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = "Mozilla/5.0 (compatible; contribs/1.0; +https://github.com/aheev)"
	}
	if c.Ingest.MaxPages == 0 {
		c.Ingest.MaxPages = 8
	}
	if c.Ingest.Sleep == 0 {
		c.Ingest.Sleep = 800 * time.Millisecond
	}
	if c.Ingest.EarlyStop == 0 {
		c.Ingest.EarlyStop = 10
	}
	if c.Analytics.Months == 0 {
		c.Analytics.Months = 24
	}
	if c.Analytics.Width == "" {
		c.Analytics.Width = "month"
	}
	if c.Analytics.Recent == 0 {
		c.Analytics.Recent = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if len(c.Sources) == 0 {
		for _, t := range SourceTypes {
			c.Sources = append(c.Sources, SourceConfig{Type: t})
		}
	}
	for i := range c.Sources {
		if c.Sources[i].Name == "" {
			c.Sources[i].Name = c.Sources[i].Type
		}
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Ingest.MaxPages < 1 {
		errs = append(errs, fmt.Errorf("ingest.max_pages must be positive, got %d", c.Ingest.MaxPages))
	}
	if c.Analytics.Months < 1 {
		errs = append(errs, fmt.Errorf("analytics.months must be positive, got %d", c.Analytics.Months))
	}
	if c.HTTP.Attempts < 1 {
		errs = append(errs, fmt.Errorf("http.attempts must be positive, got %d", c.HTTP.Attempts))
	}
	names := map[string]bool{}
	for _, s := range c.Sources {
		if strings.TrimSpace(s.Type) == "" {
			errs = append(errs, errors.New("source without type"))
			continue
		}
		if t := s.CommitURL; t != "" && (strings.Count(t, "%") != 1 || !strings.Contains(t, "%s")) {
			errs = append(errs, fmt.Errorf("source %q: commit_url needs exactly one %%s", s.Name))
		}
		if names[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate source name %q", s.Name))
		}
		names[s.Name] = true
	}
	return errors.Join(errs...)
}
