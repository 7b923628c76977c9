package conf

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var (
	Path string
	Port int
)

func LoadEnv(cli *cli.Context) error {
	path := cli.String("path")
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		path = homeDir + "/.flarex/tagger"
	}

	Path = path
	Port = cli.Int("port")
	return nil
}

func LoadConfig() (*Config, error) {
	f, err := os.Open(Path + "/config.yaml")
	if err != nil {
		f, err = os.Open(Path + "/config.example.yaml")
		if err != nil {
			return nil, err
		}
	}
	defer f.Close()

	r, err := NewEnvExpandedReader(f)
	if err != nil {
		return nil, err
	}

	var cfg *Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.Defaults()
	return cfg, nil
}

// Defaults fills the sections omitted from the config file.
func (cfg *Config) Defaults() {
	if cfg.Name == "" {
		cfg.Name = "tagger"
	}

	if cfg.Persistence.Name == "" {
		cfg.Persistence.Name = "tagger"
	}

	if cfg.Persistence.Host == "" {
		cfg.Persistence.Host = Path
	}

	if cfg.Queue.Name == "" {
		cfg.Queue.Name = "tagger"
	}

	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 1
	}

	if cfg.Queue.Timeout <= 0 {
		cfg.Queue.Timeout = 30 * time.Minute
	}

	if cfg.Queue.Redis.Addr == "" {
		cfg.Queue.Redis.Addr = "localhost:6379"
	}

	if cfg.EventBus.Subject == "" {
		cfg.EventBus.Subject = "tagger.updates"
	}

	if cfg.EventBus.Redis.Addr == "" {
		cfg.EventBus.Redis.Addr = cfg.Queue.Redis.Addr
	}

	if cfg.Library.PathTemplate == "" {
		cfg.Library.PathTemplate = DefaultPathTemplate
	}

	if cfg.Library.DuplicateAction == "" {
		cfg.Library.DuplicateAction = "skip"
	}

	cfg.Match.Defaults()

	if cfg.MusicBrainz.BaseURL == "" {
		cfg.MusicBrainz.Enabled = true
		cfg.MusicBrainz.BaseURL = "https://musicbrainz.org"
	}

	if cfg.MusicBrainz.RateLimit <= 0 {
		cfg.MusicBrainz.RateLimit = 1
	}

	if cfg.MusicBrainz.CacheTTL <= 0 {
		cfg.MusicBrainz.CacheTTL = 10 * time.Minute
	}

	if cfg.MusicBrainz.UserAgent == "" {
		cfg.MusicBrainz.UserAgent = "flarexio-tagger/0.0.0 ( https://github.com/flarexio/tagger )"
	}
}

// FindInbox returns the inbox whose root contains path.
func (cfg *Config) FindInbox(path string) (Inbox, bool) {
	path = filepath.Clean(path)
	for _, inbox := range cfg.Inboxes {
		if inbox.Contains(path) {
			return inbox, true
		}
	}

	return Inbox{}, false
}

// NewEnvExpandedReader replaces ${VAR} and $VAR references with values
// from the environment.
func NewEnvExpandedReader(r io.Reader) (io.Reader, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(raw))
	return bytes.NewBufferString(expanded), nil
}

type Config struct {
	Name        string      `yaml:"name"`
	BaseURL     string      `yaml:"baseUrl"`
	Persistence Persistence `yaml:"persistence"`
	Queue       Queue       `yaml:"queue"`
	EventBus    EventBus    `yaml:"eventBus"`
	Inboxes     []Inbox     `yaml:"inboxes"`
	Library     Library     `yaml:"library"`
	Match       Match       `yaml:"match"`
	MusicBrainz MusicBrainz `yaml:"musicbrainz"`
	Frontend    Frontend    `yaml:"frontend"`
}

type PersistenceDriver int

const (
	SQLite PersistenceDriver = iota
)

func ParsePersistenceDriver(driver string) (PersistenceDriver, error) {
	switch driver {
	case "sqlite", "":
		return SQLite, nil
	default:
		return -1, errors.New("driver not supported")
	}
}

func (driver PersistenceDriver) String() string {
	switch driver {
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

type Persistence struct {
	Driver PersistenceDriver
	Name   string
	Host   string
	InMem  bool
}

func (p *Persistence) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Driver string `yaml:"driver"`
		Name   string `yaml:"name"`
		Host   string `yaml:"host"`
		InMem  bool   `yaml:"inmem"`
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	driver, err := ParsePersistenceDriver(raw.Driver)
	if err != nil {
		return err
	}

	p.Driver = driver

	p.Name = raw.Name
	if p.Name == "" {
		p.Name = "tagger"
	}

	p.Host = raw.Host
	if raw.Host == "" {
		p.Host = Path
	}

	p.InMem = raw.InMem

	return nil
}

type QueueDriver int

const (
	InMemQueue QueueDriver = iota
	Asynq
)

func ParseQueueDriver(driver string) (QueueDriver, error) {
	switch driver {
	case "asynq", "redis":
		return Asynq, nil
	case "inmem", "":
		return InMemQueue, nil
	default:
		return -1, errors.New("queue driver not supported")
	}
}

func (driver QueueDriver) String() string {
	switch driver {
	case Asynq:
		return "asynq"
	case InMemQueue:
		return "inmem"
	default:
		return "unknown"
	}
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Queue struct {
	Driver      QueueDriver
	Name        string
	Concurrency int
	Timeout     time.Duration
	Redis       Redis
}

func (q *Queue) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Driver      string `yaml:"driver"`
		Name        string `yaml:"name"`
		Concurrency int    `yaml:"concurrency"`
		Timeout     string `yaml:"timeout"`
		Redis       Redis  `yaml:"redis"`
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	driver, err := ParseQueueDriver(raw.Driver)
	if err != nil {
		return err
	}

	q.Driver = driver

	q.Name = raw.Name
	if q.Name == "" {
		q.Name = "tagger"
	}

	q.Concurrency = raw.Concurrency
	if q.Concurrency <= 0 {
		q.Concurrency = 1
	}

	if raw.Timeout == "" {
		q.Timeout = 30 * time.Minute
	} else {
		timeout, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return err
		}

		q.Timeout = timeout
	}

	q.Redis = raw.Redis
	if q.Redis.Addr == "" {
		q.Redis.Addr = "localhost:6379"
	}

	return nil
}

type BusProvider int

const (
	InMemBus BusProvider = iota
	RedisBus
	NATS
)

func ParseBusProvider(provider string) (BusProvider, error) {
	switch provider {
	case "inmem", "":
		return InMemBus, nil
	case "redis":
		return RedisBus, nil
	case "nats":
		return NATS, nil
	default:
		return -1, errors.New("provider not supported")
	}
}

func (p BusProvider) String() string {
	switch p {
	case InMemBus:
		return "inmem"
	case RedisBus:
		return "redis"
	case NATS:
		return "nats"
	default:
		return ""
	}
}

type EventBus struct {
	Provider BusProvider
	Subject  string
	URL      string
	Redis    Redis
}

func (e *EventBus) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Provider string `yaml:"provider"`
		Subject  string `yaml:"subject"`
		URL      string `yaml:"url"`
		Redis    Redis  `yaml:"redis"`
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	provider, err := ParseBusProvider(raw.Provider)
	if err != nil {
		return err
	}

	e.Provider = provider

	e.Subject = raw.Subject
	if e.Subject == "" {
		e.Subject = "tagger.updates"
	}

	e.URL = raw.URL
	e.Redis = raw.Redis
	if e.Redis.Addr == "" {
		e.Redis.Addr = "localhost:6379"
	}

	return nil
}

type AutoTagMode int

const (
	AutoTagOff AutoTagMode = iota
	AutoTagPreview
	AutoTagImport
)

func ParseAutoTagMode(mode string) (AutoTagMode, error) {
	switch mode {
	case "off", "":
		return AutoTagOff, nil
	case "preview":
		return AutoTagPreview, nil
	case "auto":
		return AutoTagImport, nil
	default:
		return -1, errors.New("invalid autotag mode")
	}
}

func (m AutoTagMode) String() string {
	switch m {
	case AutoTagOff:
		return "off"
	case AutoTagPreview:
		return "preview"
	case AutoTagImport:
		return "auto"
	default:
		return "unknown"
	}
}

type Inbox struct {
	Name      string
	Path      string
	AutoTag   AutoTagMode
	Threshold float64
	Debounce  time.Duration
}

func (i *Inbox) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name      string  `yaml:"name"`
		Path      string  `yaml:"path"`
		AutoTag   string  `yaml:"autotag"`
		Threshold float64 `yaml:"threshold"`
		Debounce  string  `yaml:"debounce"`
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.Path == "" {
		return errors.New("inbox path is required")
	}

	mode, err := ParseAutoTagMode(raw.AutoTag)
	if err != nil {
		return err
	}

	i.Path = filepath.Clean(raw.Path)

	i.Name = raw.Name
	if i.Name == "" {
		i.Name = filepath.Base(i.Path)
	}

	i.AutoTag = mode
	i.Threshold = raw.Threshold

	if raw.Debounce == "" {
		i.Debounce = 30 * time.Second
	} else {
		debounce, err := time.ParseDuration(raw.Debounce)
		if err != nil {
			return err
		}

		i.Debounce = debounce
	}

	return nil
}

// Contains reports whether path is the inbox root or lies below it.
func (i Inbox) Contains(path string) bool {
	rel, err := filepath.Rel(i.Path, filepath.Clean(path))
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// TopLevel returns the direct child of the inbox root that contains path.
func (i Inbox) TopLevel(path string) (string, bool) {
	rel, err := filepath.Rel(i.Path, filepath.Clean(path))
	if err != nil || rel == "." || !i.Contains(path) {
		return "", false
	}

	first := strings.Split(rel, string(filepath.Separator))[0]
	return filepath.Join(i.Path, first), true
}

type Library struct {
	Directory       string `yaml:"directory"`
	PathTemplate    string `yaml:"pathTemplate"`
	Copy            bool   `yaml:"copy"`
	DuplicateAction string `yaml:"duplicateAction"`
}

const DefaultPathTemplate = "$albumartist/$album/$track $title"

type Match struct {
	StrongThreshold float64 `yaml:"strongThreshold"`
	MediumThreshold float64 `yaml:"mediumThreshold"`
	MaxCandidates   int     `yaml:"maxCandidates"`
}

func (m *Match) UnmarshalYAML(value *yaml.Node) error {
	type plain Match

	var raw plain
	if err := value.Decode(&raw); err != nil {
		return err
	}

	*m = Match(raw)
	m.Defaults()

	return nil
}

func (m *Match) Defaults() {
	if m.StrongThreshold <= 0 {
		m.StrongThreshold = 0.04
	}

	if m.MediumThreshold <= 0 {
		m.MediumThreshold = 0.25
	}

	if m.MaxCandidates <= 0 {
		m.MaxCandidates = 5
	}
}

type MusicBrainz struct {
	Enabled   bool
	BaseURL   string
	UserAgent string
	RateLimit float64
	CacheTTL  time.Duration
}

func (mb *MusicBrainz) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Enabled   *bool   `yaml:"enabled"`
		BaseURL   string  `yaml:"baseURL"`
		UserAgent string  `yaml:"userAgent"`
		RateLimit float64 `yaml:"rateLimit"`
		CacheTTL  string  `yaml:"cacheTTL"`
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	mb.Enabled = true
	if raw.Enabled != nil {
		mb.Enabled = *raw.Enabled
	}

	mb.BaseURL = raw.BaseURL
	if mb.BaseURL == "" {
		mb.BaseURL = "https://musicbrainz.org"
	}

	mb.UserAgent = raw.UserAgent
	if mb.UserAgent == "" {
		mb.UserAgent = "flarexio-tagger/0.0.0 ( https://github.com/flarexio/tagger )"
	}

	mb.RateLimit = raw.RateLimit
	if mb.RateLimit <= 0 {
		mb.RateLimit = 1
	}

	if raw.CacheTTL == "" {
		mb.CacheTTL = 10 * time.Minute
	} else {
		ttl, err := time.ParseDuration(raw.CacheTTL)
		if err != nil {
			return err
		}

		mb.CacheTTL = ttl
	}

	return nil
}

type Frontend struct {
	Dir string `yaml:"dir"`
}
