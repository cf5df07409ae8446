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

// Scale source kinds accepted in SCALES.
const (
	ScaleKindSerial    = "serial"
	ScaleKindSimulated = "simulated"
	ScaleKindRemote    = "remote"
)

// Store drivers accepted in STORE_DRIVER.
const (
	StoreDriverMongo  = "mongo"
	StoreDriverMemory = "memory"
)

// Config represents the full application configuration surface.
type Config struct {
	Server     ServerConfig
	Scales     []ScaleConfig
	Stability  StabilityConfig
	Session    SessionConfig
	ANPR       ANPRConfig
	Submission SubmissionConfig
	Stream     StreamConfig
	Store      StoreConfig
	MongoDB    MongoDBConfig
	Sheets     SheetsConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port     string
	LogLevel string
}

// ScaleConfig describes one weighbridge and where its readings come from.
// Arg is the device path for serial scales and the ingest token for remote ones.
type ScaleConfig struct {
	ID        int
	Kind      string
	Arg       string
	BaudRate  int
	CameraURL string
}

// StabilityConfig tunes the steady-weight detector.
type StabilityConfig struct {
	Window      time.Duration
	MinSamples  int
	ThresholdKg float64
	ZeroBandKg  float64
}

// SessionConfig holds session lifecycle limits and the sweep schedule.
type SessionConfig struct {
	StabilityTimeout time.Duration
	Timeout          time.Duration
	SweepSchedule    string
	HistorySize      int
}

// ANPRConfig configures the plate recognition engine. An empty BaseURL selects
// the simulated recognizer.
type ANPRConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	CallbackURL string
}

// Simulated reports whether no recognition engine is configured.
func (c ANPRConfig) Simulated() bool {
	return c.BaseURL == ""
}

// SubmissionConfig bounds the persistence retry policy.
type SubmissionConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	RetryLimit     int
}

// StreamConfig holds live stream options.
type StreamConfig struct {
	BufferSize int
}

// StoreConfig selects the transaction store backend.
type StoreConfig struct {
	Driver string
}

// MongoDBConfig holds settings for MongoDB.
type MongoDBConfig struct {
	URI    string
	DBName string
}

// SheetsConfig contains configuration required to export tickets to Google Sheets.
// Export is disabled when SpreadsheetID is empty.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
	Range           string
}

// Enabled reports whether the ledger export is configured.
func (c SheetsConfig) Enabled() bool {
	return c.SpreadsheetID != ""
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Ignore the returned error here; missing .env files are acceptable when
		// configuration comes from the environment directly.
		_ = godotenv.Load()
	}

	var p parser
	cfg := &Config{
		Server: ServerConfig{
			Port:     getenvWithDefault("APP_PORT", "8080"),
			LogLevel: getenvWithDefault("LOG_LEVEL", "info"),
		},
		Stability: StabilityConfig{
			Window:      p.duration("STABILITY_WINDOW", 1500*time.Millisecond),
			MinSamples:  p.integer("STABILITY_MIN_SAMPLES", 2),
			ThresholdKg: p.float("STABILITY_THRESHOLD_KG", 5),
			ZeroBandKg:  p.float("ZERO_BAND_KG", 20),
		},
		Session: SessionConfig{
			StabilityTimeout: p.duration("STABILITY_TIMEOUT", 60*time.Second),
			Timeout:          p.duration("SESSION_TIMEOUT", 10*time.Minute),
			SweepSchedule:    getenvWithDefault("SWEEP_SCHEDULE", "@every 15s"),
			HistorySize:      p.integer("SESSION_HISTORY_SIZE", 20),
		},
		ANPR: ANPRConfig{
			BaseURL:     os.Getenv("ANPR_BASE_URL"),
			APIKey:      os.Getenv("ANPR_API_KEY"),
			Timeout:     p.duration("ANPR_TIMEOUT", 5*time.Second),
			CallbackURL: os.Getenv("ANPR_CALLBACK_URL"),
		},
		Submission: SubmissionConfig{
			MaxAttempts:    p.integer("SUBMIT_MAX_ATTEMPTS", 3),
			InitialBackoff: p.duration("SUBMIT_INITIAL_BACKOFF", 200*time.Millisecond),
			RetryLimit:     p.integer("SUBMIT_RETRY_LIMIT", 3),
		},
		Stream: StreamConfig{
			BufferSize: p.integer("STREAM_BUFFER", 64),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getenvWithDefault("STORE_DRIVER", StoreDriverMemory)),
		},
		MongoDB: MongoDBConfig{
			URI:    getenvWithDefault("MONGODB_URI", "mongodb://localhost:27017"),
			DBName: getenvWithDefault("MONGODB_DB_NAME", "stoneweigh"),
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_LEDGER_ID"),
			Range:           getenvWithDefault("GOOGLE_SHEET_LEDGER_RANGE", "Tickets!A:L"),
		},
	}
	if p.err != nil {
		return nil, p.err
	}

	scales, err := ParseScales(getenvWithDefault("SCALES", "1:simulated"))
	if err != nil {
		return nil, err
	}
	cameras, err := ParseCameras(os.Getenv("SCALE_CAMERAS"))
	if err != nil {
		return nil, err
	}
	for i := range scales {
		scales[i].CameraURL = cameras[scales[i].ID]
	}
	cfg.Scales = scales

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	if len(c.Scales) == 0 {
		return errors.New("SCALES must declare at least one scale")
	}
	seen := make(map[int]bool, len(c.Scales))
	for _, s := range c.Scales {
		if seen[s.ID] {
			return fmt.Errorf("SCALES declares scale %d twice", s.ID)
		}
		seen[s.ID] = true
		switch s.Kind {
		case ScaleKindSerial:
			if s.Arg == "" {
				return fmt.Errorf("serial scale %d needs a device path", s.ID)
			}
		case ScaleKindRemote:
			if s.Arg == "" {
				return fmt.Errorf("remote scale %d needs an ingest token", s.ID)
			}
		case ScaleKindSimulated:
		default:
			return fmt.Errorf("scale %d has unknown kind %q", s.ID, s.Kind)
		}
	}

	switch {
	case c.Stability.Window <= 0:
		return errors.New("STABILITY_WINDOW must be positive")
	case c.Stability.MinSamples < 1:
		return errors.New("STABILITY_MIN_SAMPLES must be at least 1")
	case c.Stability.ThresholdKg < 0:
		return errors.New("STABILITY_THRESHOLD_KG must not be negative")
	case c.Stability.ZeroBandKg < 0:
		return errors.New("ZERO_BAND_KG must not be negative")
	}

	if c.Session.Timeout <= 0 {
		return errors.New("SESSION_TIMEOUT must be positive")
	}
	if c.Session.SweepSchedule == "" {
		return errors.New("SWEEP_SCHEDULE must be provided")
	}

	if c.ANPR.Timeout <= 0 {
		return errors.New("ANPR_TIMEOUT must be positive")
	}

	if c.Submission.MaxAttempts < 1 {
		return errors.New("SUBMIT_MAX_ATTEMPTS must be at least 1")
	}
	if c.Submission.RetryLimit < 1 {
		return errors.New("SUBMIT_RETRY_LIMIT must be at least 1")
	}

	if c.Stream.BufferSize < 1 {
		return errors.New("STREAM_BUFFER must be at least 1")
	}

	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverMongo:
		if c.MongoDB.URI == "" {
			return errors.New("MONGODB_URI must be provided")
		}
		if c.MongoDB.DBName == "" {
			return errors.New("MONGODB_DB_NAME must be provided")
		}
	default:
		return fmt.Errorf("STORE_DRIVER %q is not supported", c.Store.Driver)
	}

	if c.Sheets.Enabled() && c.Sheets.CredentialsPath == "" {
		return errors.New("GOOGLE_SHEETS_CREDENTIALS_PATH must be provided when GOOGLE_SHEET_LEDGER_ID is set")
	}

	return nil
}

// ParseScales decodes a comma separated list of id:kind[:arg[:baud]] entries.
func ParseScales(raw string) ([]ScaleConfig, error) {
	var scales []ScaleConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("SCALES entry %q: expected id:kind", entry)
		}
		id, err := strconv.Atoi(parts[0])
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("SCALES entry %q: invalid scale id", entry)
		}
		scale := ScaleConfig{ID: id, Kind: strings.ToLower(parts[1])}
		if len(parts) > 2 {
			scale.Arg = parts[2]
		}
		if scale.Kind == ScaleKindSerial {
			scale.BaudRate = 9600
			if len(parts) > 3 {
				baud, err := strconv.Atoi(parts[3])
				if err != nil || baud <= 0 {
					return nil, fmt.Errorf("SCALES entry %q: invalid baud rate", entry)
				}
				scale.BaudRate = baud
			}
		}
		scales = append(scales, scale)
	}
	return scales, nil
}

// ParseCameras decodes a comma separated list of scaleID=cameraURL pairs.
func ParseCameras(raw string) (map[int]string, error) {
	cameras := make(map[int]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, url, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("SCALE_CAMERAS entry %q: expected id=url", entry)
		}
		scaleID, err := strconv.Atoi(strings.TrimSpace(id))
		if err != nil {
			return nil, fmt.Errorf("SCALE_CAMERAS entry %q: invalid scale id", entry)
		}
		cameras[scaleID] = strings.TrimSpace(url)
	}
	return cameras, nil
}

// Cameras returns the camera URL configured for each scale.
func (c *Config) Cameras() map[int]string {
	cameras := make(map[int]string, len(c.Scales))
	for _, s := range c.Scales {
		if s.CameraURL != "" {
			cameras[s.ID] = s.CameraURL
		}
	}
	return cameras
}

// parser records the first malformed value so Load can report it once.
type parser struct {
	err error
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return d
}

func (p *parser) integer(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return f
}

func (p *parser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
