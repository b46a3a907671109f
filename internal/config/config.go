package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed slots.yaml
var slotsYAML []byte

var validate = validator.New()

type Config struct {
	Hardware  HardwareConfig
	Layout    SlotLayout
	Storage   StorageConfig
	Database  DatabaseConfig
	Embedding EmbeddingConfig
	Match     MatchConfig
	Enroll    EnrollConfig
	Log       LogConfig
	Web       WebConfig
}

type HardwareConfig struct {
	Mode          string        // "real" or "simulated", defaults to simulated
	Chip          string        // GPIO character device, defaults to gpiochip0
	PollInterval  time.Duration // sensor poll period, defaults to 1s
	ReadRetries   int           // extra sensor reads before a slot is reported unknown
	UnlockPulse   time.Duration // how long a lock stays released on open
	PolarityEnv   string        // SENSOR_POLARITY override of the layout polarity
	SlotsFilePath string        // optional layout file replacing the embedded one
}

// SlotLayout maps locker slots to their sensor and lock lines.
type SlotLayout struct {
	Polarity string    `yaml:"polarity" validate:"required,oneof=high-available high-occupied"`
	Slots    []SlotPin `yaml:"slots" validate:"required,min=1,unique=ID,dive"`
}

type SlotPin struct {
	ID        int `yaml:"id" validate:"min=1"`
	SensorPin int `yaml:"sensor_pin" validate:"min=0"`
	LockPin   int `yaml:"lock_pin" validate:"min=0"`
}

// IDs returns the configured slot ids in ascending order.
func (l SlotLayout) IDs() []int {
	ids := make([]int, 0, len(l.Slots))
	for _, s := range l.Slots {
		ids = append(ids, s.ID)
	}
	sort.Ints(ids)
	return ids
}

// Pin returns the pin assignment for a slot.
func (l SlotLayout) Pin(slotID int) (SlotPin, bool) {
	for _, s := range l.Slots {
		if s.ID == slotID {
			return s, true
		}
	}
	return SlotPin{}, false
}

type StorageConfig struct {
	Backend       string // "file" or "postgres"
	DataDir       string
	DatasetDir    string // <slot>/<images> enrollment photos
	EmbeddingsDir string // directory owning the store artifact, cleared on reset
	StoreFile     string
	CounterFile   string
	LockFile      string // flock target for the store, kept outside cleared dirs
	MaintLockFile string // serializes enrollment and reset
}

// Validate rejects storage layouts where reset would clear more than the
// dataset and embeddings contents: the two directories must be disjoint, the
// file store must live inside the embeddings directory, and the counter and
// lock files must live outside both.
func (s StorageConfig) Validate() error {
	if s.DatasetDir == "" || s.EmbeddingsDir == "" {
		return errors.New("invalid storage layout: dataset and embeddings directories are required")
	}
	if within(s.DatasetDir, s.EmbeddingsDir) || within(s.EmbeddingsDir, s.DatasetDir) {
		return fmt.Errorf("invalid storage layout: DATASET_DIR %s and EMBEDDINGS_DIR %s overlap", s.DatasetDir, s.EmbeddingsDir)
	}
	if s.Backend == "" || s.Backend == "file" {
		if s.StoreFile == "" || !within(s.EmbeddingsDir, s.StoreFile) || samePath(s.EmbeddingsDir, s.StoreFile) {
			return fmt.Errorf("invalid storage layout: STORE_FILE %s must be inside EMBEDDINGS_DIR %s", s.StoreFile, s.EmbeddingsDir)
		}
	}
	files := []struct{ name, path string }{
		{"COUNTER_FILE", s.CounterFile},
		{"LOCK_FILE", s.LockFile},
		{"MAINTENANCE_LOCK_FILE", s.MaintLockFile},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		if within(s.DatasetDir, f.path) || within(s.EmbeddingsDir, f.path) {
			return fmt.Errorf("invalid storage layout: %s %s must be outside DATASET_DIR and EMBEDDINGS_DIR", f.name, f.path)
		}
	}
	return nil
}

// within reports whether p is parent or lies below it.
func within(parent, p string) bool {
	parentAbs, err := filepath.Abs(parent)
	if err != nil {
		return false
	}
	pAbs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(parentAbs, pAbs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func samePath(a, b string) bool {
	return within(a, b) && within(b, a)
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbeddingConfig struct {
	Backend string // "local" or "remote"
	URL     string // defaults to http://localhost:8000
	Dim     int    // expected vector length, 0 accepts whatever the encoder produces
}

type MatchConfig struct {
	Threshold       float64
	IndexMinVectors int // below this many stored vectors every vector is scanned
	IndexCandidates int
}

type EnrollConfig struct {
	Concurrency int
}

type LogConfig struct {
	Level  string
	Format string
}

type WebConfig struct {
	Host           string
	Port           int
	APIToken       string   // bearer token required on /api/v1 when set
	AllowedOrigins []string // CORS origins besides localhost
}

// SlotCount is N, the number of configured slots.
func (c *Config) SlotCount() int {
	return len(c.Layout.Slots)
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envNonNegInt is envInt that also accepts zero.
func envNonNegInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ParseLayout decodes and validates a slot layout document.
func ParseLayout(data []byte) (SlotLayout, error) {
	var layout SlotLayout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return SlotLayout{}, fmt.Errorf("failed to parse slot layout: %w", err)
	}
	if err := validate.Struct(layout); err != nil {
		return SlotLayout{}, fmt.Errorf("invalid slot layout: %w", err)
	}
	for i, id := range layout.IDs() {
		if id != i+1 {
			return SlotLayout{}, fmt.Errorf("invalid slot layout: slot ids must be 1..%d, found %d", len(layout.Slots), id)
		}
	}
	return layout, nil
}

// Load reads the configuration from the environment. Errors are limited to
// the slot layout and the storage layout, everything else falls back to
// defaults.
func Load() (*Config, error) {
	layoutData := slotsYAML
	slotsFile := os.Getenv("SLOTS_FILE")
	if slotsFile != "" {
		data, err := os.ReadFile(slotsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read slot layout %s: %w", slotsFile, err)
		}
		layoutData = data
	}
	layout, err := ParseLayout(layoutData)
	if err != nil {
		return nil, err
	}

	polarity := os.Getenv("SENSOR_POLARITY")
	if polarity != "" {
		layout.Polarity = polarity
		if err := validate.Struct(layout); err != nil {
			return nil, fmt.Errorf("invalid SENSOR_POLARITY %q: %w", polarity, err)
		}
	}

	dataDir := envString("LOCKER_DATA_DIR", "data")
	embeddingsDir := envString("EMBEDDINGS_DIR", filepath.Join(dataDir, "embeddings"))

	cfg := &Config{
		Hardware: HardwareConfig{
			Mode:          envString("HARDWARE_MODE", "simulated"),
			Chip:          envString("GPIO_CHIP", "gpiochip0"),
			PollInterval:  envDuration("POLL_INTERVAL", time.Second),
			ReadRetries:   envNonNegInt("SENSOR_READ_RETRIES", 1),
			UnlockPulse:   envDuration("UNLOCK_PULSE", time.Second),
			PolarityEnv:   polarity,
			SlotsFilePath: slotsFile,
		},
		Layout: layout,
		Storage: StorageConfig{
			Backend:       envString("STORE_BACKEND", "file"),
			DataDir:       dataDir,
			DatasetDir:    envString("DATASET_DIR", filepath.Join(dataDir, "dataset")),
			EmbeddingsDir: embeddingsDir,
			StoreFile:     envString("STORE_FILE", filepath.Join(embeddingsDir, "face_cosine_data.json")),
			CounterFile:   envString("COUNTER_FILE", filepath.Join(dataDir, "available.txt")),
			LockFile:      envString("LOCK_FILE", filepath.Join(dataDir, ".store.lock")),
			MaintLockFile: envString("MAINTENANCE_LOCK_FILE", filepath.Join(dataDir, ".maintenance.lock")),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Embedding: EmbeddingConfig{
			Backend: envString("FACE_BACKEND", "local"),
			URL:     envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim:     envNonNegInt("EMBEDDING_DIM", 0),
		},
		Match: MatchConfig{
			Threshold:       envFloat("MATCH_THRESHOLD", 0.6),
			IndexMinVectors: envInt("MATCH_INDEX_MIN_VECTORS", 512),
			IndexCandidates: envInt("MATCH_INDEX_CANDIDATES", 64),
		},
		Enroll: EnrollConfig{
			Concurrency: envInt("ENROLL_CONCURRENCY", 4),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			APIToken:       os.Getenv("WEB_API_TOKEN"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
