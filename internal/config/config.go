package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-guard/internal/constants"
	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

const defaultModelsURL = "https://cdn.jsdelivr.net/npm/@vladmandic/face-api/model"

type Config struct {
	Camera     CameraConfig
	Models     ModelsConfig
	Recognizer RecognizerConfig
	Monitor    MonitorConfig
	Database   DatabaseConfig
	Web        WebConfig
	Logging    LoggingConfig
}

type CameraConfig struct {
	Device     string // capture device path, defaults to /dev/video0
	Format     string // ffmpeg input format, defaults to v4l2
	FFmpegPath string // ffmpeg binary, defaults to ffmpeg on PATH
	Width      int
	Height     int
	FacingMode string
	FPS        int
}

type ModelsConfig struct {
	PrimaryURL  string        // remote base location of the weight manifests
	FallbackDir string        // local directory used when the primary source fails
	Timeout     time.Duration // bounds one load attempt per source
	Nets        []NetSpec     `yaml:"nets"`
}

// NetSpec names one inference net and the manifest file that describes its weights.
type NetSpec struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Manifest string `yaml:"manifest"`
}

type RecognizerConfig struct {
	URL     string // defaults to http://localhost:8000
	Timeout time.Duration
}

type MonitorConfig struct {
	Interval        time.Duration
	NoFaceThreshold int
	MatchThreshold  float64
	PersistTimeout  time.Duration
	OverlayWidth    int // 0 follows the frame resolution
	OverlayHeight   int
	VerifyPerMinute int // rate limit for one-shot verification per user
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 10)
	MaxIdleConns int    // Maximum idle connections (default 2)
}

type WebConfig struct {
	Host           string
	Port           int
	SessionSecret  string
	LoginToken     string   // optional shared secret required by the login endpoint
	AllowedOrigins []string // extra CORS origins besides localhost
}

type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
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

// envNonNegativeInt is envInt that also accepts zero.
func envNonNegativeInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to the default on any parse problem.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a Go duration string such as "2s" or "500ms".
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated list.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	var manifest ModelsConfig
	if err := yaml.Unmarshal(modelsYAML, &manifest); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded models.yaml: " + err.Error())
	}

	return &Config{
		Camera: CameraConfig{
			Device:     envString("CAMERA_DEVICE", "/dev/video0"),
			Format:     envString("CAMERA_FORMAT", "v4l2"),
			FFmpegPath: envString("FFMPEG_PATH", "ffmpeg"),
			Width:      envInt("CAMERA_WIDTH", constants.DefaultCameraWidth),
			Height:     envInt("CAMERA_HEIGHT", constants.DefaultCameraHeight),
			FacingMode: envString("CAMERA_FACING", constants.DefaultFacingMode),
			FPS:        envInt("CAMERA_FPS", constants.DefaultCameraFPS),
		},
		Models: ModelsConfig{
			PrimaryURL:  strings.TrimSuffix(envString("MODELS_PRIMARY_URL", defaultModelsURL), "/"),
			FallbackDir: envString("MODELS_FALLBACK_DIR", "./models"),
			Timeout:     envDuration("MODELS_TIMEOUT", constants.DefaultModelsTimeout),
			Nets:        manifest.Nets,
		},
		Recognizer: RecognizerConfig{
			URL:     envString("RECOGNIZER_URL", "http://localhost:8000"),
			Timeout: envDuration("RECOGNIZER_TIMEOUT", 10*time.Second),
		},
		Monitor: MonitorConfig{
			Interval:        envDuration("MONITOR_INTERVAL", constants.MonitorInterval),
			NoFaceThreshold: envInt("MONITOR_NO_FACE_THRESHOLD", constants.NoFaceAlertThreshold),
			MatchThreshold:  envFloat("MATCH_THRESHOLD", constants.MatchThreshold),
			PersistTimeout:  envDuration("PERSIST_TIMEOUT", constants.PersistTimeout),
			OverlayWidth:    envNonNegativeInt("OVERLAY_WIDTH", 0),
			OverlayHeight:   envNonNegativeInt("OVERLAY_HEIGHT", 0),
			VerifyPerMinute: envInt("VERIFY_PER_MINUTE", 30),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 2),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			SessionSecret:  os.Getenv("WEB_SESSION_SECRET"),
			LoginToken:     os.Getenv("WEB_LOGIN_TOKEN"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Logging: LoggingConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
	}
}

// Net returns the spec of the named net, or false if the manifest does not list it.
func (c *ModelsConfig) Net(name string) (NetSpec, bool) {
	for _, n := range c.Nets {
		if n.Name == name {
			return n, true
		}
	}
	return NetSpec{}, false
}
