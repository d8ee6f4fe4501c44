package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "extractkit.yaml"

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	Server    Server    `yaml:"server"`
	Workspace Workspace `yaml:"workspace"`
	Engines   Engines   `yaml:"engines"`
	Log       Log       `yaml:"log"`
}

type Server struct {
	Addr            string        `yaml:"addr"`
	MaxUploadMB     int64         `yaml:"max_upload_mb"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Workspace locates per-request temp dirs (TempRoot, "" = OS temp dir) and the
// persistent data dir used by the save variant and the output index.
type Workspace struct {
	TempRoot string `yaml:"temp_root"`
	DataDir  string `yaml:"data_dir"`
}

// Engines describes how task engines are reached.
type Engines struct {
	InferenceURL string            `yaml:"inference_url"`
	APIKey       string            `yaml:"api_key"`
	Timeout      time.Duration     `yaml:"timeout"`
	Models       map[string]string `yaml:"models"`
	Pdftoppm     string            `yaml:"pdftoppm"`
	// OCR picks the engine behind the ocr task: ocr_paddleocr (default) or ocr_tesseract.
	OCR string `yaml:"ocr"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8000",
			MaxUploadMB:     100,
			ShutdownTimeout: 15 * time.Second,
		},
		Workspace: Workspace{
			DataDir: "data",
		},
		Engines: Engines{
			InferenceURL: "http://localhost:5000",
			Timeout:      10 * time.Minute,
			Models: map[string]string{
				"layout_detection_yolo":             "models/Layout/YOLO/doclayout_yolo_ft.pt",
				"formula_detection_yolo":            "models/MFD/YOLO/yolo_v8_ft.pt",
				"table_parsing_tablestructuremodel": "models/TabRec/StructEqTable",
			},
			Pdftoppm: "pdftoppm",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies EXTRACTKIT_*
// environment overrides. A missing file is not an error when path is DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err) && path == DefaultPath:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getEnv("EXTRACTKIT_ADDR", c.Server.Addr)
	c.Workspace.TempRoot = getEnv("EXTRACTKIT_TEMP_ROOT", c.Workspace.TempRoot)
	c.Workspace.DataDir = getEnv("EXTRACTKIT_DATA_DIR", c.Workspace.DataDir)
	c.Engines.InferenceURL = getEnv("EXTRACTKIT_INFERENCE_URL", c.Engines.InferenceURL)
	c.Engines.APIKey = getEnv("EXTRACTKIT_INFERENCE_API_KEY", c.Engines.APIKey)
	c.Engines.OCR = getEnv("EXTRACTKIT_OCR_ENGINE", c.Engines.OCR)
	c.Log.Level = getEnv("EXTRACTKIT_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("EXTRACTKIT_LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnv("EXTRACTKIT_LOG_FILE", c.Log.File)
	if v := os.Getenv("EXTRACTKIT_MAX_UPLOAD_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("EXTRACTKIT_MAX_UPLOAD_MB: invalid value %q", v)
		}
		c.Server.MaxUploadMB = n
	}
	return nil
}

// ModelPath returns the configured weights path for an engine id, or "".
func (c *Config) ModelPath(engineID string) string {
	return c.Engines.Models[engineID]
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
