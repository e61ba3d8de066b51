package config

// Config is the top-level YAML structure. Every field can be overridden by
// the CHRONICLE_* environment variable named in its env tag.
type Config struct {
	Version   string        `yaml:"version"`
	Server    ServerConf    `yaml:"server"`
	Storage   StorageConf   `yaml:"storage"`
	Replay    ReplayConf    `yaml:"replay"`
	Log       LogConf       `yaml:"log"`
	Telemetry TelemetryConf `yaml:"telemetry"`
}

// ServerConf configures the HTTP listener.
type ServerConf struct {
	Addr string `yaml:"addr" env:"CHRONICLE_ADDR"`
}

// StorageConf selects the persistence backend.
type StorageConf struct {
	Backend string `yaml:"backend" env:"CHRONICLE_STORAGE_BACKEND"` // bbolt, sqlite or memory
	Path    string `yaml:"path" env:"CHRONICLE_STORAGE_PATH"`
}

// ReplayConf tunes reconstruction.
type ReplayConf struct {
	Workers int `yaml:"workers" env:"CHRONICLE_REPLAY_WORKERS"`
}

// LogConf holds the log level: debug, info, warn or error.
type LogConf struct {
	Level string `yaml:"level" env:"CHRONICLE_LOG_LEVEL"`
}

// TelemetryConf enables trace export when OTLPEndpoint is set.
type TelemetryConf struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"CHRONICLE_OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"CHRONICLE_SERVICE_NAME"`
}

// Storage backends.
const (
	BackendBolt   = "bbolt"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)
