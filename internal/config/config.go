package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Node        NodeConfig        `yaml:"node"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Corrector   CorrectorConfig   `yaml:"corrector"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Translation TranslationConfig `yaml:"translation"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Tier       string            `yaml:"tier"`
	Attributes map[string]string `yaml:"attributes"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// RecognitionConfig drives the gesture-to-text direction.
type RecognitionConfig struct {
	Enabled             bool              `yaml:"enabled"`
	StableFrames        int               `yaml:"stable_frames"`
	ConfidenceThreshold float64           `yaml:"confidence_threshold"`
	ClearDelayMS        int               `yaml:"clear_delay_ms"`
	IdleCheckMS         int               `yaml:"idle_check_ms"`
	SessionTTLMS        int               `yaml:"session_ttl_ms"`
	Alphabet            string            `yaml:"alphabet"`
	CommandLabels       map[string]string `yaml:"command_labels"`
	Classifier          ClassifierConfig  `yaml:"classifier"`
}

type ClassifierConfig struct {
	Mode      string `yaml:"mode"` // passthrough, mock, exec
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
	TopK      int    `yaml:"top_k"`
}

type CorrectorConfig struct {
	Enabled        bool    `yaml:"enabled"`
	DictionaryPath string  `yaml:"dictionary_path"`
	FanOut         int     `yaml:"fan_out"`
	MaxLength      int     `yaml:"max_length"`
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

type PlaybackConfig struct {
	Enabled       bool   `yaml:"enabled"`
	QueueCapacity int    `yaml:"queue_capacity"`
	RenderWorkers int    `yaml:"render_workers"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Resolver      string `yaml:"resolver"` // manifest, directory
	Manifest      string `yaml:"manifest"`
	AssetDir      string `yaml:"asset_dir"`
	Loader        string `yaml:"loader"` // file, exec
	LoaderCommand string `yaml:"loader_command"`
	LoadTimeoutMS int    `yaml:"load_timeout_ms"`
}

type TranslationConfig struct {
	Path      string   `yaml:"path"`
	Languages []string `yaml:"languages"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

func Default() Config {
	return Config{
		RuntimeName: "signbridge",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "0.0.0.0",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "signbridge-node-1",
			Role:              "runtime",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/signbridge-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Recognition: RecognitionConfig{
			Enabled:             true,
			StableFrames:        10,
			ConfidenceThreshold: 0,
			ClearDelayMS:        2000,
			IdleCheckMS:         250,
			SessionTTLMS:        10 * 60 * 1000,
			CommandLabels: map[string]string{
				"SPACE": "space",
			},
			Classifier: ClassifierConfig{
				Mode:      "passthrough",
				TimeoutMS: 500,
				TopK:      3,
			},
		},
		Corrector: CorrectorConfig{
			Enabled:        true,
			DictionaryPath: "./data/words.txt",
			FanOut:         3,
			MaxLength:      8,
			FuzzyThreshold: 0,
		},
		Playback: PlaybackConfig{
			Enabled:       true,
			QueueCapacity: 3,
			RenderWorkers: 4,
			MaxConcurrent: 4,
			Resolver:      "manifest",
			Manifest:      "./assets/vocabulary.yaml",
			Loader:        "file",
			LoadTimeoutMS: 5000,
		},
		Translation: TranslationConfig{
			Languages: []string{"en", "hi", "kn"},
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Broker:      "tcp://localhost:1883",
			ClientID:    "signbridge",
			TopicPrefix: "signbridge",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SIGNBRIDGE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SIGNBRIDGE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SIGNBRIDGE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SIGNBRIDGE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SIGNBRIDGE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SIGNBRIDGE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SIGNBRIDGE_TELEMETRY_OTLP_INSECURE")

	overrideBool(&cfg.Bus.Embedded, "SIGNBRIDGE_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "SIGNBRIDGE_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "SIGNBRIDGE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SIGNBRIDGE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SIGNBRIDGE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SIGNBRIDGE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SIGNBRIDGE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SIGNBRIDGE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SIGNBRIDGE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SIGNBRIDGE_BUS_CONNECT_TIMEOUT_MS")

	overrideString(&cfg.Node.ID, "SIGNBRIDGE_NODE_ID")
	overrideString(&cfg.Node.Role, "SIGNBRIDGE_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "SIGNBRIDGE_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "SIGNBRIDGE_NODE_HEARTBEAT_TIMEOUT_MS")

	overrideString(&cfg.EventStore.Path, "SIGNBRIDGE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "SIGNBRIDGE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "SIGNBRIDGE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "SIGNBRIDGE_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "SIGNBRIDGE_EVENT_STORE_VACUUM_ON_START")

	overrideBool(&cfg.Recognition.Enabled, "SIGNBRIDGE_RECOGNITION_ENABLED")
	overrideInt(&cfg.Recognition.StableFrames, "SIGNBRIDGE_RECOGNITION_STABLE_FRAMES")
	overrideFloat(&cfg.Recognition.ConfidenceThreshold, "SIGNBRIDGE_RECOGNITION_CONFIDENCE_THRESHOLD")
	overrideInt(&cfg.Recognition.ClearDelayMS, "SIGNBRIDGE_RECOGNITION_CLEAR_DELAY_MS")
	overrideInt(&cfg.Recognition.IdleCheckMS, "SIGNBRIDGE_RECOGNITION_IDLE_CHECK_MS")
	overrideInt(&cfg.Recognition.SessionTTLMS, "SIGNBRIDGE_RECOGNITION_SESSION_TTL_MS")
	overrideString(&cfg.Recognition.Alphabet, "SIGNBRIDGE_RECOGNITION_ALPHABET")
	overrideString(&cfg.Recognition.Classifier.Mode, "SIGNBRIDGE_RECOGNITION_CLASSIFIER_MODE")
	overrideString(&cfg.Recognition.Classifier.Command, "SIGNBRIDGE_RECOGNITION_CLASSIFIER_COMMAND")
	overrideInt(&cfg.Recognition.Classifier.TimeoutMS, "SIGNBRIDGE_RECOGNITION_CLASSIFIER_TIMEOUT_MS")
	overrideInt(&cfg.Recognition.Classifier.TopK, "SIGNBRIDGE_RECOGNITION_CLASSIFIER_TOP_K")

	overrideBool(&cfg.Corrector.Enabled, "SIGNBRIDGE_CORRECTOR_ENABLED")
	overrideString(&cfg.Corrector.DictionaryPath, "SIGNBRIDGE_CORRECTOR_DICTIONARY_PATH")
	overrideInt(&cfg.Corrector.FanOut, "SIGNBRIDGE_CORRECTOR_FAN_OUT")
	overrideInt(&cfg.Corrector.MaxLength, "SIGNBRIDGE_CORRECTOR_MAX_LENGTH")
	overrideFloat(&cfg.Corrector.FuzzyThreshold, "SIGNBRIDGE_CORRECTOR_FUZZY_THRESHOLD")

	overrideBool(&cfg.Playback.Enabled, "SIGNBRIDGE_PLAYBACK_ENABLED")
	overrideInt(&cfg.Playback.QueueCapacity, "SIGNBRIDGE_PLAYBACK_QUEUE_CAPACITY")
	overrideInt(&cfg.Playback.RenderWorkers, "SIGNBRIDGE_PLAYBACK_RENDER_WORKERS")
	overrideInt(&cfg.Playback.MaxConcurrent, "SIGNBRIDGE_PLAYBACK_MAX_CONCURRENT")
	overrideString(&cfg.Playback.Resolver, "SIGNBRIDGE_PLAYBACK_RESOLVER")
	overrideString(&cfg.Playback.Manifest, "SIGNBRIDGE_PLAYBACK_MANIFEST")
	overrideString(&cfg.Playback.AssetDir, "SIGNBRIDGE_PLAYBACK_ASSET_DIR")
	overrideString(&cfg.Playback.Loader, "SIGNBRIDGE_PLAYBACK_LOADER")
	overrideString(&cfg.Playback.LoaderCommand, "SIGNBRIDGE_PLAYBACK_LOADER_COMMAND")
	overrideInt(&cfg.Playback.LoadTimeoutMS, "SIGNBRIDGE_PLAYBACK_LOAD_TIMEOUT_MS")

	overrideString(&cfg.Translation.Path, "SIGNBRIDGE_TRANSLATION_PATH")
	overrideStringSlice(&cfg.Translation.Languages, "SIGNBRIDGE_TRANSLATION_LANGUAGES")

	overrideBool(&cfg.MQTT.Enabled, "SIGNBRIDGE_MQTT_ENABLED")
	overrideString(&cfg.MQTT.Broker, "SIGNBRIDGE_MQTT_BROKER")
	overrideString(&cfg.MQTT.ClientID, "SIGNBRIDGE_MQTT_CLIENT_ID")
	overrideString(&cfg.MQTT.Username, "SIGNBRIDGE_MQTT_USERNAME")
	overrideString(&cfg.MQTT.Password, "SIGNBRIDGE_MQTT_PASSWORD")
	overrideString(&cfg.MQTT.TopicPrefix, "SIGNBRIDGE_MQTT_TOPIC_PREFIX")
	overrideInt(&cfg.MQTT.QoS, "SIGNBRIDGE_MQTT_QOS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if err := validateRecognition(cfg.Recognition); err != nil {
		return err
	}
	if cfg.Corrector.Enabled {
		if cfg.Corrector.FanOut <= 0 {
			return errors.New("corrector.fan_out must be >= 1")
		}
		if cfg.Corrector.MaxLength <= 0 {
			return errors.New("corrector.max_length must be >= 1")
		}
		if cfg.Corrector.FuzzyThreshold < 0 || cfg.Corrector.FuzzyThreshold > 1 {
			return errors.New("corrector.fuzzy_threshold must be within [0,1]")
		}
	}
	if err := validatePlayback(cfg.Playback); err != nil {
		return err
	}
	if len(cfg.Translation.Languages) == 0 {
		return errors.New("translation.languages must not be empty")
	}
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return errors.New("mqtt.broker must be set when mqtt is enabled")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return errors.New("mqtt.qos must be 0, 1 or 2")
		}
	}
	return nil
}

func validateRecognition(cfg RecognitionConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.StableFrames <= 0 {
		return errors.New("recognition.stable_frames must be >= 1")
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return errors.New("recognition.confidence_threshold must be within [0,1]")
	}
	if cfg.ClearDelayMS <= 0 {
		return errors.New("recognition.clear_delay_ms must be positive")
	}
	if cfg.IdleCheckMS <= 0 {
		return errors.New("recognition.idle_check_ms must be positive")
	}
	for label, kind := range cfg.CommandLabels {
		switch kind {
		case "space", "clear", "switch_language", "cancel":
		default:
			return fmt.Errorf("recognition.command_labels[%s]: unknown command %q", label, kind)
		}
	}
	switch cfg.Classifier.Mode {
	case "passthrough", "mock":
	case "exec":
		if cfg.Classifier.Command == "" {
			return errors.New("recognition.classifier.command must be set when mode=exec")
		}
	default:
		return errors.New("recognition.classifier.mode must be one of passthrough|mock|exec")
	}
	return nil
}

func validatePlayback(cfg PlaybackConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.QueueCapacity <= 0 {
		return errors.New("playback.queue_capacity must be >= 1")
	}
	if cfg.RenderWorkers <= 0 {
		return errors.New("playback.render_workers must be >= 1")
	}
	if cfg.MaxConcurrent <= 0 {
		return errors.New("playback.max_concurrent must be >= 1")
	}
	switch cfg.Resolver {
	case "manifest":
		if cfg.Manifest == "" {
			return errors.New("playback.manifest must be set when resolver=manifest")
		}
	case "directory":
		if cfg.AssetDir == "" {
			return errors.New("playback.asset_dir must be set when resolver=directory")
		}
	default:
		return errors.New("playback.resolver must be one of manifest|directory")
	}
	switch cfg.Loader {
	case "file":
	case "exec":
		if cfg.LoaderCommand == "" {
			return errors.New("playback.loader_command must be set when loader=exec")
		}
	default:
		return errors.New("playback.loader must be one of file|exec")
	}
	return nil
}
