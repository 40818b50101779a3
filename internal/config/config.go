package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bridge    BridgeConfig  `mapstructure:"bridge"`
	Broker    BrokerConfig  `mapstructure:"broker"`
	Poll      PollConfig    `mapstructure:"poll"`
	Variables []string      `mapstructure:"variables"`
	Output    OutputConfig  `mapstructure:"output"`
	MQTT      MQTTConfig    `mapstructure:"mqtt"`
	AMQP      AMQPConfig    `mapstructure:"amqp"`
	Server    ServerConfig  `mapstructure:"server"`
	Logging   LoggingConfig `mapstructure:"logging"`
}

type BridgeConfig struct {
	Transport   string        `mapstructure:"transport"`
	RelayURL    string        `mapstructure:"relay_url"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	ZMQRequest  string        `mapstructure:"zmq_request"`
	ZMQData     string        `mapstructure:"zmq_data"`
	SimLatency  time.Duration `mapstructure:"sim_latency"`
	SimDropRate float64       `mapstructure:"sim_drop_rate"`
}

type BrokerConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	CommandConcurrency int           `mapstructure:"command_concurrency"`
	CommandPace        time.Duration `mapstructure:"command_pace"`
	ClearOnStart       bool          `mapstructure:"clear_on_start"`
}

type PollConfig struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	TimeoutPerVar time.Duration `mapstructure:"timeout_per_var"`
	BatchWait     time.Duration `mapstructure:"batch_wait"`
	BatchPause    time.Duration `mapstructure:"batch_pause"`
	ProgressEvery int           `mapstructure:"progress_every"`
	Interval      time.Duration `mapstructure:"interval"`
	DegradedRatio float64       `mapstructure:"degraded_ratio"`
	VariablesFile string        `mapstructure:"variables_file"`
}

type OutputConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Compress  bool   `mapstructure:"compress"`
}

type MQTTConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Broker   string        `mapstructure:"broker"`
	Topic    string        `mapstructure:"topic"`
	ClientID string        `mapstructure:"client_id"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	QoS      int           `mapstructure:"qos"`
	Retained bool          `mapstructure:"retained"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type AMQPConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	RelayAddr     string        `mapstructure:"relay_addr"`
	ReadOnly      bool          `mapstructure:"read_only"`
	MaxTimeout    time.Duration `mapstructure:"max_timeout"`
	StatusRefresh time.Duration `mapstructure:"status_refresh"`
	WSEnabled     bool          `mapstructure:"ws_enabled"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("bridge.transport", TransportSim)
	v.SetDefault("bridge.relay_url", "ws://127.0.0.1:8765/bridge")
	v.SetDefault("bridge.call_timeout", "5s")
	v.SetDefault("bridge.zmq_request", "tcp://127.0.0.1:5555")
	v.SetDefault("bridge.zmq_data", "tcp://127.0.0.1:5556")
	v.SetDefault("bridge.sim_latency", "5ms")
	v.SetDefault("bridge.sim_drop_rate", 0.0)
	v.SetDefault("broker.timeout", "250ms")
	v.SetDefault("broker.poll_interval", "5ms")
	v.SetDefault("broker.settle_delay", "200ms")
	v.SetDefault("broker.command_concurrency", 5)
	v.SetDefault("broker.command_pace", "3ms")
	v.SetDefault("broker.clear_on_start", true)
	v.SetDefault("poll.workers", 8)
	v.SetDefault("poll.batch_size", 40)
	v.SetDefault("poll.timeout_per_var", "250ms")
	v.SetDefault("poll.batch_wait", "4s")
	v.SetDefault("poll.batch_pause", "20ms")
	v.SetDefault("poll.progress_every", 20)
	v.SetDefault("poll.interval", "1s")
	v.SetDefault("poll.degraded_ratio", 0.9)
	v.SetDefault("variables", DefaultVariables)
	v.SetDefault("output.enabled", true)
	v.SetDefault("output.directory", "data")
	v.SetDefault("output.compress", true)
	v.SetDefault("mqtt.topic", "crewbridge/snapshots")
	v.SetDefault("mqtt.client_id", "crewbridge")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.timeout", "5s")
	v.SetDefault("amqp.exchange", "crewbridge")
	v.SetDefault("amqp.routing_key", "snapshots")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.relay_addr", ":8765")
	v.SetDefault("server.max_timeout", "5s")
	v.SetDefault("server.status_refresh", "5s")
	v.SetDefault("server.ws_enabled", true)
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("CREWBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Secrets are usually only set in the environment
	_ = v.BindEnv("mqtt.password", "CREWBRIDGE_MQTT_PASSWORD")
	_ = v.BindEnv("amqp.url", "CREWBRIDGE_AMQP_URL")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Poll.VariablesFile != "" {
		vars, err := LoadVariables(cfg.Poll.VariablesFile)
		if err != nil {
			return nil, err
		}
		cfg.Variables = vars
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if !ValidTransports[c.Bridge.Transport] {
		errs.add("bridge.transport", fmt.Sprintf("unknown transport %q", c.Bridge.Transport))
	}
	if c.Bridge.Transport == TransportWS && c.Bridge.RelayURL == "" {
		errs.add("bridge.relay_url", "required for the ws transport")
	}
	if c.Bridge.Transport == TransportZMQ && (c.Bridge.ZMQRequest == "" || c.Bridge.ZMQData == "") {
		errs.add("bridge.zmq_request", "zmq_request and zmq_data are required for the zmq transport")
	}
	if c.Bridge.SimDropRate < 0 || c.Bridge.SimDropRate > 1 {
		errs.add("bridge.sim_drop_rate", "must be between 0 and 1")
	}
	if c.Broker.CommandConcurrency < 1 {
		errs.add("broker.command_concurrency", "must be >= 1")
	}
	if c.Broker.Timeout <= 0 {
		errs.add("broker.timeout", "must be positive")
	}
	if c.Poll.Workers < 1 {
		errs.add("poll.workers", "must be >= 1")
	}
	if c.Poll.BatchSize < 1 {
		errs.add("poll.batch_size", "must be >= 1")
	}
	if c.Poll.DegradedRatio < 0 || c.Poll.DegradedRatio > 1 {
		errs.add("poll.degraded_ratio", "must be between 0 and 1")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs.add("mqtt.broker", "required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs.add("mqtt.qos", "must be 0, 1 or 2")
	}
	if c.AMQP.Enabled && c.AMQP.URL == "" {
		errs.add("amqp.url", "required when amqp is enabled (set CREWBRIDGE_AMQP_URL env var)")
	}
	if !ValidLogLevels[c.Logging.Level] {
		errs.add("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}

	validateVariables(errs, c.Variables)

	if errs.HasErrors() {
		return errs
	}
	return nil
}
