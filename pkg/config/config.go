package config

import (
	"errors"
	"fmt"
	"time"

	"edgemesh/pkg/fabricerr"

	"github.com/go-playground/validator/v10"
)

// Config - root configuration of an edge router node.
// yaml and validate tags drive parsing and validation.
type Config struct {
	Logger     LoggerConfig     `yaml:"logger" validate:"required"`
	Node       NodeConfig       `yaml:"node" validate:"required"`
	Endpoints  EndpointsConfig  `yaml:"endpoints" validate:"required"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" validate:"required"`
	Callback   CallbackConfig   `yaml:"callback"`
	Membership MembershipConfig `yaml:"membership"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type NodeConfig struct {
	ID string `yaml:"id" validate:"required"`
	// Shards is the number of routing table replicas and dispatch workers.
	Shards int `yaml:"shards" validate:"required,min=1"`
	// DualTables keeps a second table with the final routes only, used for
	// requests forwarded by other routers.
	DualTables     bool          `yaml:"dual_tables"`
	Policy         string        `yaml:"policy" validate:"omitempty,oneof=random least-impedance"`
	QueueSize      int           `yaml:"queue_size" validate:"min=0"`
	ForwardTimeout time.Duration `yaml:"forward_timeout" validate:"min=0"`
}

// EndpointsConfig lists the listen addresses. Components sharing an
// address are served by the same listener.
type EndpointsConfig struct {
	Lambda    string `yaml:"lambda" validate:"required,hostname_port"`
	Control   string `yaml:"control" validate:"required,hostname_port"`
	Callback  string `yaml:"callback" validate:"omitempty,hostname_port"`
	Telemetry string `yaml:"telemetry" validate:"omitempty,hostname_port"`
}

type TelemetryConfig struct {
	Interval time.Duration `yaml:"interval" validate:"required,gt=0"`
}

type CallbackConfig struct {
	// CompressThreshold is the body size above which results are sent
	// zstd-compressed; 0 disables compression.
	CompressThreshold int `yaml:"compress_threshold" validate:"min=0"`
}

type MembershipConfig struct {
	ZKServers []string `yaml:"zk_servers" validate:"omitempty,dive,hostname_port"`
	RootPath  string   `yaml:"root_path" validate:"required_with=ZKServers"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Node: NodeConfig{
			ID:             "edgerouter-1",
			Shards:         4,
			Policy:         "random",
			QueueSize:      64,
			ForwardTimeout: 5 * time.Second,
		},
		Endpoints: EndpointsConfig{
			Lambda:    "127.0.0.1:6473",
			Control:   "127.0.0.1:6474",
			Callback:  "127.0.0.1:6480",
			Telemetry: "127.0.0.1:6475",
		},
		Telemetry: TelemetryConfig{
			Interval: time.Second,
		},
		Callback: CallbackConfig{
			CompressThreshold: 4096,
		},
		Membership: MembershipConfig{
			RootPath: "/edgemesh",
		},
	}
}

// Validate checks cfg against its validate tags.
func Validate(cfg *Config) error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		return fmt.Errorf("%w: %s failed on %q (value %v)", fabricerr.ErrConfiguration, first.Namespace(), first.Tag(), first.Value())
	}
	return fmt.Errorf("%w: %v", fabricerr.ErrConfiguration, err)
}
