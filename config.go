package flock

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

type Config struct {
	Broker     BrokerConfig     `toml:"broker"`
	Server     ServerConfig     `toml:"server"`
	Federation FederationConfig `toml:"federation"`
}

type BrokerConfig struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	QoS      int64  `toml:"qos"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port string `toml:"port"`
}

type FederationConfig struct {
	Strategy  string `toml:"strategy"`
	NumRounds int64  `toml:"num_rounds"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
