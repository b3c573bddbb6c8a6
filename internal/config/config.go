// Package config loads the service configuration from an optional YAML file
// overlaid with environment variables. A .env file is honoured in
// development.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config carries everything the binary needs to come up.
type Config struct {
	ListenAddress   string `yaml:"listen_address" env:"LISTEN_ADDRESS,default=:8080"`
	AdminAddress    string `yaml:"admin_address" env:"ADMIN_ADDRESS,default=admin"`
	ReserveAddress  string `yaml:"reserve_address" env:"RESERVE_ADDRESS,default=marketplace"`
	SupplyCap       string `yaml:"supply_cap" env:"SUPPLY_CAP,default="`
	FeePercent      uint64 `yaml:"fee_percent" env:"FEE_PERCENT,default=10"`
	Minters         string `yaml:"minters" env:"MINTERS,default="` // comma separated addresses
	EventBufferSize int    `yaml:"event_buffer_size" env:"EVENT_BUFFER_SIZE,default=1024"`
}

// Load reads the configuration. The YAML file at path is optional; values
// from the environment win over the file.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

// Cap parses the supply cap override as a decimal base-unit amount. An empty
// value selects the reference deployment cap.
func (c Config) Cap() (*big.Int, error) {
	trimmed := strings.TrimSpace(c.SupplyCap)
	if trimmed == "" {
		return nil, nil
	}
	cap, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || cap.Sign() <= 0 {
		return nil, fmt.Errorf("invalid supply cap %q", c.SupplyCap)
	}
	return cap, nil
}

// MinterList splits the configured minter addresses.
func (c Config) MinterList() []string {
	if strings.TrimSpace(c.Minters) == "" {
		return nil
	}
	parts := strings.Split(c.Minters, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
