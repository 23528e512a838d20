// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// LoadConfigFile reads a TOML configuration file and validates it with
// NewConfig. Durations accept TOML strings like "300s".
func LoadConfigFile(path string) (*Config, error) {
	const op = "spidsaml.LoadConfigFile"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: cannot read config file: %w", op, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: cannot parse config file %s: %w", op, path, err)
	}

	out, err := NewConfig(&cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
