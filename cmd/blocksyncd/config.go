// Copyright 2024 The blocksync Authors
// This file is part of the blocksync library.
//
// The blocksync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The blocksync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the blocksync library. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	bs "github.com/casper-ecosystem/blocksync/internal/blocksync"
)

// fileConfig is the on-disk TOML shape; [engine] maps directly onto
// blocksync.Config, [node] covers everything belonging to this binary
// rather than the library.
type fileConfig struct {
	Engine bs.Config `toml:"engine"`
	Node   nodeConfig `toml:"node"`
}

type nodeConfig struct {
	LogLevel      string `toml:"log_level"`
	StatusAddr    string `toml:"status_addr"`
	DisconnectTTL time.Duration `toml:"disconnect_ttl"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Engine: bs.DefaultConfig(),
		Node: nodeConfig{
			LogLevel:      "info",
			StatusAddr:    "127.0.0.1:9192",
			DisconnectTTL: 10 * time.Minute,
		},
	}
}

func loadConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}
