/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package node

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/facebookincubator/p2pfd/endpoint"
)

// Detector selection names, accepted by the --detector flag and the
// config file's detector key.
const (
	DetectorPingAck            = "pingack"
	DetectorHeartbeat          = "heartbeat"
	DetectorHeartbeatRecovery  = "heartbeat-recovery"
	DetectorHeartbeatWindow    = "heartbeat-window"
	DetectorHeartbeatSuspectLv = "heartbeat-suspect-level"
)

// Config holds everything needed to start a node, whether it came from
// positional CLI arguments, flags, or an optional YAML file. Modeled on
// sptp/client.Config / ReadConfig.
type Config struct {
	Self         endpoint.Endpoint   `yaml:"-"`
	SelfAddr     string              `yaml:"self"`
	Neighbors    []endpoint.Endpoint `yaml:"-"`
	NeighborAddr string              `yaml:"neighbors"`
	InitialValue string              `yaml:"initial_value"`

	Protocol string `yaml:"protocol"` // "udp" or "tcp"
	Detector string `yaml:"detector"`
	Gossip   bool   `yaml:"gossip"`
	Verbose  bool   `yaml:"verbose"`

	MonitoringPort           int           `yaml:"monitoring_port"`
	AlertRule                string        `yaml:"alert_rule"`
	MetricsAggregationWindow time.Duration `yaml:"metrics_aggregation_window"`

	// WarmUp is how long a node waits after startup before calling its
	// first startConsensus, to give neighbors a chance to learn about it.
	WarmUp time.Duration `yaml:"warm_up"`
}

// DefaultConfig returns a Config with every optional knob at its documented
// default.
func DefaultConfig() *Config {
	return &Config{
		Protocol:                 "udp",
		Detector:                 DetectorHeartbeatWindow,
		MonitoringPort:           8080,
		MetricsAggregationWindow: 60 * time.Second,
		WarmUp:                   2 * time.Second,
	}
}

// ReadConfig reads a YAML config file, starting from DefaultConfig so any
// field the file omits keeps its documented default.
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("node: reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("node: parsing config %q: %w", path, err)
	}
	return c, nil
}

// Resolve parses SelfAddr/NeighborAddr into Self/Neighbors. Call it after
// any CLI-flag overrides have been merged in, same as prepareConfig does in
// cmd/sptp/main.go before constructing the client.
func (c *Config) Resolve() error {
	self, err := endpoint.New(c.SelfAddr)
	if err != nil {
		return fmt.Errorf("node: self endpoint: %w", err)
	}
	c.Self = self
	neighbors, err := endpoint.ParseList(c.NeighborAddr)
	if err != nil {
		return fmt.Errorf("node: neighbor list: %w", err)
	}
	c.Neighbors = neighbors
	return nil
}

// ValidDetectors lists the accepted --detector values, for usage messages
// and validation.
func ValidDetectors() []string {
	return []string{
		DetectorPingAck,
		DetectorHeartbeat,
		DetectorHeartbeatRecovery,
		DetectorHeartbeatWindow,
		DetectorHeartbeatSuspectLv,
	}
}
