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

// Command p2pnode runs one failure-detector/consensus peer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebookincubator/p2pfd/node"
)

// Args: <self-host:self-port> [neighbor1:port,neighbor2:port,...] [initialValue]
// Invalid count prints the cobra usage banner.
var rootCmd = &cobra.Command{
	Use:   "p2pnode <self-host:self-port> [neighbors] [initialValue]",
	Short: "failure-detector and consensus peer",
	Args:  cobra.RangeArgs(1, 3),
	RunE:  run,
}

var (
	configPath  string
	protocol    string
	detector    string
	gossip      bool
	alertRule   string
	monitorPort int
	verbose     bool
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "optional YAML config file; flags below and positional args override its values")
	flags.StringVar(&protocol, "protocol", "", fmt.Sprintf("transport protocol, %q or %q", "udp", "tcp"))
	flags.StringVar(&detector, "detector", "", fmt.Sprintf("failure detector, one of %v", node.ValidDetectors()))
	flags.BoolVar(&gossip, "gossip", false, "wrap the detector with suspect-list gossip")
	flags.StringVar(&alertRule, "alert-rule", "", "boolean expression over suspects/neighbors/round; empty disables alerting")
	flags.IntVar(&monitorPort, "monitoring-port", 0, "port for /metrics and /status; 0 keeps the config file's value (default 8080)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, args []string) error {
	configureVerbosity()

	cfg, err := prepareConfig(args)
	if err != nil {
		return err
	}

	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	defer n.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Infof("p2pnode: starting as %s with %d neighbors, detector=%s gossip=%v", cfg.Self, len(cfg.Neighbors), cfg.Detector, cfg.Gossip)
	return n.Run(ctx)
}

func configureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// prepareConfig merges the optional YAML file with the positional
// arguments and flags the caller explicitly set, with positional args
// and flags winning over the file, the same layering cmd/sptp's
// prepareConfig uses.
func prepareConfig(args []string) (*node.Config, error) {
	var cfg *node.Config
	if configPath != "" {
		c, err := node.ReadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = node.DefaultConfig()
	}

	cfg.SelfAddr = args[0]
	if len(args) >= 2 {
		cfg.NeighborAddr = args[1]
	}
	if len(args) >= 3 {
		cfg.InitialValue = args[2]
	}

	if protocol != "" {
		cfg.Protocol = protocol
	}
	if detector != "" {
		cfg.Detector = detector
	}
	if gossip {
		cfg.Gossip = true
	}
	if alertRule != "" {
		cfg.AlertRule = alertRule
	}
	if monitorPort != 0 {
		cfg.MonitoringPort = monitorPort
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}
