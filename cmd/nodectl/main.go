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

// Command nodectl queries a running p2pnode's /status.json endpoint and
// prints a human-readable summary, the same role ptpcheck plays for
// ptp4l/sptp.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebookincubator/p2pfd/metrics"
)

var rootCmd = &cobra.Command{
	Use:   "nodectl",
	Short: "inspect a running p2pnode",
	Run:   runStatus,
}

var (
	addrFlag    string
	verboseFlag bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&addrFlag, "addr", "a", "localhost:8080", "host:port of the node's monitoring endpoint")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func configureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

func fetchStatus(addr string) (metrics.Status, error) {
	var s metrics.Status
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/status.json", addr))
	if err != nil {
		return s, fmt.Errorf("nodectl: fetching status from %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s, fmt.Errorf("nodectl: %s replied %s", addr, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return s, fmt.Errorf("nodectl: decoding status from %s: %w", addr, err)
	}
	return s, nil
}

func runStatus(_ *cobra.Command, _ []string) {
	configureVerbosity()

	s, err := fetchStatus(addrFlag)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("node %s, round %s, value %q\n", color.CyanString(s.Self), color.YellowString("%d", s.Round), s.Value)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"neighbor", "status"})
	suspected := make(map[string]bool, len(s.Suspects))
	for _, sus := range s.Suspects {
		suspected[sus] = true
	}
	for _, n := range s.Neighbors {
		status := color.GreenString("alive")
		if suspected[n] {
			status = color.RedString("suspected")
		}
		table.Append([]string{n, status})
	}
	table.Render()
}
