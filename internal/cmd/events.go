package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/events"
	"github.com/atelier-dev/atelier/internal/style"
	"github.com/atelier-dev/atelier/internal/workspace"
)

var eventsCount int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent supervisor events",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := workspace.FindFromCwd()
		if err != nil {
			return err
		}

		path := filepath.Join(workspace.DataDir(root), constants.FileEventsJSONL)
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			style.PrintInfo("no events recorded")
			return nil
		}
		if err != nil {
			return err
		}
		defer f.Close()

		var lines []string
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading events log: %w", err)
		}

		if eventsCount > 0 && len(lines) > eventsCount {
			lines = lines[len(lines)-eventsCount:]
		}

		for _, line := range lines {
			var ev events.Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				fmt.Println(line)
				continue
			}
			fmt.Printf("%s  %-14s %6.1fs  %s  %s\n",
				ev.Timestamp, ev.Label, ev.ElapsedSeconds, ev.Actor, formatDetail(ev.Detail))
		}
		return nil
	},
}

func formatDetail(detail map[string]interface{}) string {
	if len(detail) == 0 {
		return ""
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return ""
	}
	return string(data)
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsCount, "count", "n", 20, "number of recent events to show")
	rootCmd.AddCommand(eventsCmd)
}
