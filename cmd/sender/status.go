package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/openmined/backuprelay/internal/sender"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	gray        = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	statusStyle = map[string]lipgloss.Style{
		string(sender.StatusSent):   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		string(sender.StatusFailed): lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		string(sender.StatusStable): lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
	}
	cellStyle = lipgloss.NewStyle().Padding(0, 1)
)

type statusFile struct {
	Path       string     `json:"path" yaml:"path"`
	Size       int64      `json:"size" yaml:"size"`
	Status     string     `json:"status" yaml:"status"`
	ModifiedAt time.Time  `json:"modified_at" yaml:"modified_at"`
	Attempts   int        `json:"attempts" yaml:"attempts"`
	LastError  string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty" yaml:"sent_at,omitempty"`
}

type statusReport struct {
	Game   string         `json:"game" yaml:"game"`
	Store  string         `json:"store" yaml:"store"`
	Counts map[string]int `json:"counts" yaml:"counts"`
	Files  []statusFile   `json:"files" yaml:"files"`
}

func newStatusCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the tracking store",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("unknown format %q, want table, json or yaml", format)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			// read-only: works while the daemon holds the lock
			tracker := sender.NewTracker(cfg.StateDBPath())
			if err := tracker.OpenForRead(); err != nil {
				return err
			}
			defer tracker.Close()

			report, err := buildStatus(cfg, tracker)
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), report, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json or yaml")
	return cmd
}

func buildStatus(cfg *sender.Config, tracker *sender.Tracker) (*statusReport, error) {
	files, err := tracker.List()
	if err != nil {
		return nil, err
	}
	counts, err := tracker.CountByStatus()
	if err != nil {
		return nil, err
	}

	report := &statusReport{
		Game:   cfg.GameName,
		Store:  tracker.Path(),
		Counts: make(map[string]int, len(counts)),
		Files:  make([]statusFile, 0, len(files)),
	}
	for status, n := range counts {
		report.Counts[string(status)] = n
	}
	for _, f := range files {
		entry := statusFile{
			Path:       f.Path,
			Size:       f.Size,
			Status:     string(f.Status),
			ModifiedAt: f.ModifiedAt,
			Attempts:   f.Attempts,
			LastError:  f.LastError,
		}
		if !f.SentAt.IsZero() {
			sentAt := f.SentAt
			entry.SentAt = &sentAt
		}
		report.Files = append(report.Files, entry)
	}
	return report, nil
}

func writeStatus(w io.Writer, report *statusReport, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}

	rows := make([][]string, 0, len(report.Files))
	for _, f := range report.Files {
		rows = append(rows, []string{
			f.Status,
			humanize.IBytes(uint64(f.Size)),
			fmt.Sprint(f.Attempts),
			humanize.Time(f.ModifiedAt),
			f.Path,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(gray).
		Headers("STATUS", "SIZE", "ATTEMPTS", "MODIFIED", "PATH").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow || col != 0 {
				return cellStyle
			}
			if style, ok := statusStyle[rows[row][0]]; ok {
				return style.Padding(0, 1)
			}
			return cellStyle
		})

	_, err := fmt.Fprintf(w, "game: %s\nstore: %s\n%s\n", report.Game, report.Store, t.String())
	return err
}
