package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/tabarnam/enrich-cli/internal/docstore"
	"github.com/tabarnam/enrich-cli/internal/model"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List import control documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sessions"); err != nil {
			return err
		}

		ctx := cmd.Context()
		container, err := initContainer(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		out := make(map[string][]docstore.Document)
		for label, prefix := range map[string]string{
			"resume":   model.ResumeDocPrefix,
			"session":  model.SessionDocPrefix,
			"complete": model.CompleteDocPrefix,
			"dlq":      model.DLQDocPrefix,
		} {
			items, err := container.ListIDPrefix(ctx, prefix, sessionsLimit)
			if err != nil {
				return err
			}
			for _, item := range items {
				out[label] = append(out[label], item.Body)
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Show all control documents for one session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sessions"); err != nil {
			return err
		}

		ctx := cmd.Context()
		container, err := initContainer(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		client := docstore.NewClient(container)
		hint := docstore.Document{"partition_key": model.ControlPartitionKey}

		out := make(map[string]docstore.Document)
		for label, id := range map[string]string{
			"resume":   model.ResumeDocPrefix + args[0],
			"session":  model.SessionDocPrefix + args[0],
			"complete": model.CompleteDocPrefix + args[0],
		} {
			item, err := client.Read(ctx, id, hint)
			if err != nil {
				continue
			}
			out[label] = item.Body
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 50, "max documents per control type")
	sessionsCmd.AddCommand(sessionInspectCmd)
	rootCmd.AddCommand(sessionsCmd)
}
