package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelkeep/modelkeep/pkg/preset"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Manage saved input presets",
}

var presetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var result struct {
			Items []preset.Preset `json:"items"`
		}
		if err := client.getJSON(ledgerAPIBase+"/presets", &result); err != nil {
			return fmt.Errorf("failed to list presets: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"ID", "Name", "Owner", "Updated"}
		rows := make([][]string, 0, len(result.Items))
		for _, p := range result.Items {
			rows = append(rows, []string{
				truncate(p.ID, 12),
				p.Name,
				p.Owner,
				p.UpdatedAt.Format(time.RFC3339),
			})
		}
		printTable(headers, rows)
		return nil
	},
}

var (
	presetName  string
	presetInput string
)

var presetsSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save a named input preset",
	Long: `Save a preset. Saving again under the same name replaces the stored
inputs. Presets are not validated at save time; compatibility with the
active model is checked on load.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		raw, err := readJSONFlag(presetInput)
		if err != nil {
			return fmt.Errorf("invalid --input: %w", err)
		}
		body := map[string]any{
			"name":   presetName,
			"inputs": json.RawMessage(raw),
		}

		var p preset.Preset
		if err := client.postJSON(ledgerAPIBase+"/presets", body, &p); err != nil {
			return fmt.Errorf("failed to save preset: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(p)
		}
		fmt.Printf("Saved preset %s (%s)\n", p.Name, p.ID)
		return nil
	},
}

var presetsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Load a preset and check it against the active model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var result struct {
			Preset        *preset.Preset              `json:"preset"`
			Compatibility *preset.CompatibilityReport `json:"compatibility"`
		}
		if err := client.getJSON(ledgerAPIBase+"/presets/"+args[0], &result); err != nil {
			return fmt.Errorf("failed to load preset: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		p := result.Preset
		printTable([]string{"ID", "Name", "Owner", "Updated"}, [][]string{{
			truncate(p.ID, 12), p.Name, p.Owner, p.UpdatedAt.Format(time.RFC3339),
		}})
		if c := result.Compatibility; c != nil {
			if c.Compatible {
				fmt.Printf("Compatible with active version %d\n", c.ActiveVersionID)
			} else {
				fmt.Printf("Not compatible: %s\n", c.Detail)
				for _, v := range c.Violations {
					fmt.Printf("  %s: %s\n", v.Field, v.Reason)
				}
			}
		}
		return nil
	},
}

var presetsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		if err := client.delete(ledgerAPIBase + "/presets/" + args[0]); err != nil {
			return fmt.Errorf("failed to delete preset: %w", err)
		}
		fmt.Printf("Deleted preset %s\n", args[0])
		return nil
	},
}

func init() {
	presetsSaveCmd.Flags().StringVar(&presetName, "name", "", "Preset name, unique per owner")
	presetsSaveCmd.Flags().StringVar(&presetInput, "input", "", "Preset inputs as JSON, or @file")
	_ = presetsSaveCmd.MarkFlagRequired("name")
	_ = presetsSaveCmd.MarkFlagRequired("input")

	presetsCmd.AddCommand(presetsListCmd)
	presetsCmd.AddCommand(presetsSaveCmd)
	presetsCmd.AddCommand(presetsGetCmd)
	presetsCmd.AddCommand(presetsDeleteCmd)
}
