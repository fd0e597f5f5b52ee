package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/modelkeep/modelkeep/pkg/registry"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage model versions and their lifecycle",
}

var (
	modelsState     string
	modelsPageSize  int
	modelsPageToken string
)

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List model versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		path := registryAPIBase + "/models?" + listQuery(map[string]string{
			"state":         modelsState,
			"pageSize":      intParam(modelsPageSize),
			"nextPageToken": modelsPageToken,
		})

		var result struct {
			Items         []registry.ModelVersion `json:"items"`
			NextPageToken string                  `json:"nextPageToken"`
		}
		if err := client.getJSON(path, &result); err != nil {
			return fmt.Errorf("failed to list models: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		rows := make([][]string, 0, len(result.Items))
		for _, mv := range result.Items {
			rows = append(rows, modelRow(mv))
		}
		printTable(modelHeaders, rows)
		if result.NextPageToken != "" {
			fmt.Printf("Next page: --page-token %s\n", result.NextPageToken)
		}
		return nil
	},
}

var modelsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get one model version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var mv registry.ModelVersion
		if err := client.getJSON(registryAPIBase+"/models/"+args[0], &mv); err != nil {
			return fmt.Errorf("failed to get model: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(mv)
		}
		printTable(modelHeaders, [][]string{modelRow(mv)})
		return nil
	},
}

var modelsActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the currently active model version",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var mv registry.ModelVersion
		if err := client.getJSON(registryAPIBase+"/models/active", &mv); err != nil {
			return fmt.Errorf("failed to get active model: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(mv)
		}
		printTable(modelHeaders, [][]string{modelRow(mv)})
		return nil
	},
}

var (
	createName        string
	createVersion     string
	createDescription string
	createArtifact    string
	createSchema      string
	createFile        string
)

// modelManifest is the YAML shape accepted by create -f. Field names
// match the API body, so a manifest written from `get -o yaml` output
// round-trips.
type modelManifest struct {
	Name        string           `yaml:"name"`
	Version     string           `yaml:"version"`
	Description string           `yaml:"description"`
	ArtifactRef string           `yaml:"artifactRef"`
	Schema      []map[string]any `yaml:"schema"`
}

func readModelManifest(path string) (*modelManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m modelManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

var modelsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new draft model version",
	Long: `Register a new draft model version from flags, from a YAML
manifest (-f), or both. Flags override manifest values.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		m := &modelManifest{}
		if createFile != "" {
			var err error
			if m, err = readModelManifest(createFile); err != nil {
				return err
			}
		}
		if createName != "" {
			m.Name = createName
		}
		if createVersion != "" {
			m.Version = createVersion
		}
		if createDescription != "" {
			m.Description = createDescription
		}
		if createArtifact != "" {
			m.ArtifactRef = createArtifact
		}
		if m.Name == "" || m.Version == "" {
			return fmt.Errorf("name and version are required, via flags or the -f manifest")
		}

		body := map[string]any{
			"name":        m.Name,
			"version":     m.Version,
			"description": m.Description,
			"artifactRef": m.ArtifactRef,
		}
		if createSchema != "" {
			raw, err := readJSONFlag(createSchema)
			if err != nil {
				return fmt.Errorf("invalid --schema: %w", err)
			}
			body["schema"] = json.RawMessage(raw)
		} else if len(m.Schema) > 0 {
			body["schema"] = m.Schema
		}

		var mv registry.ModelVersion
		if err := client.postJSON(registryAPIBase+"/models", body, &mv); err != nil {
			return fmt.Errorf("failed to create model: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(mv)
		}
		fmt.Printf("Created model version %d (%s %s) in state %s\n", mv.ID, mv.Name, mv.Version, mv.State)
		return nil
	},
}

var (
	testPassed bool
	testInput  string
	testOutput string
)

var modelsTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Record a test result for a draft version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		body := map[string]any{"passed": testPassed}
		if testInput != "" {
			raw, err := readJSONFlag(testInput)
			if err != nil {
				return fmt.Errorf("invalid --input: %w", err)
			}
			body["sampleInput"] = json.RawMessage(raw)
		}
		if testOutput != "" {
			raw, err := readJSONFlag(testOutput)
			if err != nil {
				return fmt.Errorf("invalid --sample-output: %w", err)
			}
			body["sampleOutput"] = json.RawMessage(raw)
		}

		var rec registry.TestRecord
		if err := client.postJSON(registryAPIBase+"/models/"+args[0]+"/tests", body, &rec); err != nil {
			return fmt.Errorf("failed to record test: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(rec)
		}
		verdict := "failed"
		if rec.Passed {
			verdict = "passed"
		}
		fmt.Printf("Recorded %s test for version %d\n", verdict, rec.ModelVersionID)
		return nil
	},
}

var modelsTestsCmd = &cobra.Command{
	Use:   "tests <id>",
	Short: "List recorded tests for a version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var result struct {
			Items []registry.TestRecord `json:"items"`
		}
		if err := client.getJSON(registryAPIBase+"/models/"+args[0]+"/tests", &result); err != nil {
			return fmt.Errorf("failed to list tests: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"ID", "Passed", "Recorded-By", "Created"}
		rows := make([][]string, 0, len(result.Items))
		for _, rec := range result.Items {
			rows = append(rows, []string{
				truncate(rec.ID, 12),
				strconv.FormatBool(rec.Passed),
				rec.RecordedBy,
				rec.CreatedAt.Format(time.RFC3339),
			})
		}
		printTable(headers, rows)
		return nil
	},
}

var modelsPromoteCmd = &cobra.Command{
	Use:   "promote <id>",
	Short: "Promote a tested version to active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var rec registry.PromotionRecord
		if err := client.postJSON(registryAPIBase+"/models/"+args[0]+"/promote", nil, &rec); err != nil {
			return fmt.Errorf("failed to promote: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(rec)
		}
		fmt.Printf("Promoted version %d to active\n", rec.ModelVersionID)
		if rec.PreviousActiveID != nil {
			fmt.Printf("Archived previous active version %d\n", *rec.PreviousActiveID)
		}
		return nil
	},
}

var rollbackReason string

var modelsRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back to the previously active version",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		body := map[string]any{"reason": rollbackReason}

		var rec registry.PromotionRecord
		if err := client.postJSON(registryAPIBase+"/models/rollback", body, &rec); err != nil {
			return fmt.Errorf("failed to roll back: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(rec)
		}
		fmt.Printf("Rolled back to version %d\n", rec.ModelVersionID)
		return nil
	},
}

var (
	historyPageSize  int
	historyPageToken string
)

var modelsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the promotion and rollback trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		path := registryAPIBase + "/promotions?" + listQuery(map[string]string{
			"pageSize":      intParam(historyPageSize),
			"nextPageToken": historyPageToken,
		})

		var result struct {
			Items         []registry.PromotionRecord `json:"items"`
			NextPageToken string                     `json:"nextPageToken"`
		}
		if err := client.getJSON(path, &result); err != nil {
			return fmt.Errorf("failed to list promotions: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"ID", "Version", "Previous", "Type", "Actor", "Reason", "At"}
		rows := make([][]string, 0, len(result.Items))
		for _, rec := range result.Items {
			kind := "promote"
			if rec.Rollback {
				kind = "rollback"
			}
			previous := "-"
			if rec.PreviousActiveID != nil {
				previous = strconv.FormatUint(uint64(*rec.PreviousActiveID), 10)
			}
			rows = append(rows, []string{
				truncate(rec.ID, 12),
				strconv.FormatUint(uint64(rec.ModelVersionID), 10),
				previous,
				kind,
				rec.PromotedBy,
				truncate(rec.Reason, 40),
				rec.CreatedAt.Format(time.RFC3339),
			})
		}
		printTable(headers, rows)
		if result.NextPageToken != "" {
			fmt.Printf("Next page: --page-token %s\n", result.NextPageToken)
		}
		return nil
	},
}

var modelHeaders = []string{"ID", "Name", "Version", "State", "Created-By", "Created"}

func modelRow(mv registry.ModelVersion) []string {
	return []string{
		strconv.FormatUint(uint64(mv.ID), 10),
		mv.Name,
		mv.Version,
		string(mv.State),
		mv.CreatedBy,
		mv.CreatedAt.Format(time.RFC3339),
	}
}

func init() {
	modelsListCmd.Flags().StringVar(&modelsState, "state", "", "Filter by lifecycle state (draft, tested, active, archived)")
	modelsListCmd.Flags().IntVar(&modelsPageSize, "page-size", 0, "Page size")
	modelsListCmd.Flags().StringVar(&modelsPageToken, "page-token", "", "Page token from a previous response")

	modelsCreateCmd.Flags().StringVar(&createName, "name", "", "Model name")
	modelsCreateCmd.Flags().StringVar(&createVersion, "version", "", "Model version string")
	modelsCreateCmd.Flags().StringVar(&createDescription, "description", "", "Description")
	modelsCreateCmd.Flags().StringVar(&createArtifact, "artifact", "", "Artifact reference from a prior upload")
	modelsCreateCmd.Flags().StringVar(&createSchema, "schema", "", "Input schema as JSON, or @file")
	modelsCreateCmd.Flags().StringVarP(&createFile, "file", "f", "", "YAML manifest with name, version, artifactRef, schema")

	modelsTestCmd.Flags().BoolVar(&testPassed, "passed", true, "Whether the test passed")
	modelsTestCmd.Flags().StringVar(&testInput, "input", "", "Sample input as JSON, or @file")
	modelsTestCmd.Flags().StringVar(&testOutput, "sample-output", "", "Sample output as JSON, or @file")

	modelsRollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "Reason for the rollback")

	modelsHistoryCmd.Flags().IntVar(&historyPageSize, "page-size", 0, "Page size")
	modelsHistoryCmd.Flags().StringVar(&historyPageToken, "page-token", "", "Page token from a previous response")

	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsGetCmd)
	modelsCmd.AddCommand(modelsActiveCmd)
	modelsCmd.AddCommand(modelsCreateCmd)
	modelsCmd.AddCommand(modelsTestCmd)
	modelsCmd.AddCommand(modelsTestsCmd)
	modelsCmd.AddCommand(modelsPromoteCmd)
	modelsCmd.AddCommand(modelsRollbackCmd)
	modelsCmd.AddCommand(modelsHistoryCmd)
}
