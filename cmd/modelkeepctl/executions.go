package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelkeep/modelkeep/pkg/ledger"
)

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Begin and inspect model executions",
}

var (
	beginModelVersion uint
	beginInput        string
	beginTags         []string
)

var executionsBeginCmd = &cobra.Command{
	Use:   "begin",
	Short: "Begin an execution against the active model version",
	Long: `Begin an execution. Inputs are validated against the model's schema
before anything is recorded; the result arrives asynchronously and can
be read back with "executions get".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		body := map[string]any{}
		if beginModelVersion != 0 {
			body["modelVersionId"] = beginModelVersion
		}
		if beginInput != "" {
			raw, err := readJSONFlag(beginInput)
			if err != nil {
				return fmt.Errorf("invalid --input: %w", err)
			}
			body["inputs"] = json.RawMessage(raw)
		}
		if len(beginTags) > 0 {
			body["tags"] = beginTags
		}

		var exec ledger.Execution
		if err := client.postJSON(ledgerAPIBase+"/executions", body, &exec); err != nil {
			return fmt.Errorf("failed to begin execution: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(exec)
		}
		fmt.Printf("Execution %s started against model version %d\n", exec.ID, exec.ModelVersionID)
		return nil
	},
}

var (
	execStatus         string
	execFilter         string
	execUser           string
	execFrom           string
	execTo             string
	execPageSize       int
	execPageToken      string
	execIncludeDeleted bool
)

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your executions, newest first",
	Long: `List executions. --filter takes an expression such as
'status = "failed" and inputs.age >= 65'; --requester and
--include-deleted need the admin role.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		params := map[string]string{
			"status":        execStatus,
			"filter":        execFilter,
			"user":          execUser,
			"from":          execFrom,
			"to":            execTo,
			"pageSize":      intParam(execPageSize),
			"nextPageToken": execPageToken,
		}
		if execIncludeDeleted {
			params["includeDeleted"] = "true"
		}
		path := ledgerAPIBase + "/executions?" + listQuery(params)

		var result struct {
			Items         []ledger.Execution `json:"items"`
			NextPageToken string             `json:"nextPageToken"`
		}
		if err := client.getJSON(path, &result); err != nil {
			return fmt.Errorf("failed to list executions: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"ID", "Model", "Status", "Requester", "Started", "Duration"}
		rows := make([][]string, 0, len(result.Items))
		for _, e := range result.Items {
			duration := "-"
			if e.IsTerminal() {
				duration = fmt.Sprintf("%dms", e.DurationMs)
			}
			rows = append(rows, []string{
				truncate(e.ID, 12),
				strconv.FormatUint(uint64(e.ModelVersionID), 10),
				string(e.Status),
				e.RequestedBy,
				e.StartedAt.Format(time.RFC3339),
				duration,
			})
		}
		printTable(headers, rows)
		if result.NextPageToken != "" {
			fmt.Printf("Next page: --page-token %s\n", result.NextPageToken)
		}
		return nil
	},
}

var executionsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get one execution with its inputs and output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var exec ledger.Execution
		if err := client.getJSON(ledgerAPIBase+"/executions/"+args[0], &exec); err != nil {
			return fmt.Errorf("failed to get execution: %w", err)
		}

		return printOutput(exec)
	},
}

var executionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		if err := client.delete(ledgerAPIBase + "/executions/" + args[0]); err != nil {
			return fmt.Errorf("failed to delete execution: %w", err)
		}
		fmt.Printf("Deleted execution %s\n", args[0])
		return nil
	},
}

func init() {
	executionsBeginCmd.Flags().UintVar(&beginModelVersion, "model", 0, "Model version id (default: the active version)")
	executionsBeginCmd.Flags().StringVar(&beginInput, "input", "", "Execution inputs as JSON, or @file")
	executionsBeginCmd.Flags().StringSliceVar(&beginTags, "tag", nil, "Tag to attach, repeatable")

	executionsListCmd.Flags().StringVar(&execStatus, "status", "", "Filter by status, comma separated (pending, running, succeeded, failed)")
	executionsListCmd.Flags().StringVar(&execFilter, "filter", "", "Filter expression")
	executionsListCmd.Flags().StringVar(&execUser, "requester", "", "List another user's executions (admin only)")
	executionsListCmd.Flags().StringVar(&execFrom, "from", "", "Only executions started at or after this time (RFC 3339 or YYYY-MM-DD)")
	executionsListCmd.Flags().StringVar(&execTo, "to", "", "Only executions started before this time")
	executionsListCmd.Flags().IntVar(&execPageSize, "page-size", 0, "Page size")
	executionsListCmd.Flags().StringVar(&execPageToken, "page-token", "", "Page token from a previous response")
	executionsListCmd.Flags().BoolVar(&execIncludeDeleted, "include-deleted", false, "Include soft-deleted executions (admin only)")

	executionsCmd.AddCommand(executionsBeginCmd)
	executionsCmd.AddCommand(executionsListCmd)
	executionsCmd.AddCommand(executionsGetCmd)
	executionsCmd.AddCommand(executionsDeleteCmd)
}
