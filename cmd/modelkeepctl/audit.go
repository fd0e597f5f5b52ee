package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelkeep/modelkeep/pkg/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read the audit trail (admin only)",
}

var (
	auditActor     string
	auditAction    string
	auditResource  string
	auditOutcome   string
	auditPageSize  int
	auditPageToken string
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		path := auditAPIBase + "/records?" + listQuery(map[string]string{
			"actor":         auditActor,
			"action":        auditAction,
			"resource":      auditResource,
			"outcome":       auditOutcome,
			"pageSize":      intParam(auditPageSize),
			"nextPageToken": auditPageToken,
		})

		var result struct {
			Records       []audit.Record `json:"records"`
			NextPageToken string         `json:"nextPageToken"`
			TotalSize     int64          `json:"totalSize"`
		}
		if err := client.getJSON(path, &result); err != nil {
			return fmt.Errorf("failed to list audit records: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(result)
		}

		headers := []string{"ID", "Actor", "Action", "Resource", "Outcome", "Status", "Created"}
		rows := make([][]string, 0, len(result.Records))
		for _, rec := range result.Records {
			resource := rec.Resource
			if rec.ResourceID != "" {
				resource += "/" + rec.ResourceID
			}
			rows = append(rows, []string{
				truncate(rec.ID, 12),
				rec.Actor,
				rec.Action,
				resource,
				rec.Outcome,
				strconv.Itoa(rec.StatusCode),
				rec.CreatedAt.Format(time.RFC3339),
			})
		}
		printTable(headers, rows)
		fmt.Printf("Total: %d\n", result.TotalSize)
		if result.NextPageToken != "" {
			fmt.Printf("Next page: --page-token %s\n", result.NextPageToken)
		}
		return nil
	},
}

var auditGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get one audit record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var rec audit.Record
		if err := client.getJSON(auditAPIBase+"/records/"+args[0], &rec); err != nil {
			return fmt.Errorf("failed to get audit record: %w", err)
		}

		return printOutput(rec)
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditActor, "actor", "", "Filter by actor")
	auditListCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action (create, promote, rollback, begin, ...)")
	auditListCmd.Flags().StringVar(&auditResource, "resource", "", "Filter by resource collection")
	auditListCmd.Flags().StringVar(&auditOutcome, "outcome", "", "Filter by outcome (success, denied, failure)")
	auditListCmd.Flags().IntVar(&auditPageSize, "page-size", 0, "Page size")
	auditListCmd.Flags().StringVar(&auditPageToken, "page-token", "", "Page token from a previous response")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditGetCmd)
}
