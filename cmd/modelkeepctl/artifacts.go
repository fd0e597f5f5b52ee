package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Upload and fetch model artifacts",
}

type artifactRef struct {
	Ref  string `json:"ref"`
	Size int64  `json:"size"`
}

var artifactsUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload an artifact and print its reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()

		var ref artifactRef
		if err := client.upload(registryAPIBase+"/artifacts", f, &ref); err != nil {
			return fmt.Errorf("failed to upload artifact: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(ref)
		}
		fmt.Printf("Uploaded %s (%d bytes) as %s\n", args[0], ref.Size, ref.Ref)
		return nil
	},
}

var artifactsStatCmd = &cobra.Command{
	Use:   "stat <ref>",
	Short: "Show an artifact's size",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var ref artifactRef
		if err := client.getJSON(registryAPIBase+"/artifacts/"+args[0]+"/meta", &ref); err != nil {
			return fmt.Errorf("failed to stat artifact: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(ref)
		}
		printTable([]string{"Ref", "Size"}, [][]string{{ref.Ref, fmt.Sprintf("%d", ref.Size)}})
		return nil
	},
}

var downloadFile string

var artifactsDownloadCmd = &cobra.Command{
	Use:   "download <ref>",
	Short: "Download an artifact to a file or stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		out := os.Stdout
		if downloadFile != "" {
			f, err := os.Create(downloadFile)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", downloadFile, err)
			}
			defer f.Close()
			out = f
		}

		if err := client.download(registryAPIBase+"/artifacts/"+args[0], out); err != nil {
			return fmt.Errorf("failed to download artifact: %w", err)
		}
		if downloadFile != "" {
			fmt.Fprintf(os.Stderr, "Wrote %s\n", downloadFile)
		}
		return nil
	},
}

func init() {
	artifactsDownloadCmd.Flags().StringVar(&downloadFile, "file", "", "Write to this file instead of stdout")

	artifactsCmd.AddCommand(artifactsUploadCmd)
	artifactsCmd.AddCommand(artifactsStatCmd)
	artifactsCmd.AddCommand(artifactsDownloadCmd)
}
