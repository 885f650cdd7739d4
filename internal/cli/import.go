package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petrbroz/bim360-issue-editor/pkg/excel"
	"github.com/petrbroz/bim360-issue-editor/pkg/forge"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import edited issues from an XLSX workbook back into BIM360",
	Long: `Import the Issues sheet of a previously exported workbook back into
a BIM360 project.

Every row is compared against the current state of the issue on the server;
only fields that actually changed are submitted. Rows without an issue id
create new issues. A row that cannot be parsed or written is reported and
skipped, it never stops the rest of the import.

Rows are written concurrently by default; --sequential processes them one at
a time in sheet order.`,
	Example: `  # Import edits
  bim360-sync import --input=issues.xlsx

  # Import deterministically, one row at a time
  bim360-sync import --input=issues.xlsx --sequential

  # Retry just rows 2 through 50
  bim360-sync import --input=issues.xlsx --row-range=2:50`,
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	input, _ := cmd.Flags().GetString("input")
	sequential, _ := cmd.Flags().GetBool("sequential")

	opts := excel.ImportOptions{Sequential: sequential}
	if rowRange, _ := cmd.Flags().GetString("row-range"); rowRange != "" {
		if n, err := fmt.Sscanf(rowRange, "%d:%d", &opts.FromRow, &opts.ToRow); err != nil || n != 2 {
			return fmt.Errorf("invalid --row-range %q, expected first:last", rowRange)
		}
	}

	workbook, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", input, err)
	}

	// Progress goes to stderr; stdout carries only the JSON result.
	fmt.Fprintln(os.Stderr, "📄 Loading configuration...")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	fmt.Fprintln(os.Stderr, "🔗 Connecting to BIM360...")
	client := forge.NewClient(cfg)
	ctx := context.Background()
	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("failed to authenticate with BIM360: %w", err)
	}

	fmt.Fprintf(os.Stderr, "🚀 Importing issues from %s\n", input)
	result, err := excel.NewImporter(client, log).Import(ctx, cfg.IssueContainerID, workbook, opts)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	// The per-row ledger goes to stdout as JSON so other tools can consume it.
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize import result: %w", err)
	}
	fmt.Println(string(encoded))

	if len(result.Failed) > 0 {
		return fmt.Errorf("%d row(s) failed to import", len(result.Failed))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringP("input", "i", "", "Path of the XLSX file to import (required)")
	importCmd.Flags().Bool("sequential", false, "Process rows one at a time in sheet order")
	importCmd.Flags().String("row-range", "", "Only import sheet rows first:last (inclusive)")

	_ = importCmd.MarkFlagRequired("input")
}
