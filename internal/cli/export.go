package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petrbroz/bim360-issue-editor/pkg/excel"
	"github.com/petrbroz/bim360-issue-editor/pkg/forge"
	"github.com/petrbroz/bim360-issue-editor/pkg/loader"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export BIM360 issues into an XLSX workbook",
	Long: `Export issues and their reference data (types, users, locations, documents)
from a BIM360 project into an XLSX workbook.

The workbook gets one worksheet per collection. Editable cells on the Issues
sheet carry dropdowns pointing at the reference sheets; server-managed columns
are locked. References are written as "Name [id]" cells so they survive the
round trip through a spreadsheet editor.

Filtering:
  • --due-date, --created-at accept a date or date range (e.g. 2026-01-01..2026-02-01)
  • --created-by, --owner take a user id
  • --issue-type, --issue-subtype take a taxonomy id
  • --offset/--limit export a single page instead of everything`,
	Example: `  # Export all issues
  bim360-sync export --output=issues.xlsx

  # Export only issues due in January
  bim360-sync export --output=issues.xlsx --due-date=2026-01-01..2026-01-31

  # Export one page of 64 issues
  bim360-sync export --output=issues.xlsx --offset=0 --limit=64`,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")

	fmt.Println("📄 Loading configuration...")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	fmt.Println("🔗 Connecting to BIM360...")
	client := forge.NewClient(cfg)
	ctx := context.Background()
	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("failed to authenticate with BIM360: %w", err)
	}

	filter := forge.IssueFilter{}
	filter.DueDate, _ = cmd.Flags().GetString("due-date")
	filter.CreatedAt, _ = cmd.Flags().GetString("created-at")
	filter.CreatedBy, _ = cmd.Flags().GetString("created-by")
	filter.Owner, _ = cmd.Flags().GetString("owner")
	filter.IssueTypeID, _ = cmd.Flags().GetString("issue-type")
	filter.IssueSubtypeID, _ = cmd.Flags().GetString("issue-subtype")
	filter.SyncedAfter, _ = cmd.Flags().GetString("synced-after")

	var page *loader.Page
	if cmd.Flags().Changed("limit") {
		offset, _ := cmd.Flags().GetInt("offset")
		limit, _ := cmd.Flags().GetInt("limit")
		page = &loader.Page{Offset: offset, Limit: limit}
	}
	referencedOnly, _ := cmd.Flags().GetBool("referenced-documents")

	fmt.Println("⬇️  Fetching issues and reference data...")
	l := loader.New(client, log, cfg.PageSize)
	data, err := l.ExportData(ctx, loader.ExportRequest{
		IssueContainerID:        cfg.IssueContainerID,
		LocationContainerID:     cfg.LocationContainerID,
		HubID:                   cfg.HubID,
		ProjectID:               cfg.ProjectID,
		Filter:                  filter,
		Page:                    page,
		ReferencedDocumentsOnly: referencedOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to load export data: %w", err)
	}
	fmt.Printf("✅ Loaded %d issues, %d users, %d locations, %d documents\n",
		len(data.Issues), len(data.Users), len(data.Locations), len(data.Documents))

	fmt.Println("📊 Building workbook...")
	workbook, err := excel.NewExporter(log).ExportBytes(data)
	if err != nil {
		return fmt.Errorf("failed to build workbook: %w", err)
	}

	if err := os.WriteFile(output, workbook, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	fmt.Printf("🎯 Exported %d issues to %s\n", len(data.Issues), output)
	return nil
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringP("output", "o", "issues.xlsx", "Path of the XLSX file to write")

	// Issue filters, passed through to the issues service
	exportCmd.Flags().String("due-date", "", "Filter by due date (date or start..end range)")
	exportCmd.Flags().String("created-at", "", "Filter by creation date (date or start..end range)")
	exportCmd.Flags().String("created-by", "", "Filter by creator user id")
	exportCmd.Flags().String("owner", "", "Filter by owner user id")
	exportCmd.Flags().String("issue-type", "", "Filter by issue type id")
	exportCmd.Flags().String("issue-subtype", "", "Filter by issue subtype id")
	exportCmd.Flags().String("synced-after", "", "Only issues updated after this timestamp")

	// Single-page export
	exportCmd.Flags().Int("offset", 0, "Offset of the single page to export (with --limit)")
	exportCmd.Flags().Int("limit", 0, "Export a single page of this many issues instead of everything")

	exportCmd.Flags().Bool("referenced-documents", false,
		"Resolve only documents linked from issues instead of walking the whole folder tree")
}
