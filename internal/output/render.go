// Package output renders cycle reports and tier statistics for the terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/usecase"
)

const dateLayout = "2006-01-02"

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{ShowHeader: tw.Off},
			},
		}),
	)
}

// ReportJSON writes the report as indented JSON.
func ReportJSON(w io.Writer, report domain.RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(report)
}

// Report writes a per-tier table followed by the merge and import outcome.
func Report(w io.Writer, report domain.RunReport) error {
	fmt.Fprintf(w, "%s run %s (hour %d)\n", report.Mode, report.RunKey, report.CurrentHour)

	table := newTable(w)
	table.Header([]string{"Tier", "Status", "Exported", "Success", "Failed", "Skipped", "Duration", "Error"})
	rows := make([][]string, 0, len(report.Tiers))
	for _, o := range report.Tiers {
		exported, success, failed, skipped := "-", "-", "-", "-"
		if o.Export != nil && o.Export.Success {
			exported = strconv.Itoa(o.Export.Count)
		}
		if o.Fetch != nil && o.Fetch.Success {
			success = strconv.Itoa(o.Fetch.Counts.Success)
			failed = strconv.Itoa(o.Fetch.Counts.Failed)
			skipped = strconv.Itoa(o.Fetch.Counts.Skipped)
		}
		rows = append(rows, []string{
			string(o.Tier),
			statusText(o.Status),
			exported, success, failed, skipped,
			o.FinishedAt.Sub(o.StartedAt).Round(time.Second).String(),
			o.Error,
		})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	if report.Mode == domain.ModeScheduled && !report.ColdSelected && report.NextColdHour >= 0 {
		fmt.Fprintf(w, "cold tier next runs at %02d:00\n", report.NextColdHour)
	}
	if report.Merged != nil {
		fmt.Fprintf(w, "merged: total=%d success=%d failed=%d skipped=%d\n",
			report.Merged.Total, report.Merged.Success, report.Merged.Failed, report.Merged.Skipped)
	}

	switch {
	case !report.Import.Attempted && report.Import.Error == "":
		fmt.Fprintln(w, "import: nothing to import")
	case report.Import.Skipped:
		fmt.Fprintln(w, "import: run already imported, skipped")
	case report.Import.Success:
		fmt.Fprintf(w, "import: %d records applied\n", report.Import.Applied)
	default:
		fmt.Fprintf(w, "import: %s\n", color.RedString("failed: %s", report.Import.Error))
	}

	if report.Success {
		color.New(color.FgGreen, color.Bold).Fprintln(w, "cycle succeeded")
	} else {
		color.New(color.FgRed, color.Bold).Fprintln(w, "cycle failed")
	}
	return nil
}

// Stats writes the tier classification of the backing store.
func Stats(w io.Writer, stats usecase.TierStats, nextColdHour int) error {
	fmt.Fprintf(w, "valid works: %d (hot window %d days, cutoff %s)\n",
		stats.TotalWorks, stats.HotDays, stats.Cutoff.Format(dateLayout))

	table := newTable(w)
	table.Header([]string{"Tier", "Works", "Newest", "Oldest"})
	if err := table.Bulk([][]string{
		summaryRow(domain.TierHot, stats.Hot),
		summaryRow(domain.TierCold, stats.Cold),
	}); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	if nextColdHour >= 0 {
		fmt.Fprintf(w, "next cold crawl at %02d:00\n", nextColdHour)
	}
	return nil
}

func summaryRow(tier domain.Tier, s usecase.TierSummary) []string {
	return []string{string(tier), strconv.Itoa(s.Count), describe(s.Newest), describe(s.Oldest)}
}

func describe(item *domain.WorkItem) string {
	if item == nil {
		return "-"
	}
	published := "unknown"
	if !item.PublishedAt.IsZero() {
		published = item.PublishedAt.Format(dateLayout)
	}
	return fmt.Sprintf("%s (%s)", item.Title, published)
}

func statusText(status domain.TierStatus) string {
	switch status {
	case domain.TierStatusSuccess:
		return color.GreenString(string(status))
	case domain.TierStatusSkipped:
		return color.YellowString(string(status))
	default:
		return color.RedString(string(status))
	}
}
