package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/psantana5/reconwrap/internal/telemetry"
	"github.com/spf13/cobra"
)

var reportFailedOnly bool

var reportCmd = &cobra.Command{
	Use:   "report <run_id>_telemetry.yaml",
	Short: "Render a structured telemetry log as a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().BoolVar(&reportFailedOnly, "failed", false, "show only operations that failed")
}

func runReport(cmd *cobra.Command, args []string) error {
	doc, err := telemetry.ReadStructuredLog(args[0])
	if err != nil {
		return err
	}

	var total float64
	failed := 0
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Step", "Operation", "Duration", "CPU %", "GPU %", "Cores", "RSS Peak", "Mem Avail Min", "Node", "Status")

	for _, rec := range doc.Operations {
		total += rec.DurationSeconds
		if !rec.Succeeded() {
			failed++
		} else if reportFailedOnly {
			continue
		}

		avail := rec.SystemAvailableMinBytes
		if rec.MemoryScope == telemetry.MemoryScopeCgroup {
			avail = rec.ContainerAvailableMinBytes
		}
		table.Append(
			rec.Step,
			rec.Operation,
			telemetry.FormatDuration(rec.Duration()),
			strconv.FormatFloat(rec.CPUPercent, 'f', 1, 64),
			optFloat(rec.GPUPercent),
			strconv.FormatFloat(rec.ProcessCPUCores, 'f', 2, 64),
			telemetry.FormatGiB(rec.ProcessRSSPeakBytes),
			telemetry.FormatGiB(avail)+" ("+rec.MemoryScope+")",
			optString(rec.NodeName),
			status(rec),
		)
	}
	table.Render()

	fmt.Printf("\nRun %s: %d operations, %d failed, total %s\n",
		doc.RunID, len(doc.Operations), failed,
		telemetry.FormatDuration(telemetry.Record{DurationSeconds: total}.Duration()))
	return nil
}

func optFloat(v *float64) string {
	if v == nil {
		return telemetry.NotAvailable
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

func optString(v *string) string {
	if v == nil || *v == "" {
		return telemetry.NotAvailable
	}
	return *v
}

func status(rec telemetry.Record) string {
	if rec.Succeeded() {
		return "ok"
	}
	return "error: " + *rec.Error
}
