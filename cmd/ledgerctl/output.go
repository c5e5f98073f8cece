package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/jmerrifield20/serviceledger/pkg/client"
)

var (
	colorRed    = color.New(color.FgRed, color.Bold)
	colorGreen  = color.New(color.FgGreen, color.Bold)
	colorYellow = color.New(color.FgYellow)
	colorCyan   = color.New(color.FgCyan)
)

const timeLayout = "2006-01-02 15:04:05Z07:00"

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *cli) printRecord(out io.Writer, rec *client.Record) error {
	if a.format == "json" {
		return printJSON(out, rec)
	}
	colorCyan.Fprintf(out, "Block %d\n", rec.BlockNumber)
	fmt.Fprintf(out, "ID:           %s\n", rec.ID)
	fmt.Fprintf(out, "Transaction:  %s\n", rec.TransactionID)
	fmt.Fprintf(out, "Type:         %s\n", rec.RecordType)
	fmt.Fprintf(out, "Owner:        %s\n", rec.OwnerID)
	fmt.Fprintf(out, "Vehicle:      %s\n", rec.VehicleID)
	if rec.WorkOrderID != nil {
		fmt.Fprintf(out, "Work order:   %s\n", *rec.WorkOrderID)
	}
	fmt.Fprintf(out, "Service date: %s\n", rec.Payload.ServiceDate.Format("2006-01-02"))
	fmt.Fprintf(out, "Description:  %s\n", rec.Payload.Description)
	fmt.Fprintf(out, "Total cost:   %s\n", rec.Payload.TotalCost.StringFixed(2))
	fmt.Fprintf(out, "Odometer:     %d\n", rec.Payload.Odometer)
	fmt.Fprintf(out, "Timestamp:    %s\n", rec.Timestamp.Format(timeLayout))
	fmt.Fprintf(out, "Hash:         %s\n", rec.Hash)
	fmt.Fprintf(out, "Previous:     %s\n", rec.PreviousHash)
	fmt.Fprint(out, "Verified:     ")
	if rec.Verified && rec.VerifiedAt != nil {
		colorGreen.Fprint(out, "yes")
		fmt.Fprintf(out, " (by %s at %s)\n", rec.VerifiedBy, rec.VerifiedAt.Format(timeLayout))
	} else {
		colorYellow.Fprintln(out, "pending")
	}
	return nil
}

func (a *cli) printVerification(out io.Writer, res *client.VerificationResult) error {
	if a.format == "json" {
		return printJSON(out, res)
	}
	if res.Valid {
		colorGreen.Fprint(out, "VALID")
		fmt.Fprintf(out, "  block %d verified by %s\n", res.Record.BlockNumber, res.Record.VerifiedBy)
		return nil
	}
	colorRed.Fprintf(out, "INVALID (%s)", res.Reason)
	fmt.Fprintf(out, "  block %d\n", res.Record.BlockNumber)
	if d := res.Details; d != nil {
		if d.ComputedHash != "" {
			fmt.Fprintf(out, "  computed hash:  %s\n", d.ComputedHash)
			fmt.Fprintf(out, "  stored hash:    %s\n", d.StoredHash)
		}
		if d.ExpectedPreviousHash != "" || d.ActualPreviousHash != "" {
			fmt.Fprintf(out, "  expected prev:  %s\n", d.ExpectedPreviousHash)
			fmt.Fprintf(out, "  actual prev:    %s\n", d.ActualPreviousHash)
		}
	}
	return nil
}

func printRecordTable(out io.Writer, records []*client.Record) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "no matching records")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BLOCK\tTYPE\tSERVICE DATE\tVEHICLE\tCOST\tVERIFIED\tHASH")
	for _, r := range records {
		verified := "pending"
		if r.Verified {
			verified = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.BlockNumber, r.RecordType, r.Payload.ServiceDate.Format("2006-01-02"),
			r.VehicleID, r.Payload.TotalCost.StringFixed(2), verified, short(r.Hash))
	}
	return w.Flush()
}

// short abbreviates a 64-char hash for tables.
func short(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16] + "…"
}
