package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jmerrifield20/serviceledger/pkg/client"
)

// ── append ───────────────────────────────────────────────────────────────────

func newAppendCmd(app *cli) *cobra.Command {
	var (
		file    string
		owner   string
		vehicle string
		typ     string
	)
	cmd := &cobra.Command{
		Use:   "append --file record.json",
		Short: "Append a service record to the ledger",
		Long: `Append reads an append request from a JSON file ("-" for stdin):

  {
    "owner_id": "…", "vehicle_id": "…", "record_type": "maintenance",
    "payload": { "service_date": "2026-05-14T08:30:00Z", "description": "…", … }
  }

--owner, --vehicle and --type override the corresponding fields.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readAppendRequest(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			if owner != "" {
				if req.OwnerID, err = uuid.Parse(owner); err != nil {
					return fmt.Errorf("--owner: %w", err)
				}
			}
			if vehicle != "" {
				if req.VehicleID, err = uuid.Parse(vehicle); err != nil {
					return fmt.Errorf("--vehicle: %w", err)
				}
			}
			if typ != "" {
				req.RecordType = client.RecordType(typ)
			}

			c, err := app.client()
			if err != nil {
				return err
			}
			rec, err := c.Append(cmd.Context(), req)
			if err != nil {
				return err
			}
			return app.printRecord(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", `append request JSON file, or "-" for stdin`)
	cmd.Flags().StringVar(&owner, "owner", "", "owner UUID")
	cmd.Flags().StringVar(&vehicle, "vehicle", "", "vehicle UUID")
	cmd.Flags().StringVar(&typ, "type", "", "record type (service_history, maintenance, repair, inspection, warranty)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readAppendRequest(stdin io.Reader, file string) (client.AppendRequest, error) {
	var req client.AppendRequest
	var r io.Reader = stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return req, fmt.Errorf("open %s: %w", file, err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(io.LimitReader(r, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("decode append request: %w", err)
	}
	return req, nil
}

// ── lookups ──────────────────────────────────────────────────────────────────

func newGetCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <record-id>",
		Short: "Show a record by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid record id: %w", err)
			}
			c, err := app.client()
			if err != nil {
				return err
			}
			rec, err := c.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return app.printRecord(cmd.OutOrStdout(), rec)
		},
	}
}

func newHashCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <sha256-hex>",
		Short: "Show the record with the given content hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.client()
			if err != nil {
				return err
			}
			rec, err := c.GetByHash(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.printRecord(cmd.OutOrStdout(), rec)
		},
	}
}

func newBlockCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "block <n>",
		Short: "Show the record at block n",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || n < 1 {
				return fmt.Errorf("block number must be a positive integer")
			}
			c, err := app.client()
			if err != nil {
				return err
			}
			rec, err := c.GetBlock(cmd.Context(), n)
			if err != nil {
				return err
			}
			return app.printRecord(cmd.OutOrStdout(), rec)
		},
	}
}

func newHeadCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Show the chain length and root hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.client()
			if err != nil {
				return err
			}
			ov, err := c.Overview(cmd.Context())
			if err != nil {
				return err
			}
			if app.format == "json" {
				return printJSON(cmd.OutOrStdout(), ov)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Blocks:      %d\n", ov.Blocks)
			fmt.Fprintf(out, "Root:        %s\n", ov.Root)
			if ov.HeadTransactionID != "" {
				fmt.Fprintf(out, "Head Tx:     %s\n", ov.HeadTransactionID)
			}
			return nil
		},
	}
}

// ── find ─────────────────────────────────────────────────────────────────────

func newFindCmd(app *cli) *cobra.Command {
	var (
		owner, vehicle, typ string
		verified            string
		from, to            string
		limit, offset       int
	)
	cmd := &cobra.Command{
		Use:   "find",
		Short: "List records matching the given filters, newest block first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := client.Filter{RecordType: client.RecordType(typ), Limit: limit, Offset: offset}
			var err error
			if owner != "" {
				if f.OwnerID, err = uuid.Parse(owner); err != nil {
					return fmt.Errorf("--owner: %w", err)
				}
			}
			if vehicle != "" {
				if f.VehicleID, err = uuid.Parse(vehicle); err != nil {
					return fmt.Errorf("--vehicle: %w", err)
				}
			}
			if verified != "" {
				b, err := strconv.ParseBool(verified)
				if err != nil {
					return fmt.Errorf("--verified must be true or false")
				}
				f.Verified = &b
			}
			if f.From, err = parseDateFlag("from", from); err != nil {
				return err
			}
			if f.To, err = parseDateFlag("to", to); err != nil {
				return err
			}

			c, err := app.client()
			if err != nil {
				return err
			}
			res, err := c.Find(cmd.Context(), f)
			if err != nil {
				return err
			}
			if app.format == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			return printRecordTable(cmd.OutOrStdout(), res.Records)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&owner, "owner", "", "owner UUID")
	fl.StringVar(&vehicle, "vehicle", "", "vehicle UUID")
	fl.StringVar(&typ, "type", "", "record type")
	fl.StringVar(&verified, "verified", "", "true or false")
	fl.StringVar(&from, "from", "", "earliest service date (YYYY-MM-DD or RFC 3339)")
	fl.StringVar(&to, "to", "", "latest service date (YYYY-MM-DD or RFC 3339)")
	fl.IntVar(&limit, "limit", 50, "maximum records to return")
	fl.IntVar(&offset, "offset", 0, "records to skip")
	return cmd
}

func parseDateFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, fmt.Errorf("--%s must be YYYY-MM-DD or RFC 3339", name)
	}
	return &t, nil
}

// ── verify ───────────────────────────────────────────────────────────────────

// errVerificationFailed makes the process exit non-zero when a record or the
// chain is invalid.
var errVerificationFailed = errors.New("verification failed")

func newVerifyCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <record-id>",
		Short: "Re-check a record's hash and chain link, marking it verified on success",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid record id: %w", err)
			}
			c, err := app.client()
			if err != nil {
				return err
			}
			res, err := c.Verify(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := app.printVerification(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Valid {
				return errVerificationFailed
			}
			return nil
		},
	}
}
