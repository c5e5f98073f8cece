package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/serviceledger/internal/identity"
	"github.com/jmerrifield20/serviceledger/pkg/client"
)

// ── audit ────────────────────────────────────────────────────────────────────

func newAuditCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Walk the whole chain and report every broken link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.client()
			if err != nil {
				return err
			}
			report, err := c.Audit(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if app.format == "json" {
				if err := printJSON(out, report); err != nil {
					return err
				}
			} else if err := printAudit(out, report); err != nil {
				return err
			}
			if !report.IsValid {
				return errVerificationFailed
			}
			return nil
		},
	}
}

func printAudit(out io.Writer, report *client.AuditReport) error {
	if report.IsValid {
		colorGreen.Fprintf(out, "CHAIN VALID")
		fmt.Fprintf(out, "  %d block(s) checked at %s\n", report.TotalBlocks, report.CheckedAt.Format("2006-01-02 15:04:05Z07:00"))
		return nil
	}
	colorRed.Fprintf(out, "CHAIN BROKEN")
	fmt.Fprintf(out, "  %d issue(s) in %d block(s)\n\n", len(report.Issues), report.TotalBlocks)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BLOCK\tKIND\tEXPECTED PREVIOUS\tACTUAL PREVIOUS")
	for _, issue := range report.Issues {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", issue.BlockNumber, issue.Kind,
			short(issue.ExpectedPreviousHash), short(issue.ActualPreviousHash))
	}
	return w.Flush()
}

// ── stats ────────────────────────────────────────────────────────────────────

func newStatsCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ledger totals and verification rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.client()
			if err != nil {
				return err
			}
			st, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if app.format == "json" {
				return printJSON(cmd.OutOrStdout(), st)
			}
			return printStats(cmd.OutOrStdout(), st)
		},
	}
}

func printStats(out io.Writer, st *client.Stats) error {
	fmt.Fprintf(out, "Records:       %d\n", st.Total)
	fmt.Fprintf(out, "Verified:      %d\n", st.Verified)
	fmt.Fprintf(out, "Pending:       %d\n", st.Pending)
	fmt.Fprintf(out, "Verify rate:   %.2f%%\n", st.VerificationRate)
	fmt.Fprintf(out, "Latest block:  %d\n", st.LatestBlock)
	if st.FirstRecordAt != nil {
		fmt.Fprintf(out, "First record:  %s\n", st.FirstRecordAt.Format("2006-01-02 15:04:05Z07:00"))
	}
	if st.LastRecordAt != nil {
		fmt.Fprintf(out, "Last record:   %s\n", st.LastRecordAt.Format("2006-01-02 15:04:05Z07:00"))
	}
	if len(st.ByType) == 0 {
		return nil
	}

	types := make([]string, 0, len(st.ByType))
	for t := range st.ByType {
		types = append(types, string(t))
	}
	sort.Strings(types)

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tCOUNT")
	for _, t := range types {
		fmt.Fprintf(w, "%s\t%d\n", t, st.ByType[client.RecordType(t)])
	}
	return w.Flush()
}

// ── token ────────────────────────────────────────────────────────────────────

func newTokenCmd(app *cli) *cobra.Command {
	var (
		operator string
		secret   string
		save     bool
	)
	cmd := &cobra.Command{
		Use:   "token --operator <name>",
		Short: "Exchange the operator secret for a bearer token",
		Long: `token asks ledgerd for an operator token. The secret is taken from
--secret, then LEDGERCTL_SECRET, then the first line of stdin.

With --save the token is written to the config file so later commands use it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("LEDGERCTL_SECRET")
			}
			if secret == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Operator secret: ")
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				secret = line
			}

			c, err := app.client()
			if err != nil {
				return err
			}
			tok, err := c.IssueToken(cmd.Context(), operator, secret)
			if err != nil {
				return err
			}

			if save {
				if err := app.saveToken(tok.AccessToken); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "token saved to %s\n", app.v.ConfigFileUsed())
			}
			if app.format == "json" {
				return printJSON(cmd.OutOrStdout(), tok)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator name recorded as verified_by")
	cmd.Flags().StringVar(&secret, "secret", "", "operator secret (prefer LEDGERCTL_SECRET or stdin)")
	cmd.Flags().BoolVar(&save, "save", false, "store the token in the config file")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func (a *cli) saveToken(token string) error {
	path := a.v.ConfigFileUsed()
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("locate home dir: %w", err)
		}
		path = filepath.Join(home, ".ledgerctl", "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	a.v.Set("token", token)
	if err := a.v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// ── hash-secret ──────────────────────────────────────────────────────────────

func newHashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret",
		Short: "Hash an operator secret for auth.operator_secret_hash",
		Long: `hash-secret reads a secret from the first line of stdin and prints its
bcrypt hash, ready to paste into ledgerd.yaml:

  echo -n 'a long shared secret' | ledgerctl hash-secret`,
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readLine(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := identity.HashSecret(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("no input on stdin")
	}
	return line, nil
}
