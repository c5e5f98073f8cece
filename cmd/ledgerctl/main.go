package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/serviceledger/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const defaultServer = "http://localhost:8080"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the resolved global options for one invocation.
type cli struct {
	v        *viper.Viper
	cfgFile  string
	server   string
	token    string
	format   string
	timeout  time.Duration
	insecure bool
	noColor  bool
}

func newRootCmd() *cobra.Command {
	app := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Vehicle service ledger CLI",
		Long: `ledgerctl talks to a ledgerd server: append service records, look them
up by id, hash or block, verify them, and audit the whole chain.

Settings are read from flags, then LEDGERCTL_* environment variables, then
~/.ledgerctl/config.yaml (keys: server, token, format).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.loadConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&app.cfgFile, "config", "", "config file (default ~/.ledgerctl/config.yaml)")
	pf.String("server", defaultServer, "ledgerd base URL")
	pf.String("token", "", "operator bearer token for appends and verifications")
	pf.String("format", "text", "output format: text or json")
	pf.DurationVar(&app.timeout, "timeout", 30*time.Second, "request timeout")
	pf.BoolVar(&app.insecure, "insecure", false, "skip TLS certificate verification (development only)")
	pf.BoolVar(&app.noColor, "no-color", false, "disable coloured output")
	for _, key := range []string{"server", "token", "format"} {
		_ = app.v.BindPFlag(key, pf.Lookup(key))
	}

	root.AddCommand(
		newAppendCmd(app),
		newGetCmd(app),
		newHashCmd(app),
		newBlockCmd(app),
		newHeadCmd(app),
		newFindCmd(app),
		newVerifyCmd(app),
		newAuditCmd(app),
		newStatsCmd(app),
		newTokenCmd(app),
		newHashSecretCmd(),
		newVersionCmd(),
	)
	return root
}

func (a *cli) loadConfig(cmd *cobra.Command) error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(filepath.Join(home, ".ledgerctl"))
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}
	a.v.SetEnvPrefix("ledgerctl")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	a.server = a.v.GetString("server")
	a.token = a.v.GetString("token")
	a.format = a.v.GetString("format")
	if a.format != "text" && a.format != "json" {
		return fmt.Errorf("unknown --format %q (want text or json)", a.format)
	}
	if a.noColor {
		color.NoColor = true
	}
	return nil
}

// client builds an SDK client from the global options.
func (a *cli) client() (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(a.timeout)}
	if a.insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	if a.token != "" {
		opts = append(opts, client.WithBearerToken(a.token))
	}
	return client.New(a.server, opts...)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ledgerctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ledgerctl %s\n", version)
		},
	}
}
