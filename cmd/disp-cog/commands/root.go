package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go.ngs.io/disp-cog/internal/config"
	"go.ngs.io/disp-cog/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "disp-cog",
		Short: "Derive Cloud-Optimized GeoTIFFs from OPERA DISP-S1 granules",
		Long: `disp-cog reads an OPERA DISP-S1 NetCDF granule (local, HTTPS or S3),
masks and subsets the displacement or water-mask layer, and writes a
Cloud-Optimized GeoTIFF with overviews.

Settings come from compiled defaults, an optional YAML file (--config or
$DISPCOG_CONFIG) and DISPCOG_ environment variables. Flags win.`,
		Version: versionString(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level (overrides config)")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format: text or json (overrides config)")

	root.AddCommand(
		newExtractCmd(g),
		newSearchCmd(g),
		newInfoCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

// load reads configuration and builds the logger. Logs go to the command's
// error stream so stdout carries only the JSON result.
func (g *globalFlags) load(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	log, err := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "disp-cog %s\n", versionString())
			return err
		},
	}
}
