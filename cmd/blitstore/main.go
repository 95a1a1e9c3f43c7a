// Command blitstore loads JSON documents into a blitstore file and inspects
// it. Defaults for --db and --table are read from BLITSTORE_DB and
// BLITSTORE_TABLE, which may be set in a .env file.
package main

import (
	"os"

	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// docsSchema stores documents under their key. Columns: key, document.
var docsSchema = table.Schema{
	PrimaryKey: table.IndexDef{Name: "key", Column: 0},
}

const documentColumn = 1

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	dbPath  string
	table   string
	verbose bool

	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := new(cli)
	root := &cobra.Command{
		Use:          "blitstore",
		Short:        "Load and inspect blitstore files",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return c.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.dbPath, "db", envOr("BLITSTORE_DB", "blitstore.db"), "path of the store file")
	flags.StringVar(&c.table, "table", envOr("BLITSTORE_TABLE", "docs"), "name of the document table")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "log debug output")

	root.AddCommand(
		c.importCmd(),
		c.getCmd(),
		c.reportCmd(),
		c.validateCmd(),
		c.dumpCmd(),
		c.restoreCmd(),
	)
	return root
}

func (c *cli) init() error {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	if !c.verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	log, err := cfg.Build()
	if err != nil {
		return err
	}
	c.log = log.With(zap.String("db", c.dbPath))
	return nil
}

func (c *cli) open() (*pager.Store, error) {
	return pager.OpenFile(c.dbPath, &pager.Options{Logger: c.log})
}

func (c *cli) tableOptions() *table.Options {
	return &table.Options{Logger: c.log}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
