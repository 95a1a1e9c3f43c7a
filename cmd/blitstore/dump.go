package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/snapshot"
	"github.com/bsm/blitstore/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) dumpCmd() *cobra.Command {
	var compression string

	cmd := &cobra.Command{
		Use:   "dump file",
		Short: "Write all rows of the table to a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := snapshot.ParseCompression(compression)
			if err != nil {
				return err
			}

			store, err := c.open()
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			bw := bufio.NewWriter(f)
			var count uint64
			if err := store.View(func(tx *pager.Tx) error {
				t, err := table.Open(tx, c.table, nil)
				if err != nil {
					return err
				}

				w := snapshot.NewWriter(bw, &snapshot.WriterOptions{Compression: codec})
				if err := t.Dump(w); err != nil {
					return err
				}
				count = w.Count()
				return w.Close()
			}); err != nil {
				return err
			}
			if err := bw.Flush(); err != nil {
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			c.log.Info("dump finished", zap.String("table", c.table), zap.String("file", args[0]), zap.Uint64("rows", count))
			fmt.Fprintf(cmd.OutOrStdout(), "dumped %d rows\n", count)
			return nil
		},
	}
	cmd.Flags().StringVar(&compression, "compression", "snappy", "block compression: snappy, lz4 or none")
	return cmd
}

func (c *cli) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore file",
		Short: "Load the rows of a snapshot file into the table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			fi, err := f.Stat()
			if err != nil {
				return err
			}
			r, err := snapshot.NewReader(f, fi.Size())
			if err != nil {
				return err
			}

			store, err := c.open()
			if err != nil {
				return err
			}
			defer store.Close()

			var rows int64
			if err := store.Update(func(tx *pager.Tx) error {
				t, err := table.Restore(tx, c.table, r, c.tableOptions())
				if err != nil {
					return err
				}
				rows = t.NumberOfEntries()
				return nil
			}); err != nil {
				return err
			}

			c.log.Info("restore finished", zap.String("table", c.table), zap.Uint64("entries", r.NumEntries()))
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d rows, table has %d\n", r.NumEntries(), rows)
			return nil
		},
	}
}
