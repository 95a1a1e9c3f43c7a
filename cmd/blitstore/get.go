package main

import (
	"fmt"

	"github.com/bsm/blitstore/blittable"
	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/table"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get key...",
		Short: "Print documents as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.open()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := blittable.NewContext(nil)
			defer ctx.Close()

			out := cmd.OutOrStdout()
			return store.View(func(tx *pager.Tx) error {
				t, err := table.Open(tx, c.table, nil)
				if err != nil {
					return err
				}

				for _, key := range args {
					rec, ok, err := t.ReadByKey([]byte(key))
					if err != nil {
						return err
					} else if !ok {
						return errors.Wrapf(table.ErrNotFound, "key %q", key)
					}

					doc, err := ctx.ReadDocument(rec.Row.Column(documentColumn))
					if err != nil {
						return errors.Wrapf(err, "key %q", key)
					}
					if err := doc.WriteJSONTo(out); err != nil {
						return err
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
}
