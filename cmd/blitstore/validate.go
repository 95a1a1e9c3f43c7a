package main

import (
	"fmt"

	"github.com/bsm/blitstore/blittable"
	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/table"
	"github.com/bsm/blitstore/tree"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the trees, the table and every document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.open()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := blittable.NewContext(nil)
			defer ctx.Close()

			var n int
			if err := store.View(func(tx *pager.Tx) error {
				root, err := tree.Root(tx)
				if err != nil {
					return err
				}
				if err := root.Validate(); err != nil {
					return err
				}

				t, err := table.Open(tx, c.table, nil)
				if err != nil {
					return err
				}
				if err := t.Validate(); err != nil {
					return err
				}

				it := t.SeekByPrimaryKey(nil, false)
				for it.Next() {
					if err := validateDocument(ctx, it.Record()); err != nil {
						return errors.Wrapf(err, "key %q", it.Key())
					}
					n++
				}
				return it.Err()
			}); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d documents ok\n", c.table, n)
			return nil
		},
	}
}

func validateDocument(ctx *blittable.Context, rec table.Record) error {
	defer ctx.Reset()

	doc, err := ctx.ReadDocument(rec.Row.Column(documentColumn))
	if err != nil {
		return err
	}
	return doc.Validate()
}
