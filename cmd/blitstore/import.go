package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/bsm/blitstore/blittable"
	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/table"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) importCmd() *cobra.Command {
	var keyProp string
	var batch int

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import JSON lines, one document per line",
		Long:  "Import JSON lines from a file or stdin. Documents with an existing key are replaced.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			store, err := c.open()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := c.importDocs(store, in, keyProp, batch)
			if err != nil {
				return err
			}
			c.log.Info("import finished", zap.String("table", c.table), zap.Int("documents", n))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d documents\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyProp, "key", "id", "property holding the document key")
	cmd.Flags().IntVar(&batch, "batch", 1000, "documents per transaction")
	return cmd
}

func (c *cli) importDocs(store *pager.Store, r io.Reader, keyProp string, batch int) (int, error) {
	if batch < 1 {
		batch = 1
	}

	ctx := blittable.NewContext(&blittable.Options{Logger: c.log})
	defer ctx.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 64<<20)

	var total, lineNo int
	for more := true; more; {
		n := 0
		err := store.Update(func(tx *pager.Tx) error {
			t, err := table.Create(tx, c.table, docsSchema, c.tableOptions())
			if err != nil {
				return err
			}

			for n < batch {
				if !scanner.Scan() {
					more = false
					return scanner.Err()
				}
				lineNo++

				line := bytes.TrimSpace(scanner.Bytes())
				if len(line) == 0 {
					continue
				}
				if err := importLine(ctx, t, line, keyProp); err != nil {
					return errors.Wrapf(err, "line %d", lineNo)
				}
				n++
			}
			return nil
		})
		if err != nil {
			return total, err
		}

		total += n
		c.log.Debug("batch committed", zap.Int("documents", total))
	}
	return total, nil
}

func importLine(ctx *blittable.Context, t *table.Table, line []byte, keyProp string) error {
	defer ctx.Reset()

	doc, err := ctx.ParseJSON(line, blittable.ModeToDisk)
	if err != nil {
		return err
	}

	v, ok, err := doc.TryGet(keyProp)
	if err != nil {
		return err
	} else if !ok {
		return errors.Newf("missing key property %q", keyProp)
	}
	key, err := documentKey(v)
	if err != nil {
		return err
	}

	var b table.RowBuilder
	_, err = t.Set(b.AddString(key).Add(doc.Bytes()).Bytes())
	return err
}

func documentKey(v blittable.Value) (string, error) {
	switch v.Type() {
	case blittable.TokenInteger, blittable.TokenLazyNumber:
		return v.AsNumberText()
	}
	return v.AsString()
}
