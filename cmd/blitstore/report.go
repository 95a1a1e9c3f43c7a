package main

import (
	"fmt"
	"io"

	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/table"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func (c *cli) reportCmd() *cobra.Command {
	var exact bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the space used by the table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.open()
			if err != nil {
				return err
			}
			defer store.Close()

			var rep table.TableReport
			if err := store.View(func(tx *pager.Tx) error {
				t, err := table.Open(tx, c.table, nil)
				if err != nil {
					return err
				}
				rep, err = t.GetReport(exact)
				return err
			}); err != nil {
				return err
			}

			writeReport(cmd.OutOrStdout(), rep, store.Stats())
			return nil
		},
	}
	cmd.Flags().BoolVar(&exact, "exact", false, "walk all pages to measure used bytes")
	return cmd
}

func writeReport(w io.Writer, rep table.TableReport, st pager.Stats) {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	tw.SetHeader([]string{"structure", "type", "entries", "pages", "allocated", "used"})
	tw.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})

	var pages int64
	for _, s := range rep.Structures {
		tw.Append([]string{
			s.Name,
			s.Type,
			humanize.Comma(s.NumberOfEntries),
			humanize.Comma(s.Pages),
			humanize.IBytes(uint64(s.AllocatedBytes)),
			humanize.IBytes(uint64(s.UsedBytes)),
		})
		pages += s.Pages
	}
	tw.Append([]string{
		rep.Name,
		"total",
		humanize.Comma(rep.NumberOfEntries),
		humanize.Comma(pages),
		humanize.IBytes(uint64(rep.AllocatedBytes)),
		humanize.IBytes(uint64(rep.UsedBytes)),
	})
	tw.Render()

	mode := "estimated"
	if rep.Exact {
		mode = "exact"
	}
	fmt.Fprintf(w, "(%s) store: %s pages of %s, %s free, tx %d\n",
		mode,
		humanize.Comma(int64(st.NextPage)),
		humanize.IBytes(uint64(st.PageSize)),
		humanize.Comma(int64(st.FreePages)),
		st.TxID,
	)
}
