package table

import (
	"github.com/bsm/blitstore/pager"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports table reports and store statistics as prometheus
// metrics. Each collection runs in its own read transaction.
type Collector struct {
	store  *pager.Store
	tables []string
	exact  bool

	entries   *prometheus.Desc
	pages     *prometheus.Desc
	allocated *prometheus.Desc
	used      *prometheus.Desc

	storePages *prometheus.Desc
	freePages  *prometheus.Desc
	readers    *prometheus.Desc
	txID       *prometheus.Desc
}

// NewCollector inits a collector for the named tables. With exact, every
// collection walks all pages of the tables.
func NewCollector(store *pager.Store, exact bool, tables ...string) *Collector {
	labels := []string{"table", "structure", "type"}
	return &Collector{
		store:  store,
		tables: tables,
		exact:  exact,

		entries:   prometheus.NewDesc("blitstore_table_entries", "Number of entries per table structure.", labels, nil),
		pages:     prometheus.NewDesc("blitstore_table_pages", "Number of pages per table structure.", labels, nil),
		allocated: prometheus.NewDesc("blitstore_table_allocated_bytes", "Bytes allocated per table structure.", labels, nil),
		used:      prometheus.NewDesc("blitstore_table_used_bytes", "Bytes used per table structure.", labels, nil),

		storePages: prometheus.NewDesc("blitstore_store_pages", "Number of pages of the store.", nil, nil),
		freePages:  prometheus.NewDesc("blitstore_store_free_pages", "Number of free pages of the store.", nil, nil),
		readers:    prometheus.NewDesc("blitstore_store_readers", "Number of open read transactions.", nil, nil),
		txID:       prometheus.NewDesc("blitstore_store_tx_id", "Id of the last committed transaction.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.pages
	ch <- c.allocated
	ch <- c.used
	ch <- c.storePages
	ch <- c.freePages
	ch <- c.readers
	ch <- c.txID
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.store.Stats()
	ch <- prometheus.MustNewConstMetric(c.storePages, prometheus.GaugeValue, float64(st.NextPage))
	ch <- prometheus.MustNewConstMetric(c.freePages, prometheus.GaugeValue, float64(st.FreePages))
	ch <- prometheus.MustNewConstMetric(c.readers, prometheus.GaugeValue, float64(st.Readers))
	ch <- prometheus.MustNewConstMetric(c.txID, prometheus.CounterValue, float64(st.TxID))

	err := c.store.View(func(tx *pager.Tx) error {
		for _, name := range c.tables {
			t, err := Open(tx, name, nil)
			if err != nil {
				return err
			}
			rep, err := t.GetReport(c.exact)
			if err != nil {
				return err
			}
			for _, s := range rep.Structures {
				c.collectStructure(ch, name, s)
			}
		}
		return nil
	})
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.entries, err)
	}
}

func (c *Collector) collectStructure(ch chan<- prometheus.Metric, table string, s StructureReport) {
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.NumberOfEntries), table, s.Name, s.Type)
	ch <- prometheus.MustNewConstMetric(c.pages, prometheus.GaugeValue, float64(s.Pages), table, s.Name, s.Type)
	ch <- prometheus.MustNewConstMetric(c.allocated, prometheus.GaugeValue, float64(s.AllocatedBytes), table, s.Name, s.Type)
	ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(s.UsedBytes), table, s.Name, s.Type)
}
