package cmd

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leftmike/lstore/db"
	"github.com/leftmike/lstore/table"
	"github.com/leftmike/lstore/txn"
)

var (
	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent increment transactions and check the result",
		RunE:  benchRun,
	}

	benchOpts = benchOptions{
		records:      1000,
		columns:      5,
		workers:      8,
		transactions: 2000,
		operations:   5,
		retries:      -1,
		seed:         1,
	}
)

type benchOptions struct {
	records      int
	columns      int
	workers      int
	transactions int
	operations   int
	retries      int
	seed         int64
}

type benchResult struct {
	committed int
	aborted   int
	sum       int64
	elapsed   time.Duration
}

func init() {
	fs := benchCmd.Flags()
	fs.IntVar(&benchOpts.records, "records", benchOpts.records, "`number` of records")
	fs.IntVar(&benchOpts.columns, "columns", benchOpts.columns, "`number` of columns")
	fs.IntVar(&benchOpts.workers, "workers", benchOpts.workers, "`number` of workers")
	fs.IntVar(&benchOpts.transactions, "transactions", benchOpts.transactions,
		"`number` of transactions")
	fs.IntVar(&benchOpts.operations, "operations", benchOpts.operations,
		"records each transaction increments")
	fs.IntVar(&benchOpts.retries, "retries", benchOpts.retries,
		"retries per conflicting transaction; negative means until it commits")
	fs.Int64Var(&benchOpts.seed, "seed", benchOpts.seed, "random `seed`")

	lstoreCmd.AddCommand(benchCmd)
}

// bench creates a table of zeroed records, then has workers run transactions which
// each select and increment the second column of a few random records. Once every
// worker is done, the sum of the column must be the number of committed increments.
func bench(ctx context.Context, d *db.Database, opts benchOptions) (benchResult, error) {
	if opts.columns < 2 {
		return benchResult{}, fmt.Errorf("lstore: bench needs at least 2 columns: %d",
			opts.columns)
	}
	if opts.records < 1 || opts.workers < 1 {
		return benchResult{}, fmt.Errorf("lstore: bench needs records and workers")
	}

	name := fmt.Sprintf("bench_%d", time.Now().UnixNano())
	tbl, err := d.CreateTable(name, opts.columns, 0, []int{0})
	if err != nil {
		return benchResult{}, err
	}
	defer d.DropTable(name)

	row := make([]int64, opts.columns)
	for key := 0; key < opts.records; key += 1 {
		row[0] = int64(key)
		_, err := tbl.Insert(row)
		if err != nil {
			return benchResult{}, err
		}
	}

	locks := txn.NewLocks()
	rnd := rand.New(rand.NewSource(opts.seed))
	workers := make([]*txn.Worker, opts.workers)
	for wdx := range workers {
		workers[wdx] = txn.NewWorker(txn.WorkerOptions{
			Retries: opts.retries,
			Logger:  log.StandardLogger(),
		})
	}
	for tdx := 0; tdx < opts.transactions; tdx += 1 {
		tx := txn.New(locks)
		for odx := 0; odx < opts.operations; odx += 1 {
			key := rnd.Int63n(int64(opts.records))
			tx.Select(tbl, key, 0, table.AllColumns(opts.columns))
			tx.Increment(tbl, key, 1)
		}
		workers[tdx%len(workers)].Add(tx)
	}

	start := time.Now()
	for _, w := range workers {
		w.Start(ctx)
	}

	var res benchResult
	for _, w := range workers {
		_, err := w.Join()
		if err != nil {
			return benchResult{}, err
		}
		committed, aborted := w.Stats()
		res.committed += committed
		res.aborted += aborted
	}
	res.elapsed = time.Since(start)

	res.sum, err = tbl.Sum(0, int64(opts.records-1), 1)
	if err != nil {
		return benchResult{}, err
	}
	if want := int64(res.committed * opts.operations); res.sum != want {
		return res, fmt.Errorf("lstore: bench: sum of increments got %d want %d", res.sum,
			want)
	}
	return res, nil
}

func printBench(w io.Writer, opts benchOptions, res benchResult) {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"workers", "transactions", "committed", "aborted", "sum", "elapsed",
		"txns/sec"})
	rate := float64(res.committed) / res.elapsed.Seconds()
	tw.Append([]string{
		humanize.Comma(int64(opts.workers)),
		humanize.Comma(int64(opts.transactions)),
		humanize.Comma(int64(res.committed)),
		humanize.Comma(int64(res.aborted)),
		humanize.Comma(res.sum),
		res.elapsed.Round(time.Millisecond).String(),
		humanize.FormatFloat("#,###.##", rate),
	})
	tw.Render()
}

func benchRun(cmd *cobra.Command, args []string) (err error) {
	d, err := openDatabase()
	if err != nil {
		return err
	}
	defer func() {
		cerr := d.Close()
		if err == nil && cerr != nil {
			err = fmt.Errorf("lstore: %s", cerr)
		}
	}()

	res, err := bench(context.Background(), d, benchOpts)
	if err != nil {
		return err
	}
	printBench(cmd.OutOrStdout(), benchOpts, res)

	log.WithFields(log.Fields{
		"committed": res.committed,
		"aborted":   res.aborted,
		"elapsed":   res.elapsed,
	}).Info("bench done")
	return nil
}
