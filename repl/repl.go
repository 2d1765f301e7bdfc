// Package repl runs line oriented commands against the tables of a database; each
// command that touches records runs as its own transaction.
package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/leftmike/lstore/db"
	"github.com/leftmike/lstore/table"
	"github.com/leftmike/lstore/txn"
)

var (
	errQuit = errors.New("repl: quit")
)

type LineReader interface {
	ReadLine() (string, error)
}

type scanLines struct {
	scanner *bufio.Scanner
}

func (sl scanLines) ReadLine() (string, error) {
	if !sl.scanner.Scan() {
		if err := sl.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return sl.scanner.Text(), nil
}

// Lines reads commands, one per line, from r.
func Lines(r io.Reader) LineReader {
	return scanLines{bufio.NewScanner(r)}
}

type command struct {
	args  string
	usage string
	fn    func(r *repl, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"create": {"<table> <columns> <key> [<indexed column> ...]", "create a table",
			(*repl).create},
		"drop":   {"<table>", "drop a table", (*repl).drop},
		"tables": {"", "list the tables", (*repl).tables},
		"insert": {"<table> <value> ...", "insert a record", (*repl).insert},
		"select": {"<table> <keyword> [<column> [<selected column> ...]]",
			"select records whose column holds keyword", (*repl).selectRecords},
		"update": {"<table> <key> <value|_> ...", "update a record; _ leaves a column alone",
			(*repl).update},
		"delete": {"<table> <key>", "delete a record", (*repl).delete},
		"increment": {"<table> <key> <column>", "add one to a column of a record",
			(*repl).increment},
		"sum": {"<table> <start> <end> <column>", "sum a column over a range of keys",
			(*repl).sum},
		"history": {"<table> <key>", "list the versions of a record", (*repl).history},
		"index":   {"<table> <column>", "index a column", (*repl).createIndex},
		"unindex": {"<table> <column>", "drop the index of a column", (*repl).dropIndex},
		"save":    {"", "save a snapshot of the database", (*repl).save},
		"help":    {"", "list the commands", (*repl).help},
		"quit":    {"", "leave the repl", (*repl).quit},
	}
}

type repl struct {
	db    *db.Database
	locks *txn.Locks
	w     io.Writer
}

// Run reads and runs commands from lr until it returns io.EOF or a quit command.
// Errors from commands are written to w.
func Run(d *db.Database, lr LineReader, w io.Writer) error {
	r := &repl{
		db:    d,
		locks: txn.NewLocks(),
		w:     w,
	}

	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		err = r.run(line)
		if err == errQuit {
			return nil
		} else if err != nil {
			fmt.Fprintln(w, err)
		}
	}
}

func (r *repl) run(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "--") {
		return nil
	}

	fields := strings.Fields(line)
	cmd, ok := commands[strings.ToLower(fields[0])]
	if !ok {
		return fmt.Errorf("repl: unknown command: %s", fields[0])
	}
	return cmd.fn(r, fields[1:])
}

func (r *repl) usage(name string) error {
	return fmt.Errorf("repl: usage: %s %s", name, commands[name].args)
}

func parseInts(args []string) ([]int64, error) {
	vals := make([]int64, len(args))
	for i, arg := range args {
		v, err := strconv.ParseInt(arg, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("repl: %s", err)
		}
		vals[i] = v
	}
	return vals, nil
}

func parseColumns(args []string) ([]int, error) {
	cols := make([]int, len(args))
	for i, arg := range args {
		col, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("repl: %s", err)
		}
		cols[i] = col
	}
	return cols, nil
}

func (r *repl) run1(fn func(tx *txn.Transaction)) (txn.Result, error) {
	tx := txn.New(r.locks)
	fn(tx)
	err := tx.Run()
	if err != nil {
		return txn.Result{}, err
	}
	return tx.Results()[0], nil
}

func (r *repl) create(args []string) error {
	if len(args) < 3 {
		return r.usage("create")
	}
	cols, err := parseColumns(args[1:])
	if err != nil {
		return err
	}
	var indexed []int
	if len(cols) > 2 {
		indexed = cols[2:]
	}
	_, err = r.db.CreateTable(args[0], cols[0], cols[1], indexed)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "table %s created\n", args[0])
	return nil
}

func (r *repl) drop(args []string) error {
	if len(args) != 1 {
		return r.usage("drop")
	}
	err := r.db.DropTable(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "table %s dropped\n", args[0])
	return nil
}

func (r *repl) tables(args []string) error {
	if len(args) != 0 {
		return r.usage("tables")
	}
	for _, name := range r.db.Tables() {
		tbl, err := r.db.Table(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.w, "%s: %d columns, key %d, %d records\n", name, tbl.NumColumns(),
			tbl.Key(), tbl.Len())
	}
	return nil
}

func (r *repl) insert(args []string) error {
	if len(args) < 2 {
		return r.usage("insert")
	}
	tbl, err := r.db.Table(args[0])
	if err != nil {
		return err
	}
	vals, err := parseInts(args[1:])
	if err != nil {
		return err
	}
	_, err = r.run1(func(tx *txn.Transaction) { tx.Insert(tbl, vals...) })
	if err != nil {
		return err
	}
	fmt.Fprintln(r.w, "1 record inserted")
	return nil
}

func (r *repl) selectRecords(args []string) error {
	if len(args) < 2 {
		return r.usage("select")
	}
	tbl, err := r.db.Table(args[0])
	if err != nil {
		return err
	}
	keyword, err := strconv.ParseInt(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("repl: %s", err)
	}
	col := tbl.Key()
	mask := table.AllColumns(tbl.NumColumns())
	if len(args) > 2 {
		cols, err := parseColumns(args[2:])
		if err != nil {
			return err
		}
		col = cols[0]
		if len(cols) > 1 {
			for _, c := range cols[1:] {
				if c < 0 || c >= tbl.NumColumns() {
					return fmt.Errorf("repl: column out of range: %d", c)
				}
			}
			mask = table.Mask(tbl.NumColumns(), cols[1:]...)
		}
	}

	res, err := r.run1(func(tx *txn.Transaction) { tx.Select(tbl, keyword, col, mask) })
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(r.w)
	tw.SetAutoFormatHeaders(false)
	hdr := make([]string, tbl.NumColumns())
	for i := range hdr {
		hdr[i] = fmt.Sprintf("c%d", i)
	}
	tw.SetHeader(hdr)
	for _, rec := range res.Records {
		row := make([]string, len(rec.Columns))
		for i, c := range rec.Columns {
			row[i] = c.String()
		}
		tw.Append(row)
	}
	tw.Render()
	fmt.Fprintf(r.w, "(%d rows)\n", len(res.Records))
	return nil
}

func (r *repl) update(args []string) error {
	if len(args) < 3 {
		return r.usage("update")
	}
	tbl, err := r.db.Table(args[0])
	if err != nil {
		return err
	}
	key, err := strconv.ParseInt(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("repl: %s", err)
	}
	cells := make([]table.Cell, len(args)-2)
	for i, arg := range args[2:] {
		if arg == "_" {
			continue
		}
		v, err := strconv.ParseInt(arg, 0, 64)
		if err != nil {
			return fmt.Errorf("repl: %s", err)
		}
		cells[i] = table.Value(v)
	}
	_, err = r.run1(func(tx *txn.Transaction) { tx.Update(tbl, key, cells) })
	if err != nil {
		return err
	}
	fmt.Fprintln(r.w, "1 record updated")
	return nil
}

func (r *repl) delete(args []string) error {
	if len(args) != 2 {
		return r.usage("delete")
	}
	tbl, err := r.db.Table(args[0])
	if err != nil {
		return err
	}
	key, err := strconv.ParseInt(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("repl: %s", err)
	}
	_, err = r.run1(func(tx *txn.Transaction) { tx.Delete(tbl, key) })
	if err != nil {
		return err
	}
	fmt.Fprintln(r.w, "1 record deleted")
	return nil
}

func (r *repl) increment(args []string) error {
	if len(args) != 3 {
		return r.usage("increment")
	}
	tbl, err := r.db.Table(args[0])
	if err != nil {
		return err
	}
	vals, err := parseInts(args[1:])
	if err != nil {
		return err
	}
	res, err := r.run1(func(tx *txn.Transaction) { tx.Increment(tbl, vals[0], int(vals[1])) })
	if err != nil {
		return err
	}
	fmt.Fprintln(r.w, res.Value)
	return nil
}

func (r *repl) sum(args []string) error {
	if len(args) != 4 {
		return r.usage("sum")
	}
	tbl, err := r.db.Table(args[0])
	if err != nil {
		return err
	}
	vals, err := parseInts(args[1:])
	if err != nil {
		return err
	}
	res, err := r.run1(func(tx *txn.Transaction) { tx.Sum(tbl, vals[0], vals[1], int(vals[2])) })
	if err != nil {
		return err
	}
	fmt.Fprintln(r.w, res.Value)
	return nil
}

func (r *repl) history(args []string) error {
	if len(args) != 2 {
		return r.usage("history")
	}
	tbl, err := r.db.Table(args[0])
	if err != nil {
		return err
	}
	key, err := strconv.ParseInt(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("repl: %s", err)
	}
	vers, err := tbl.History(key)
	if err != nil {
		return err
	}
	for _, ver := range vers {
		fmt.Fprintln(r.w, ver)
	}
	return nil
}

func (r *repl) createIndex(args []string) error {
	if len(args) != 2 {
		return r.usage("index")
	}
	tbl, err := r.db.Table(args[0])
	if err != nil {
		return err
	}
	col, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("repl: %s", err)
	}
	err = tbl.CreateIndex(col)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "column %d indexed\n", col)
	return nil
}

func (r *repl) dropIndex(args []string) error {
	if len(args) != 2 {
		return r.usage("unindex")
	}
	tbl, err := r.db.Table(args[0])
	if err != nil {
		return err
	}
	col, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("repl: %s", err)
	}
	err = tbl.DropIndex(col)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "column %d unindexed\n", col)
	return nil
}

func (r *repl) save(args []string) error {
	err := r.db.Save()
	if err != nil {
		return err
	}
	fmt.Fprintln(r.w, "saved")
	return nil
}

func (r *repl) help(args []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := commands[name]
		fmt.Fprintf(r.w, "%-10s %s\n", name, cmd.usage)
		if cmd.args != "" {
			fmt.Fprintf(r.w, "%-10s   %s %s\n", "", name, cmd.args)
		}
	}
	return nil
}

func (r *repl) quit(args []string) error {
	return errQuit
}
