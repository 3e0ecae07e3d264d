package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/mesadb/mesa"
	"github.com/mesadb/mesa/internal/importer"
	"github.com/mesadb/mesa/internal/storage"
	"github.com/mesadb/mesa/reports"
)

type outputMode string

const (
	modeColumn outputMode = "column"
	modeCSV    outputMode = "csv"
	modeJSON   outputMode = "json"
)

const usageText = `usage: mesa <command> [flags] [args]

Commands:
  tables <snapshot>                 List tables in a snapshot
  schema <snapshot> [-table name]   Show table schemas
  load   <snapshot> <table> <file>  Import CSV/TSV data (file "-" = stdin)
  report <snapshot> <name>          Run one report (-all for every report)
  report -list                      List available reports
  watch  <snapshot> [-cron expr]    Re-run all reports on a schedule

Run "mesa <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		exitIfErr(errors.New(strings.TrimSuffix(usageText, "\n")))
	}
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "tables":
		exitIfErr(runTablesCommand(args))
	case "schema":
		exitIfErr(runSchemaCommand(args))
	case "load":
		exitIfErr(runLoadCommand(args))
	case "report":
		exitIfErr(runReportCommand(args))
	case "watch":
		exitIfErr(runWatchCommand(args))
	case "help", "-h", "--help":
		fmt.Print(usageText)
	default:
		exitIfErr(fmt.Errorf("unknown command %q\n%s", cmd, strings.TrimSuffix(usageText, "\n")))
	}
}

func exitIfErr(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "mesa:", err)
	os.Exit(1)
}

// openSnapshot loads an existing snapshot file.
func openSnapshot(path string) (*mesa.Snapshot, error) {
	snap, err := mesa.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	return snap, nil
}

// loadOrCreateSnapshot loads the snapshot when the file exists and creates
// a fresh one (with parent directories) when it does not.
func loadOrCreateSnapshot(path string) (*mesa.Snapshot, bool, error) {
	if _, err := os.Stat(path); err == nil {
		snap, err := mesa.LoadFromFile(path)
		return snap, true, err
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, false, err
		}
	}
	return mesa.NewSnapshot(), false, nil
}

// ---- subcommands -----------------------------------------------------------

func runTablesCommand(args []string) error {
	fs := flag.NewFlagSet("tables", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Emit JSON instead of plain text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: mesa tables <snapshot>")
	}
	snap, err := openSnapshot(fs.Arg(0))
	if err != nil {
		return err
	}

	tables := snap.ListTables()
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	if *jsonOut {
		return json.NewEncoder(os.Stdout).Encode(names)
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runSchemaCommand(args []string) error {
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	table := fs.String("table", "", "Specific table name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: mesa schema <snapshot> [-table name]")
	}
	snap, err := openSnapshot(fs.Arg(0))
	if err != nil {
		return err
	}
	return printSchema(os.Stdout, snap, *table)
}

func runLoadCommand(args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	create := fs.Bool("create", true, "Create the table when the snapshot lacks it")
	truncate := fs.Bool("truncate", false, "Clear the table before loading")
	header := fs.String("header", "auto", "Header handling: auto|present|absent")
	encoding := fs.String("encoding", "", "Declared charset when there is no BOM: latin-1|windows-1252")
	delimiter := fs.String("delimiter", "", "Field delimiter (default: auto-detect)")
	strict := fs.Bool("strict", false, "Stop at the first row that does not match the column types")
	withSchema := fs.Bool("schema", false, "Define the delivery schema in a newly created snapshot before loading")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 3 {
		return errors.New("usage: mesa load <snapshot> <table> <file>")
	}
	path, tableName, file := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	snap, existed, err := loadOrCreateSnapshot(path)
	if err != nil {
		return err
	}
	if *withSchema && !existed {
		reports.DefineSchema(snap)
	}
	if !*create {
		// The importer treats create-off plus truncate-off as "use defaults",
		// so enforce the flag here: the table must already exist.
		if _, err := snap.Get(tableName); err != nil {
			return err
		}
	}

	var src io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	opts := &importer.ImportOptions{
		CreateTable: *create,
		Truncate:    *truncate,
		HeaderMode:  *header,
		Encoding:    *encoding,
		StrictTypes: *strict,
	}
	if *delimiter != "" {
		runes := []rune(*delimiter)
		if len(runes) != 1 {
			return fmt.Errorf("delimiter must be a single character, got %q", *delimiter)
		}
		opts.DelimiterCandidates = runes
	}

	result, err := importer.ImportCSV(context.Background(), snap, tableName, src, opts)
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		fmt.Fprintln(os.Stderr, "mesa: warning:", e)
	}

	if err := mesa.SaveToFile(snap, path); err != nil {
		return err
	}

	fmt.Printf("Imported %d row(s) into %s", result.RowsInserted, tableName)
	if result.RowsSkipped > 0 {
		fmt.Printf(", %d skipped", result.RowsSkipped)
	}
	fmt.Println()
	return nil
}

func runReportCommand(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	list := fs.Bool("list", false, "List available reports")
	all := fs.Bool("all", false, "Run every report in the catalog")
	explain := fs.Bool("explain", false, "Print the evaluation plan instead of running it")
	topN := fs.Int("top", 0, "Rank cutoff for top-N reports (0 keeps the rows tied for first)")
	userID := fs.Int64("user", 0, "Customer id for customer-scoped reports")
	since := fs.String("since", "", "Lower date bound, inclusive (YYYY-MM-DD)")
	until := fs.String("until", "", "Upper date bound, exclusive (YYYY-MM-DD)")
	mode := fs.String("mode", string(modeColumn), "Output mode: column|csv|json")
	headers := fs.Bool("header", true, "Include column headers")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cat := reports.DefaultCatalog()
	if *list {
		names := cat.Names()
		width := 0
		for _, name := range names {
			if len(name) > width {
				width = len(name)
			}
		}
		for _, name := range names {
			r, _ := cat.Get(name)
			fmt.Printf("%s  %s\n", padRight(name, width), r.Summary)
		}
		return nil
	}

	if fs.NArg() < 1 {
		return errors.New("usage: mesa report <snapshot> <name> (or -all, -list)")
	}
	snap, err := openSnapshot(fs.Arg(0))
	if err != nil {
		return err
	}
	params, err := buildParams(*topN, *userID, *since, *until)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if *all {
		return runAllReports(ctx, cat, snap, params, outputMode(*mode), *headers)
	}

	if fs.NArg() < 2 {
		return errors.New("report name required (or -all); see mesa report -list")
	}
	name := fs.Arg(1)

	if *explain {
		r, ok := cat.Get(name)
		if !ok {
			return fmt.Errorf("unknown report %q", name)
		}
		qb, err := r.Build(snap, params)
		if err != nil {
			return err
		}
		fmt.Println(mesa.Describe(qb.Build()))
		return nil
	}

	rr, err := cat.Run(ctx, snap, name, params)
	if err != nil {
		return err
	}
	if rr.Err != nil {
		return fmt.Errorf("%s: %w", name, rr.Err)
	}
	return renderResultSet(os.Stdout, rr.Result, outputMode(*mode), *headers)
}

func runAllReports(ctx context.Context, cat *reports.Catalog, snap *mesa.Snapshot, params reports.Params, mode outputMode, headers bool) error {
	results := cat.RunAll(ctx, snap, params)
	var errs []error

	if mode == modeJSON {
		obj := make(map[string]any, len(results))
		for _, rr := range results {
			if rr.Err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", rr.Report, rr.Err))
				continue
			}
			obj[rr.Report] = resultRows(rr.Result)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(obj); err != nil {
			return err
		}
		return errors.Join(errs...)
	}

	printed := 0
	for _, rr := range results {
		if rr.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rr.Report, rr.Err))
			continue
		}
		if printed > 0 {
			fmt.Println()
		}
		printed++
		fmt.Printf("-- %s (%d rows, %s)\n", rr.Report, rr.Rows(), rr.Duration.Round(time.Microsecond))
		if err := renderResultSet(os.Stdout, rr.Result, mode, headers); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func runWatchCommand(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	cronExpr := fs.String("cron", "0 */5 * * * *", "CRON schedule, six fields with seconds")
	topN := fs.Int("top", 0, "Rank cutoff for top-N reports")
	userID := fs.Int64("user", 0, "Customer id for customer-scoped reports")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: mesa watch <snapshot> [-cron expr]")
	}
	path := fs.Arg(0)

	// Fail fast on an unreadable snapshot before scheduling anything.
	if _, err := openSnapshot(path); err != nil {
		return err
	}

	source := reports.SnapshotFunc(func() *mesa.Snapshot {
		snap, err := mesa.LoadFromFile(path)
		if err != nil {
			log.Printf("[watch] reload %s: %v", path, err)
			return nil
		}
		return snap
	})

	rf := reports.NewRefresher(reports.DefaultCatalog(), source, reports.Params{TopN: *topN, UserID: *userID})
	rf.OnRun(func(run *reports.Refresh) {
		for _, rr := range run.Results {
			if rr.Err != nil {
				fmt.Fprintf(os.Stderr, "mesa: %s: %v\n", rr.Report, rr.Err)
			}
		}
	})

	if err := rf.Start(*cronExpr); err != nil {
		return err
	}
	rf.RunOnce(context.Background())

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	<-ch
	rf.Stop()
	return nil
}

func buildParams(topN int, userID int64, since, until string) (reports.Params, error) {
	p := reports.Params{TopN: topN, UserID: userID}
	if since != "" {
		t, err := time.Parse("2006-01-02", since)
		if err != nil {
			return p, fmt.Errorf("invalid -since date %q", since)
		}
		p.Since = t
	}
	if until != "" {
		t, err := time.Parse("2006-01-02", until)
		if err != nil {
			return p, fmt.Errorf("invalid -until date %q", until)
		}
		p.Until = t
	}
	return p, nil
}

// ---- schema rendering ------------------------------------------------------

func printSchema(out io.Writer, snap *mesa.Snapshot, table string) error {
	tables := snap.ListTables()
	if len(tables) == 0 {
		fmt.Fprintln(out, "(no tables)")
		return nil
	}
	matched := 0
	for _, t := range tables {
		if table != "" && !strings.EqualFold(table, t.Name) {
			continue
		}
		if matched > 0 {
			fmt.Fprintln(out)
		}
		matched++
		printTableSchema(out, t)
	}
	if matched == 0 {
		return fmt.Errorf("table %s not found", table)
	}
	return nil
}

func printTableSchema(out io.Writer, t *mesa.Table) {
	fmt.Fprintf(out, "TABLE %s (%d rows)\n", t.Name, len(t.Rows))
	nameW, typeW := 0, 0
	for _, c := range t.Cols {
		if len(c.Name) > nameW {
			nameW = len(c.Name)
		}
		if l := len(c.Type.String()); l > typeW {
			typeW = l
		}
	}
	for _, c := range t.Cols {
		line := fmt.Sprintf("  %s  %s", padRight(c.Name, nameW), padRight(c.Type.String(), typeW))
		switch c.Constraint {
		case mesa.PrimaryKeyCol:
			line += "  PRIMARY KEY"
		case mesa.UniqueCol:
			line += "  UNIQUE"
		case mesa.ForeignKeyCol:
			if c.ForeignKey != nil {
				line += fmt.Sprintf("  REFERENCES %s(%s)", c.ForeignKey.Table, c.ForeignKey.Column)
			}
		}
		fmt.Fprintln(out, strings.TrimRight(line, " "))
	}
}

// ---- result rendering ------------------------------------------------------

func renderResultSet(out io.Writer, rs *mesa.ResultSet, mode outputMode, headers bool) error {
	switch mode {
	case modeCSV:
		return renderCSV(out, rs, headers)
	case modeJSON:
		return renderJSON(out, rs)
	case modeColumn:
		return renderColumn(out, rs, headers)
	default:
		return fmt.Errorf("unknown output mode %q", mode)
	}
}

func renderColumn(out io.Writer, rs *mesa.ResultSet, headers bool) error {
	widths := make([]int, len(rs.Cols))
	if headers {
		for i, c := range rs.Cols {
			widths[i] = len(c)
		}
	}
	for _, row := range rs.Rows {
		for i, c := range rs.Cols {
			if l := len(formatValue(row[strings.ToLower(c)], "NULL")); l > widths[i] {
				widths[i] = l
			}
		}
	}
	if headers {
		for i, c := range rs.Cols {
			fmt.Fprintf(out, "%s  ", padRight(c, widths[i]))
		}
		fmt.Fprintln(out)
		for i := range rs.Cols {
			fmt.Fprintf(out, "%s  ", strings.Repeat("-", widths[i]))
		}
		fmt.Fprintln(out)
	}
	for _, row := range rs.Rows {
		for i, c := range rs.Cols {
			fmt.Fprintf(out, "%s  ", padRight(formatValue(row[strings.ToLower(c)], "NULL"), widths[i]))
		}
		fmt.Fprintln(out)
	}
	return nil
}

func renderCSV(out io.Writer, rs *mesa.ResultSet, headers bool) error {
	w := csv.NewWriter(out)
	if headers {
		if err := w.Write(rs.Cols); err != nil {
			return err
		}
	}
	for _, row := range rs.Rows {
		record := make([]string, len(rs.Cols))
		for i, c := range rs.Cols {
			record[i] = formatValue(row[strings.ToLower(c)], "")
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func renderJSON(out io.Writer, rs *mesa.ResultSet) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resultRows(rs))
}

func resultRows(rs *mesa.ResultSet) []map[string]any {
	rows := make([]map[string]any, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		obj := make(map[string]any, len(rs.Cols))
		for _, c := range rs.Cols {
			obj[c] = storage.NormalizeForJSON(row[strings.ToLower(c)])
		}
		rows = append(rows, obj)
	}
	return rows
}

// formatValue renders one cell; nulls come out as the given placeholder.
// Dates and uuids use the same spelling as the JSON mode.
func formatValue(v any, null string) string {
	if v == nil {
		return null
	}
	return fmt.Sprintf("%v", storage.NormalizeForJSON(v))
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
