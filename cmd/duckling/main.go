// Command duckling runs SQL against a DuckDB database through the duckling
// access layer.
package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/semihalev/duckling"
)

type options struct {
	db          string
	configPath  string
	noColor     bool
	arrowPath   string
	appendTable string
	header      bool
	nullText    string
	metricsAddr string
	logLevel    string
	logFormat   string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var opts options
	fs := flag.NewFlagSet("duckling", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.db, "db", duckling.Memory, "Database location: a path, :memory:, file://, s3:// or http(s):// URL")
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	fs.StringVar(&opts.arrowPath, "arrow", "", "Write the last result to this file as an Arrow IPC stream")
	fs.StringVar(&opts.appendTable, "append", "", "Append CSV rows read from stdin to this table")
	fs.BoolVar(&opts.header, "header", false, "The CSV input starts with a header line (with --append)")
	fs.StringVar(&opts.nullText, "null", "", "CSV field text that stands for NULL (with --append)")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	fs.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: duckling [options] [sql...]

Runs each SQL argument in order and prints the rows it returns. Without SQL
arguments the statements are read from stdin.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(stderr, `
Examples:
  duckling "SELECT 42 AS answer"
  duckling --db data.duckdb --append events < events.csv
  duckling --db s3://bucket/data.duckdb --arrow out.arrow "FROM events"
`)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	color.NoColor = color.NoColor || opts.noColor
	duckling.SetLogger(duckling.NewLogger(opts.logLevel, opts.logFormat, stderr))

	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, stderr)
		defer srv.Close()
	}

	if err := execute(opts, fs.Args(), stdin, stdout); err != nil {
		color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func serveMetrics(addr string, stderr io.Writer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(duckling.MetricsRegistry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(stderr, "metrics server: %v\n", err)
		}
	}()
	return srv
}

func execute(opts options, statements []string, stdin io.Reader, stdout io.Writer) (err error) {
	var cfg *duckling.Config
	if opts.configPath != "" {
		if cfg, err = duckling.LoadConfig(opts.configPath); err != nil {
			return err
		}
	}

	db, err := duckling.Open(opts.db, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()

	conn, err := db.Connect()
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, conn.Close())
	}()

	if opts.appendTable != "" {
		n, err := appendCSV(conn, opts.appendTable, stdin, opts.header, opts.nullText)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(stdout, "appended %d rows to %s\n", n, opts.appendTable)
		return nil
	}

	if len(statements) == 0 {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			statements = []string{text}
		}
	}

	for i, sql := range statements {
		last := i == len(statements)-1
		if err := runStatement(conn, sql, stdout, last, opts.arrowPath); err != nil {
			return err
		}
	}
	return nil
}

func runStatement(conn *duckling.Connection, sql string, stdout io.Writer, last bool, arrowPath string) error {
	res, err := conn.Query(sql)
	if err != nil {
		return err
	}
	defer res.Close()

	if last && arrowPath != "" {
		f, err := os.Create(arrowPath)
		if err != nil {
			return err
		}
		if err := res.WriteArrow(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(stdout, "wrote %d rows to %s\n", res.RowsFetched(), arrowPath)
		return nil
	}

	_, err = printResult(stdout, res)
	return err
}
