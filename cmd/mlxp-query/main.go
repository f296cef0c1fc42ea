// Package main implements the mlxp-query binary.
// It searches the run catalog and prints runs, groups, and aggregations.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/jpeyre/mlxp/internal/app"
	"github.com/jpeyre/mlxp/internal/catalog"
	"github.com/jpeyre/mlxp/internal/config"
	"github.com/jpeyre/mlxp/pkg/aggregate"
	"github.com/jpeyre/mlxp/pkg/runs"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML or JSON config file")
		db         = flag.String("db", "", "Path to the catalog database (overrides config)")
		filter     = flag.String("filter", "", "Filter expression, e.g. \"config.lr < 0.1 & info.status == 'COMPLETE'\"")
		groupBy    = flag.String("group-by", "", "Comma-separated columns to group by")
		aggSpec    = flag.String("aggregate", "", "Comma-separated aggregations, e.g. \"min(train.loss),avgstd(train.acc)\"")
		diffPrefix = flag.String("diff", "", "Report columns under this prefix that differ across matched runs")
		fields     = flag.Bool("fields", false, "List the indexed fields and their kinds")
		format     = flag.String("format", "table", "Output format: table, csv")
	)
	flag.Parse()

	if *format != "table" && *format != "csv" {
		log.Fatalf("Unknown format %q (must be table or csv)", *format)
	}

	cfg := loadConfig(*configPath)
	if *db != "" {
		cfg.Paths.CatalogPath = *db
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	cat, err := a.Catalog()
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *fields {
		listFields(ctx, cat, *format)
		return
	}

	collection, err := cat.Search(ctx, *filter)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	log.Printf("Matched %d runs", collection.Len())

	if *diffPrefix != "" {
		for _, col := range collection.Diff(*diffPrefix) {
			fmt.Println(col)
		}
		return
	}

	if *groupBy == "" {
		if *aggSpec != "" {
			log.Fatalf("-aggregate requires -group-by")
		}
		printCollection(collection, *format)
		return
	}

	keys := splitList(*groupBy)
	grouped, err := collection.GroupBy(keys)
	if err != nil {
		log.Fatalf("Grouping failed: %v", err)
	}

	if *aggSpec == "" {
		printGrouped(grouped, *format)
		return
	}

	maps, err := parseAggregations(*aggSpec)
	if err != nil {
		log.Fatalf("Invalid -aggregate: %v", err)
	}
	results, err := grouped.Aggregate(maps)
	if err != nil {
		log.Fatalf("Aggregation failed: %v", err)
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("-- %s --\n", name)
		printGrouped(results[name], *format)
	}
}

func listFields(ctx context.Context, cat *catalog.Catalog, format string) {
	fs, err := cat.Fields(ctx)
	if err != nil {
		log.Fatalf("Failed to list fields: %v", err)
	}

	rows := make([][]string, len(fs))
	for i, f := range fs {
		rows[i] = []string{f.Key, f.Kind}
	}
	printRows([]string{"FIELD", "KIND"}, rows, format)
}

func printCollection(c *runs.Collection, format string) {
	cols := c.Columns()
	rows := make([][]string, 0, c.Len())
	for _, doc := range c.Table() {
		row := make([]string, len(cols))
		for i, col := range cols {
			row[i] = formatCell(doc[col])
		}
		rows = append(rows, row)
	}
	printRows(cols, rows, format)
}

func printGrouped(g *runs.Grouped, format string) {
	keyNames := strings.Join(g.GroupKeys(), ", ")
	for _, tuple := range g.Tuples() {
		leaf, _ := g.Group(tuple)
		fmt.Printf("[%s = %s] (%d runs)\n", keyNames, strings.Join(tuple, ", "), leaf.Len())
		printCollection(leaf, format)
	}
}

func printRows(header []string, rows [][]string, format string) {
	switch format {
	case "csv":
		w := csv.NewWriter(os.Stdout)
		w.Write(header)
		for _, row := range rows {
			w.Write(row)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			log.Fatalf("Failed to write CSV: %v", err)
		}
	default:
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, strings.Join(header, "\t"))
		for _, row := range rows {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
		w.Flush()
	}
}

func formatCell(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// parseAggregations parses a comma-separated list of kind(field, ...)
// specs into aggregation maps. Commas inside parentheses separate the
// fields of a single spec.
func parseAggregations(spec string) ([]aggregate.Map, error) {
	maps := []aggregate.Map{}
	for _, part := range splitSpecs(spec) {
		open := strings.Index(part, "(")
		if open < 0 || !strings.HasSuffix(part, ")") {
			return nil, fmt.Errorf("malformed aggregation %q, want kind(field, ...)", part)
		}
		kind := strings.TrimSpace(part[:open])
		fields := splitList(part[open+1 : len(part)-1])
		if len(fields) == 0 {
			return nil, fmt.Errorf("aggregation %q names no fields", part)
		}

		switch kind {
		case "last":
			maps = append(maps, aggregate.Last(fields[0]))
		case "min":
			maps = append(maps, aggregate.Min(fields[0]))
		case "max":
			maps = append(maps, aggregate.Max(fields[0]))
		case "avgstd":
			maps = append(maps, aggregate.AvgStd(fields...))
		default:
			return nil, fmt.Errorf("unknown aggregation %q (must be last, min, max, or avgstd)", kind)
		}
	}
	if len(maps) == 0 {
		return nil, fmt.Errorf("no aggregations given")
	}
	return maps, nil
}

// splitSpecs splits on commas outside parentheses.
func splitSpecs(s string) []string {
	parts := []string{}
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if p := strings.TrimSpace(s[start:]); p != "" {
		parts = append(parts, p)
	}
	return parts
}

func splitList(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadConfig(path string) *config.Config {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	return cfg
}
