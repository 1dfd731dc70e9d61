package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/nrquery/internal/engine"
	"github.com/miradorstack/nrquery/internal/extractors"
	"github.com/miradorstack/nrquery/internal/nrql"
	"github.com/miradorstack/nrquery/internal/result"
	"github.com/miradorstack/nrquery/internal/stats"
	"github.com/miradorstack/nrquery/internal/utils"
	"github.com/miradorstack/nrquery/internal/weighting"
)

// builderFlags compose a single NRQL query when none is given as an argument.
type builderFlags struct {
	metric     string
	selects    []string
	from       []string
	where      []string
	facet      []string
	since      string
	until      string
	limit      int
	timeseries string
}

func (b *builderFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&b.metric, "metric", "", "select average(<metric>) aliased as the metric name")
	f.StringSliceVar(&b.selects, "select", nil, "select expressions")
	f.StringSliceVar(&b.from, "from", nil, "event types to query")
	f.StringArrayVar(&b.where, "where", nil, "WHERE conditions, joined with AND")
	f.StringSliceVar(&b.facet, "facet", nil, "facet attributes")
	f.StringVar(&b.since, "since", "", `window start, e.g. "1 hour ago"`)
	f.StringVar(&b.until, "until", "", "window end")
	f.IntVar(&b.limit, "limit", 0, "row limit, capped at the NRQL maximum")
	f.StringVar(&b.timeseries, "timeseries", "", `bucket the query, e.g. "5 minutes" or "auto"`)
}

// queries returns args when present, otherwise the query built from flags.
func (b *builderFlags) queries(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if b.metric == "" && len(b.selects) == 0 {
		return nil, errors.New("pass NRQL as arguments or describe one with --metric/--select and --from")
	}
	if len(b.from) == 0 {
		return nil, errors.New("--from is required when building a query")
	}

	exprs := b.selects
	if b.metric != "" {
		exprs = append([]string{nrql.MetricExpr(b.metric)}, exprs...)
	}
	q := nrql.Select(exprs...)
	q.From(b.from...).Facet(b.facet...).Since(b.since).Until(b.until)
	for _, cond := range b.where {
		q.Where(cond)
	}
	if b.limit > 0 {
		q.Limit(b.limit)
	}
	if b.timeseries != "" {
		q.Timeseries(b.timeseries)
	}
	return []string{q.String()}, nil
}

func newQueryCmd(global *globalFlags) *cobra.Command {
	var (
		build  builderFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "query [NRQL...]",
		Short: "Run queries and print the normalized table",
		Long:  "Runs one or more NRQL queries. Several queries are merged in order into a single table.",
		Example: `  nrquery query "SELECT average(cpuPercent) FROM SystemSample SINCE 1 hour ago TIMESERIES"
  nrquery query --metric cpuPercent --from SystemSample --since "1 hour ago" --timeseries auto`,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := build.queries(args)
			if err != nil {
				return err
			}
			a, err := newApp(global)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.runner.Run(cmd.Context(), queries...)
			if err != nil {
				return err
			}
			return writeTable(cmd.OutOrStdout(), run.Table, format)
		},
	}
	build.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "o", "csv", "output format: csv or json")
	return cmd
}

func writeTable(w io.Writer, table *result.Table, format string) error {
	switch strings.ToLower(format) {
	case "csv", "":
		return table.WriteCSV(w)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"index_kind": table.IndexKind().String(),
			"columns":    table.Columns(),
			"rows":       table.Records(),
		})
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func newStatsCmd(global *globalFlags) *cobra.Command {
	var (
		build  builderFlags
		op     string
		model  string
		series []string
	)
	cmd := &cobra.Command{
		Use:   "stats [NRQL...]",
		Short: "Apply a reducer to the numeric series of a query",
		Long: "Reducers: " + strings.Join(opNames(), ", ") + ".\n" +
			"avg accepts --model linear, exponential, log or bellcurve.",
		Example: `  nrquery stats --op avg --model exponential "SELECT average(duration) FROM Transaction SINCE 1 day ago TIMESERIES"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := stats.ParseOp(op)
			if err != nil {
				return err
			}
			queries, err := build.queries(args)
			if err != nil {
				return err
			}
			a, err := newApp(global)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.runner.Stats(cmd.Context(), engine.StatsRequest{
				Queries: queries,
				Op:      parsed,
				Model:   weighting.ParseModel(model),
				Series:  series,
			})
			if err != nil {
				return err
			}
			return writeOutputs(cmd.OutOrStdout(), parsed, res.Outputs)
		},
	}
	build.register(cmd)
	cmd.Flags().StringVar(&op, "op", string(stats.OpAvg), "reducer to apply")
	cmd.Flags().StringVar(&model, "model", "linear", "weighting model for avg")
	cmd.Flags().StringSliceVar(&series, "series", nil, "columns to reduce (default: all numeric value columns)")
	return cmd
}

func opNames() []string {
	names := make([]string, len(stats.Ops))
	for i, op := range stats.Ops {
		names[i] = string(op)
	}
	return names
}

func writeOutputs(w io.Writer, op stats.Op, outputs map[string]stats.Output) error {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range names {
		out := outputs[name]
		if op.Scalar() {
			fmt.Fprintf(tw, "%s\t%s\n", name, formatFloat(out.Value))
			continue
		}
		parts := make([]string, len(out.Values))
		for i, v := range out.Values {
			parts[i] = formatFloat(v)
		}
		fmt.Fprintf(tw, "%s\t%s\n", name, strings.Join(parts, " "))
	}
	return tw.Flush()
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	return fmt.Sprintf("%g", f)
}

func newSampleCmd(global *globalFlags) *cobra.Command {
	var (
		build     builderFlags
		owner     string
		model     string
		threshold float64
		bucket    int
	)
	cmd := &cobra.Command{
		Use:   "sample --metric NAME [NRQL]",
		Short: "Summarize one metric column and flag anomalous points",
		RunE: func(cmd *cobra.Command, args []string) error {
			if build.metric == "" {
				return errors.New("--metric is required")
			}
			queries, err := build.queries(args)
			if err != nil {
				return err
			}
			if len(queries) != 1 {
				return fmt.Errorf("sample takes exactly one query, got %d", len(queries))
			}
			a, err := newApp(global)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.runner.Sample(cmd.Context(), build.metric, owner, queries[0])
			if err != nil {
				return err
			}
			avg, err := s.Avg(weighting.ParseModel(model))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "metric\t%s\n", s.Metric())
			if owner != "" {
				fmt.Fprintf(tw, "owner\t%s\n", owner)
			}
			fmt.Fprintf(tw, "points\t%d\n", s.Len())
			fmt.Fprintf(tw, "sum\t%s\n", formatFloat(s.Sum()))
			fmt.Fprintf(tw, "min\t%s\n", formatFloat(s.Min()))
			fmt.Fprintf(tw, "max\t%s\n", formatFloat(s.Max()))
			fmt.Fprintf(tw, "avg (%s)\t%s\n", weighting.ParseModel(model), formatFloat(avg))
			fmt.Fprintf(tw, "std\t%s\n", formatFloat(s.Std()))
			fmt.Fprintf(tw, "var\t%s\n", formatFloat(s.Var()))
			if bucket > 0 {
				resampled, err := s.Resample(bucket)
				if err != nil {
					return err
				}
				parts := make([]string, len(resampled))
				for i, v := range resampled {
					parts[i] = formatFloat(v)
				}
				fmt.Fprintf(tw, "resampled/%d\t%s\n", bucket, strings.Join(parts, " "))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			return writeAnomalies(w, s.Anomalies(threshold))
		},
	}
	build.register(cmd)
	cmd.Flags().StringVar(&owner, "owner", "", "label identifying what the sample belongs to")
	cmd.Flags().StringVar(&model, "model", "linear", "weighting model for the average")
	cmd.Flags().Float64Var(&threshold, "threshold", extractors.DefaultThreshold, "z-score threshold for anomalies")
	cmd.Flags().IntVar(&bucket, "resample", 0, "also print bucket means of this many points")
	return cmd
}

func writeAnomalies(w io.Writer, anomalies []extractors.Anomaly) error {
	if len(anomalies) == 0 {
		_, err := fmt.Fprintln(w, "no anomalies")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "position\ttime\tvalue\tz")
	for _, a := range anomalies {
		when := "-"
		if !a.Time.IsZero() {
			when = a.Time.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\n", a.Position, when, formatFloat(a.Value), a.Score)
	}
	return tw.Flush()
}

func newDeadNodesCmd(global *globalFlags) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "deadnodes",
		Short: "List entities that stopped reporting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := utils.ParseRelative(since, time.Now())
			if err != nil {
				return err
			}
			a, err := newApp(global)
			if err != nil {
				return err
			}
			defer a.Close()

			names, err := a.runner.DeadNodes(cmd.Context(), from)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "1 day ago", `only entities that went silent after this time, "N units ago" or RFC3339`)
	return cmd
}
