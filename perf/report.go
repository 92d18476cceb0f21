package perf

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/tychoish/mongosvc"
	"go.mongodb.org/mongo-driver/bson"
)

// ActionStats summarizes the exchanges of one action across all
// clients. Latencies only include exchanges that completed.
type ActionStats struct {
	Action mongosvc.Action
	Count  int64
	Errors int64
	Mean   time.Duration
	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	Max    time.Duration
}

type Report struct {
	Options  Options
	Duration time.Duration
	Actions  []ActionStats
	Runtime  *Runtime
}

func micros(v int64) time.Duration { return time.Duration(v) * time.Microsecond }

func newReport(opts Options, dur time.Duration, workers []*worker) *Report {
	r := &Report{Options: opts, Duration: dur}

	for _, action := range Cycle {
		merged := hdrhistogram.New(minLatency, maxLatency, sigFigs)
		stats := ActionStats{Action: action}

		for _, w := range workers {
			t := w.tallies[action]
			merged.Merge(t.hist)
			stats.Errors += t.errors
		}

		stats.Count = merged.TotalCount()
		if stats.Count > 0 {
			stats.Mean = time.Duration(merged.Mean() * float64(time.Microsecond))
			stats.P50 = micros(merged.ValueAtQuantile(50))
			stats.P95 = micros(merged.ValueAtQuantile(95))
			stats.P99 = micros(merged.ValueAtQuantile(99))
			stats.Max = micros(merged.Max())
		}

		r.Actions = append(r.Actions, stats)
	}

	return r
}

// Stats returns the summary for one action.
func (r *Report) Stats(action mongosvc.Action) (ActionStats, bool) {
	for _, s := range r.Actions {
		if s.Action == action {
			return s, true
		}
	}
	return ActionStats{}, false
}

func (r *Report) Errors() int64 {
	var n int64
	for _, s := range r.Actions {
		n += s.Errors
	}
	return n
}

func (r *Report) Document() bson.D {
	actions := bson.D{}
	for _, s := range r.Actions {
		actions = append(actions, bson.E{Key: s.Action.String(), Value: bson.D{
			{Key: "count", Value: s.Count},
			{Key: "errors", Value: s.Errors},
			{Key: "mean_us", Value: s.Mean.Microseconds()},
			{Key: "p50_us", Value: s.P50.Microseconds()},
			{Key: "p95_us", Value: s.P95.Microseconds()},
			{Key: "p99_us", Value: s.P99.Microseconds()},
			{Key: "max_us", Value: s.Max.Microseconds()},
		}})
	}

	out := bson.D{
		{Key: "database", Value: r.Options.Database},
		{Key: "collection", Value: r.Options.Collection},
		{Key: "clients", Value: r.Options.Clients},
		{Key: "iterations", Value: r.Options.Iterations},
		{Key: "duration_ms", Value: r.Duration.Milliseconds()},
		{Key: "actions", Value: actions},
	}
	if r.Runtime != nil {
		out = append(out, bson.E{Key: "runtime", Value: r.Runtime.Document()})
	}
	return out
}

// WriteTo renders the report as an aligned table.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	tw := tabwriter.NewWriter(cw, 0, 4, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintf(tw, "action\tcount\terrors\tmean\tp50\tp95\tp99\tmax\t\n")
	for _, s := range r.Actions {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t\n",
			s.Action, s.Count, s.Errors, s.Mean, s.P50, s.P95, s.P99, s.Max)
	}
	if err := tw.Flush(); err != nil {
		return cw.n, err
	}

	fmt.Fprintf(cw, "\n%d clients x %d iterations in %s\n", r.Options.Clients, r.Options.Iterations, r.Duration)
	if rt := r.Runtime; rt != nil {
		fmt.Fprintf(cw, "pid %d: rss %d bytes, cpu %.1f%%, %d threads, %d goroutines\n",
			rt.PID, rt.RSS, rt.CPUPercent, rt.Threads, rt.Goroutines)
	}

	return cw.n, cw.err
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
