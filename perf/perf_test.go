package perf

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tychoish/mongosvc"
	"github.com/tychoish/mongosvc/stub"
	"go.mongodb.org/mongo-driver/bson"
)

func startMemoryService(ctx context.Context, t *testing.T) (*stub.Service, mongosvc.Config) {
	t.Helper()

	s := stub.NewMemoryService("localhost", 0)
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Close() })

	conf := mongosvc.NewConfig("localhost", s.Port(), "perf")
	conf.RequestTimeout = 10 * time.Second
	return s, conf
}

func TestOptions(t *testing.T) {
	valid := Options{Database: "itest", Collection: "perf", Clients: 1, Iterations: 1}
	assert.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*Options){
		"NoDatabase":   func(o *Options) { o.Database = "" },
		"NoCollection": func(o *Options) { o.Collection = "" },
		"NoClients":    func(o *Options) { o.Clients = 0 },
		"NoIterations": func(o *Options) { o.Iterations = 0 },
		"NegativeRate": func(o *Options) { o.Rate = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			opts := valid
			mutate(&opts)
			assert.Error(t, opts.Validate())
		})
	}
}

func TestRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("InvalidOptions", func(t *testing.T) {
		report, err := Run(ctx, mongosvc.NewConfig("localhost", 1, "perf"), Options{})
		assert.Error(t, err)
		assert.Nil(t, report)
	})
	for _, skip := range []bool{false, true} {
		name := "Versioned"
		if skip {
			name = "SkipVersion"
		}
		t.Run(name, func(t *testing.T) {
			_, conf := startMemoryService(ctx, t)
			opts := Options{Database: "itest", Collection: "perf", Clients: 4, Iterations: 10, SkipVersion: skip}

			report, err := Run(ctx, conf, opts)
			require.NoError(t, err)
			require.NotNil(t, report)

			assert.Len(t, report.Actions, len(Cycle))
			assert.Zero(t, report.Errors())
			for _, action := range Cycle {
				stats, ok := report.Stats(action)
				require.True(t, ok)
				assert.EqualValues(t, 40, stats.Count, action.String())
				assert.True(t, stats.Max >= stats.P50, action.String())
			}

			_, ok := report.Stats(mongosvc.Bulk)
			assert.False(t, ok)
		})
	}
	t.Run("ServiceErrorsAreCounted", func(t *testing.T) {
		s := stub.NewService("localhost", 0)
		reject := func(ctx context.Context, w io.Writer, _ bson.Raw) error {
			return stub.WriteErrorResponse(ctx, w, io.ErrUnexpectedEOF)
		}
		for _, action := range Cycle {
			require.NoError(t, s.RegisterHandler(action.String(), reject))
		}
		require.NoError(t, s.Start(ctx))
		defer s.Close()

		conf := mongosvc.NewConfig("localhost", s.Port(), "perf")
		report, err := Run(ctx, conf, Options{Database: "itest", Collection: "perf", Clients: 2, Iterations: 3})
		require.NoError(t, err)
		assert.EqualValues(t, 30, report.Errors())
	})
	t.Run("UnreachableService", func(t *testing.T) {
		s, conf := startMemoryService(ctx, t)
		require.NoError(t, s.Close())

		report, err := Run(ctx, conf, Options{Database: "itest", Collection: "perf", Clients: 2, Iterations: 1})
		assert.Error(t, err)
		require.NotNil(t, report)
		for _, stats := range report.Actions {
			assert.Zero(t, stats.Count)
		}
	})
	t.Run("Paced", func(t *testing.T) {
		_, conf := startMemoryService(ctx, t)

		started := time.Now()
		report, err := Run(ctx, conf, Options{Database: "itest", Collection: "perf", Clients: 2, Iterations: 2, Rate: 100})
		require.NoError(t, err)
		assert.Zero(t, report.Errors())
		// 20 requests at 100/s
		assert.True(t, time.Since(started) >= 150*time.Millisecond)
	})
}

func TestLatencyValue(t *testing.T) {
	for _, test := range []struct {
		Name     string
		Duration time.Duration
		Expected int64
	}{
		{Name: "Zero", Duration: 0, Expected: minLatency},
		{Name: "SubMicrosecond", Duration: 500 * time.Nanosecond, Expected: minLatency},
		{Name: "InRange", Duration: 1500 * time.Microsecond, Expected: 1500},
		{Name: "AtMaximum", Duration: time.Minute, Expected: maxLatency},
		{Name: "AboveMaximum", Duration: 2 * time.Minute, Expected: maxLatency},
		{Name: "FarAboveMaximum", Duration: 24 * time.Hour, Expected: maxLatency},
	} {
		t.Run(test.Name, func(t *testing.T) {
			v := latencyValue(test.Duration)
			assert.Equal(t, test.Expected, v)

			hist := hdrhistogram.New(minLatency, maxLatency, sigFigs)
			require.NoError(t, hist.RecordValue(v))
			assert.EqualValues(t, 1, hist.TotalCount())
		})
	}
}

func TestReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, conf := startMemoryService(ctx, t)
	report, err := Run(ctx, conf, Options{Database: "itest", Collection: "perf", Clients: 1, Iterations: 2})
	require.NoError(t, err)

	t.Run("WriteTo", func(t *testing.T) {
		buf := &bytes.Buffer{}
		n, err := report.WriteTo(buf)
		require.NoError(t, err)
		assert.EqualValues(t, buf.Len(), n)
		for _, action := range Cycle {
			assert.Contains(t, buf.String(), action.String())
		}
		assert.Contains(t, buf.String(), "1 clients x 2 iterations")
	})
	t.Run("Document", func(t *testing.T) {
		out, err := bson.Marshal(report.Document())
		require.NoError(t, err)

		raw := bson.Raw(out)
		assert.Equal(t, "itest", raw.Lookup("database").StringValue())
		assert.EqualValues(t, 2, raw.Lookup("actions", "create", "count").Int64())
	})
}

func TestCollectRuntime(t *testing.T) {
	rt, err := CollectRuntime()
	require.NotNil(t, rt)
	assert.NotZero(t, rt.PID)
	assert.NotZero(t, rt.Goroutines)
	assert.NotZero(t, rt.HeapAlloc)
	if err == nil {
		assert.NotZero(t, rt.RSS)
	}
}
