package perf

import (
	"context"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tychoish/emt"
	"github.com/tychoish/grip"
	"github.com/tychoish/grip/message"
	"github.com/tychoish/mongosvc"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/time/rate"
)

// Cycle lists the actions of one iteration in the order they run.
var Cycle = []mongosvc.Action{
	mongosvc.Create,
	mongosvc.Retrieve,
	mongosvc.Update,
	mongosvc.Count,
	mongosvc.Delete,
}

const (
	// latencies are recorded in microseconds, up to one minute.
	minLatency = 1
	maxLatency = int64(time.Minute / time.Microsecond)
	sigFigs    = 3
)

type tally struct {
	hist   *hdrhistogram.Histogram
	errors int64
}

type worker struct {
	id      int
	opts    Options
	limiter *rate.Limiter
	tallies map[mongosvc.Action]*tally
}

func newWorker(id int, opts Options, limiter *rate.Limiter) *worker {
	w := &worker{
		id:      id,
		opts:    opts,
		limiter: limiter,
		tallies: make(map[mongosvc.Action]*tally, len(Cycle)),
	}
	for _, a := range Cycle {
		w.tallies[a] = &tally{hist: hdrhistogram.New(minLatency, maxLatency, sigFigs)}
	}
	return w
}

// Run opens opts.Clients clients and drives opts.Iterations cycles on
// each. Responses that carry an error field count against their action
// and the cycle continues; a failed exchange ends that client's run.
// The report covers everything recorded before the run ended, and is
// returned even when some clients failed.
func Run(ctx context.Context, conf mongosvc.Config, opts Options) (*Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid perf options")
	}

	var limiter *rate.Limiter
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}

	workers := make([]*worker, opts.Clients)
	catcher := emt.NewBasicCatcher()
	mu := &sync.Mutex{}
	wg := &sync.WaitGroup{}

	started := time.Now()
	for i := range workers {
		workers[i] = newWorker(i, opts, limiter)
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			err := mongosvc.WithClient(ctx, conf, w.run)
			if err != nil {
				mu.Lock()
				catcher.Add(errors.Wrapf(err, "client %d", w.id))
				mu.Unlock()
			}
		}(workers[i])
	}
	wg.Wait()

	report := newReport(opts, time.Since(started), workers)

	rt, err := CollectRuntime()
	grip.Debug(message.WrapError(err, "collecting process stats"))
	report.Runtime = rt

	grip.Info(message.Fields{
		"message":  "perf run complete",
		"clients":  opts.Clients,
		"cycles":   opts.Iterations,
		"duration": report.Duration,
		"errors":   report.Errors(),
	})

	return report, catcher.Resolve()
}

func (w *worker) run(ctx context.Context, client *mongosvc.Client) error {
	for i := 0; i < w.opts.Iterations; i++ {
		id := primitive.NewObjectID()
		for _, action := range Cycle {
			if err := w.exec(ctx, client, w.request(action, id, i)); err != nil {
				return errors.Wrapf(err, "iteration %d", i)
			}
		}
	}
	return nil
}

func (w *worker) request(action mongosvc.Action, id primitive.ObjectID, iter int) *mongosvc.Request {
	opts := mongosvc.RequestOptions{
		CorrelationID: uuid.NewString(),
		SkipVersion:   w.opts.SkipVersion,
	}
	db, coll := w.opts.Database, w.opts.Collection

	switch action {
	case mongosvc.Create:
		return mongosvc.NewCreateRequest(db, coll, bson.D{
			{Key: "_id", Value: id},
			{Key: "client", Value: w.id},
			{Key: "iteration", Value: iter},
			{Key: "created", Value: primitive.NewDateTimeFromTime(time.Now())},
		}, opts)
	case mongosvc.Retrieve:
		return mongosvc.NewRetrieveRequest(db, coll, bson.D{{Key: "_id", Value: id}}, opts)
	case mongosvc.Update:
		return mongosvc.NewUpdateRequest(db, coll, bson.D{
			{Key: "_id", Value: id},
			{Key: "iteration", Value: iter},
			{Key: "updated", Value: true},
		}, opts)
	case mongosvc.Count:
		return mongosvc.NewCountRequest(db, coll, bson.D{{Key: "client", Value: w.id}}, mongosvc.QueryOptions{
			CorrelationID: opts.CorrelationID,
		})
	default:
		return mongosvc.NewDeleteRequest(db, coll, bson.D{{Key: "_id", Value: id}}, opts)
	}
}

func (w *worker) exec(ctx context.Context, client *mongosvc.Client, req *mongosvc.Request) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "waiting for rate limiter")
		}
	}

	t := w.tallies[req.Action]

	started := time.Now()
	resp, err := client.Execute(ctx, req)
	elapsed := time.Since(started)

	if err != nil {
		t.errors++
		return err
	}

	if mongosvc.HasKey("error", resp) {
		t.errors++
		msg, _ := resp.StringValue("error")
		grip.Debug(message.Fields{
			"message":        "service reported error",
			"action":         req.Action.String(),
			"correlation_id": req.CorrelationID,
			"error":          msg,
		})
	}

	return errors.Wrap(t.hist.RecordValue(latencyValue(elapsed)), "recording latency")
}

// latencyValue converts a duration to the histogram's unit, clamped to
// its trackable range. Slower exchanges land in the top bucket.
func latencyValue(d time.Duration) int64 {
	v := int64(d / time.Microsecond)
	switch {
	case v < minLatency:
		return minLatency
	case v > maxLatency:
		return maxLatency
	default:
		return v
	}
}
