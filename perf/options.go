// Package perf drives a create, retrieve, update, count, delete workload
// against the mongo service and summarizes per-action latency.
package perf

import (
	"github.com/tychoish/emt"
)

// Options configure a workload run.
type Options struct {
	Database   string
	Collection string
	// Clients is the number of concurrent clients, each with its own
	// connection.
	Clients int
	// Iterations is the number of full cycles each client runs.
	Iterations int
	// Rate caps requests per second across every client. Zero leaves
	// the workload unpaced.
	Rate        float64
	SkipVersion bool
}

func (o Options) Validate() error {
	catcher := emt.NewBasicCatcher()
	catcher.NewWhen(o.Database == "", "must specify a database")
	catcher.NewWhen(o.Collection == "", "must specify a collection")
	catcher.ErrorfWhen(o.Clients < 1, "must run at least one client [%d]", o.Clients)
	catcher.ErrorfWhen(o.Iterations < 1, "must run at least one iteration [%d]", o.Iterations)
	catcher.ErrorfWhen(o.Rate < 0, "rate %f must not be negative", o.Rate)
	return catcher.Resolve()
}
