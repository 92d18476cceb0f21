package mongosvc

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
)

func recordRequest(action Action, written, read int, started time.Time) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`mongosvc_requests_total{action=%q}`, action)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`mongosvc_request_duration_seconds{action=%q}`, action)).UpdateDuration(started)
	metrics.GetOrCreateCounter("mongosvc_bytes_written_total").Add(written)
	metrics.GetOrCreateCounter("mongosvc_bytes_read_total").Add(read)
}

func recordFailure(action Action, err error) {
	kind := "unknown"
	var e *Error
	if errors.As(err, &e) {
		kind = e.Kind.String()
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`mongosvc_request_errors_total{action=%q,kind=%q}`, action, kind)).Inc()
}
