// Package metrics counts sync engine activity in Prometheus text format.
package metrics

import (
	"fmt"
	"io"

	vm "github.com/VictoriaMetrics/metrics"
)

// Recorder is safe for concurrent use. A nil *Recorder discards everything.
type Recorder struct {
	set *vm.Set
}

func New() *Recorder {
	return &Recorder{set: vm.NewSet()}
}

func (r *Recorder) counter(name string) *vm.Counter {
	return r.set.GetOrCreateCounter(name)
}

// Update counts one consumer update.
func (r *Recorder) Update() {
	if r == nil {
		return
	}
	r.counter("classdesk_updates_total").Inc()
}

// Flush counts one physical write to target ("local" or "remote").
func (r *Recorder) Flush(target string, err error) {
	if r == nil {
		return
	}
	r.counter(fmt.Sprintf(`classdesk_flushes_total{target=%q}`, target)).Inc()
	if err != nil {
		r.counter(fmt.Sprintf(`classdesk_flush_errors_total{target=%q}`, target)).Inc()
	}
}

// RemoteNotification counts a push from the remote store. skipped marks
// notifications that were recognised as this session's own write.
func (r *Recorder) RemoteNotification(skipped bool) {
	if r == nil {
		return
	}
	r.counter("classdesk_remote_notifications_total").Inc()
	if skipped {
		r.counter("classdesk_remote_self_echo_skipped_total").Inc()
	}
}

// Migration counts a first-login migration by result: created, conflict or failed.
func (r *Recorder) Migration(result string) {
	if r == nil {
		return
	}
	r.counter(fmt.Sprintf(`classdesk_migrations_total{result=%q}`, result)).Inc()
}

// Quarantined counts stored fields that failed validation during reconcile.
func (r *Recorder) Quarantined(n int) {
	if r == nil || n == 0 {
		return
	}
	r.counter("classdesk_quarantined_fields_total").Add(n)
}

// Resubscribe counts a retry of a failed remote subscription.
func (r *Recorder) Resubscribe() {
	if r == nil {
		return
	}
	r.counter("classdesk_remote_resubscribes_total").Inc()
}

// WritePrometheus writes the engine counters followed by process metrics.
func (r *Recorder) WritePrometheus(w io.Writer) {
	if r != nil {
		r.set.WritePrometheus(w)
	}
	vm.WriteProcessMetrics(w)
}
