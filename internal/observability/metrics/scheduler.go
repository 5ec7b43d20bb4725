package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type updateKey struct {
	definition string
	result     string
}

type schedulerCollectorState struct {
	mu           sync.Mutex
	ticks        uint64
	tickDuration *histogram
	started      map[string]uint64
	declined     map[string]uint64
	updates      map[updateKey]uint64
}

var schedulerCollector = &schedulerCollectorState{
	tickDuration: newHistogram(tickBuckets),
	started:      make(map[string]uint64),
	declined:     make(map[string]uint64),
	updates:      make(map[updateKey]uint64),
}

var tickBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60}

// ObserveTick records the duration of one full scheduling tick.
func ObserveTick(duration time.Duration) {
	schedulerCollector.mu.Lock()
	defer schedulerCollector.mu.Unlock()
	schedulerCollector.ticks++
	schedulerCollector.tickDuration.observe(duration.Seconds())
}

// ObserveTaskStarted counts a newly persisted task per definition.
func ObserveTaskStarted(definition string) {
	schedulerCollector.mu.Lock()
	defer schedulerCollector.mu.Unlock()
	schedulerCollector.started[definition]++
}

// ObserveStartDeclined counts a definition declining to start.
func ObserveStartDeclined(definition string) {
	schedulerCollector.mu.Lock()
	defer schedulerCollector.mu.Unlock()
	schedulerCollector.declined[definition]++
}

// ObserveTaskUpdate counts one update call; result is the task status
// after the update, or "error" when the update itself failed.
func ObserveTaskUpdate(definition, result string) {
	schedulerCollector.mu.Lock()
	defer schedulerCollector.mu.Unlock()
	schedulerCollector.updates[updateKey{definition: definition, result: result}]++
}

func (c *schedulerCollectorState) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP chainflow_scheduler_ticks_total Total number of completed scheduling ticks.\n")
	builder.WriteString("# TYPE chainflow_scheduler_ticks_total counter\n")
	builder.WriteString(fmt.Sprintf("chainflow_scheduler_ticks_total %d\n", c.ticks))

	builder.WriteString("# HELP chainflow_scheduler_tick_duration_seconds Scheduling tick duration in seconds.\n")
	builder.WriteString("# TYPE chainflow_scheduler_tick_duration_seconds histogram\n")
	writeHistogram(&builder, "chainflow_scheduler_tick_duration_seconds", `loop="action"`, c.tickDuration)

	builder.WriteString("# HELP chainflow_tasks_started_total Tasks created, labelled by action definition.\n")
	builder.WriteString("# TYPE chainflow_tasks_started_total counter\n")
	for _, definition := range sortedKeys(c.started) {
		builder.WriteString(fmt.Sprintf("chainflow_tasks_started_total{definition=%q} %d\n",
			definition, c.started[definition]))
	}

	builder.WriteString("# HELP chainflow_task_starts_declined_total Start attempts declined by the definition itself.\n")
	builder.WriteString("# TYPE chainflow_task_starts_declined_total counter\n")
	for _, definition := range sortedKeys(c.declined) {
		builder.WriteString(fmt.Sprintf("chainflow_task_starts_declined_total{definition=%q} %d\n",
			definition, c.declined[definition]))
	}

	builder.WriteString("# HELP chainflow_task_updates_total Update calls, labelled by definition and resulting status.\n")
	builder.WriteString("# TYPE chainflow_task_updates_total counter\n")
	keys := make([]updateKey, 0, len(c.updates))
	for key := range c.updates {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].definition == keys[j].definition {
			return keys[i].result < keys[j].result
		}
		return keys[i].definition < keys[j].definition
	})
	for _, key := range keys {
		builder.WriteString(fmt.Sprintf("chainflow_task_updates_total{definition=%q,result=%q} %d\n",
			key.definition, key.result, c.updates[key]))
	}

	return builder.String()
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
