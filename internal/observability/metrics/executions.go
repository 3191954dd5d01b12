package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type executionKey struct {
	engine  string
	outcome string
}

type executionCollector struct {
	mu     sync.Mutex
	counts map[executionKey]uint64
}

var execCollector = &executionCollector{
	counts: make(map[executionKey]uint64),
}

// ObserveExecution records the outcome of one engine operation, e.g.
// ("policy", "success") or ("subscription", "not_due").
func ObserveExecution(engine, outcome string) {
	execCollector.mu.Lock()
	execCollector.counts[executionKey{engine: engine, outcome: outcome}]++
	execCollector.mu.Unlock()
}

func (c *executionCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type metric struct {
		executionKey
		value uint64
	}
	items := make([]metric, 0, len(c.counts))
	for key, value := range c.counts {
		items = append(items, metric{executionKey: key, value: value})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].engine == items[j].engine {
			return items[i].outcome < items[j].outcome
		}
		return items[i].engine < items[j].engine
	})

	var builder strings.Builder
	builder.WriteString("# HELP payroute_executions_total Total number of engine operations by outcome.\n")
	builder.WriteString("# TYPE payroute_executions_total counter\n")
	for _, m := range items {
		builder.WriteString(fmt.Sprintf("payroute_executions_total{engine=\"%s\",outcome=\"%s\"} %d\n",
			escape(m.engine), escape(m.outcome), m.value))
	}
	return builder.String()
}
