package metrics

import (
	"sort"
	"sync"
	"time"
)

// OperationStats holds the counters for one kind of operation
type OperationStats struct {
	Operation     string
	Total         int64
	Successful    int64
	Failed        int64
	AverageOpTime time.Duration
}

// Metrics records outcomes of calls into the network configuration service
type Metrics struct {
	operations map[string]*OperationStats
	LastUpdate time.Time
	mutex      sync.RWMutex
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		operations: make(map[string]*OperationStats),
		LastUpdate: time.Now(),
	}
}

// RecordOperation records the outcome and duration of one operation
func (m *Metrics) RecordOperation(operation string, duration time.Duration, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	stats, ok := m.operations[operation]
	if !ok {
		stats = &OperationStats{Operation: operation}
		m.operations[operation] = stats
	}

	stats.Total++
	if success {
		stats.Successful++
	} else {
		stats.Failed++
	}

	if stats.AverageOpTime == 0 {
		stats.AverageOpTime = duration
	} else {
		stats.AverageOpTime = (stats.AverageOpTime + duration) / 2
	}

	m.LastUpdate = time.Now()
}

// Get returns the stats for one operation
func (m *Metrics) Get(operation string) (OperationStats, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stats, ok := m.operations[operation]
	if !ok {
		return OperationStats{Operation: operation}, false
	}
	return *stats, true
}

// Snapshot returns the stats of every operation sorted by name
func (m *Metrics) Snapshot() []OperationStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]OperationStats, 0, len(m.operations))
	for _, s := range m.operations {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// Fields flattens the snapshot into key/value pairs for structured logging
func (m *Metrics) Fields() map[string]interface{} {
	fields := make(map[string]interface{})
	for _, s := range m.Snapshot() {
		fields[s.Operation+"_total"] = s.Total
		fields[s.Operation+"_failed"] = s.Failed
		fields[s.Operation+"_avg_ms"] = s.AverageOpTime.Milliseconds()
	}
	return fields
}
