package worker

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// baseBatchSize is the reference batch size the four memory bands scale
// from (spec: BASE = 50).
const baseBatchSize = 50

// BatchSizeForMemory maps a memory-utilization percentage to the packaging
// worker's consume batch size, per the four bands: heavier memory pressure
// shrinks the batch, idle memory grows it.
func BatchSizeForMemory(usedPercent float64) int {
	switch {
	case usedPercent >= 90:
		return maxInt(10, baseBatchSize/4)
	case usedPercent >= 80:
		return baseBatchSize / 2
	case usedPercent >= 70:
		return baseBatchSize
	default:
		return minInt(baseBatchSize*2, 200)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// MemSampler reports system memory utilization, resampling at most once per
// interval so the caller can poll it on every consume iteration without
// paying for a fresh read each time. No library in reach of this project
// exposes memory utilization, so this reads /proc/meminfo directly — a
// Linux-only source acceptable for the single-host worker deployment model.
type MemSampler struct {
	interval time.Duration
	read     func() (usedPercent float64, err error)

	mu       sync.Mutex
	lastAt   time.Time
	lastPct  float64
	lastErr  error
	hasValue bool
}

// NewMemSampler returns a sampler resampling at most every interval.
func NewMemSampler(interval time.Duration) *MemSampler {
	return &MemSampler{interval: interval, read: readMeminfoPercent}
}

// UsedPercent returns the most recent sample, refreshing it first if
// interval has elapsed since the last refresh.
func (m *MemSampler) UsedPercent() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasValue && time.Since(m.lastAt) < m.interval {
		return m.lastPct, m.lastErr
	}
	pct, err := m.read()
	m.lastAt = time.Now()
	m.lastPct = pct
	m.lastErr = err
	m.hasValue = true
	return pct, err
}

func readMeminfoPercent() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("open /proc/meminfo: %w", err)
	}
	defer f.Close()

	var totalKB, availableKB uint64
	var haveTotal, haveAvailable bool

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			totalKB, haveTotal = parseMeminfoValue(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			availableKB, haveAvailable = parseMeminfoValue(line)
		}
		if haveTotal && haveAvailable {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("read /proc/meminfo: %w", err)
	}
	if !haveTotal || !haveAvailable || totalKB == 0 {
		return 0, fmt.Errorf("meminfo: missing MemTotal/MemAvailable")
	}
	usedKB := totalKB - availableKB
	return float64(usedKB) / float64(totalKB) * 100, nil
}

func parseMeminfoValue(line string) (uint64, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	v, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
