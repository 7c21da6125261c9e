package resource

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"CoopLedger/internal/logger"
)

// ActiveRun is a batch currently holding its period.
type ActiveRun struct {
	PeriodID int64     `json:"period_id"`
	RunID    string    `json:"run_id"`
	Since    time.Time `json:"since"`
}

// ResourceManager is the in-process period registry: at most one batch per
// period runs at a time. Its heartbeat reports runs that have held a period
// for longer than stale_after.
type ResourceManager struct {
	mu                sync.RWMutex
	runs              map[int64]ActiveRun
	stopChan          chan struct{}
	heartbeatInterval time.Duration
	staleAfter        time.Duration
	now               func() time.Time
}

func NewResourceManagerService(cfg map[string]interface{}) *ResourceManager {
	return &ResourceManager{
		runs:              make(map[int64]ActiveRun),
		stopChan:          make(chan struct{}),
		heartbeatInterval: durationSetting(cfg, "heartbeat_interval", 30*time.Second),
		staleAfter:        durationSetting(cfg, "stale_after", 15*time.Minute),
		now:               time.Now,
	}
}

// durationSetting accepts "90s"-style strings or a number of seconds.
func durationSetting(cfg map[string]interface{}, key string, def time.Duration) time.Duration {
	switch v := cfg[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return def
}

func (rm *ResourceManager) Name() string { return "resourcemanager" }

func (rm *ResourceManager) Start() error {
	logger.Audit("period registry started, heartbeat every %s", rm.heartbeatInterval)
	go rm.heartbeatLoop()
	return nil
}

func (rm *ResourceManager) Stop() error {
	close(rm.stopChan)
	return nil
}

func (rm *ResourceManager) heartbeatLoop() {
	ticker := time.NewTicker(rm.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rm.stopChan:
			return
		case <-ticker.C:
			rm.heartbeat()
		}
	}
}

// heartbeat logs every run older than staleAfter and returns them.
func (rm *ResourceManager) heartbeat() []ActiveRun {
	cutoff := rm.now().Add(-rm.staleAfter)
	var stale []ActiveRun
	for _, r := range rm.Active() {
		if r.Since.Before(cutoff) {
			stale = append(stale, r)
			log.Printf("[WARN] run %s has held period %d since %s", r.RunID, r.PeriodID, r.Since.Format(time.RFC3339))
		}
	}
	return stale
}

// TryAcquire claims periodID for runID. It fails while another run holds
// the period.
func (rm *ResourceManager) TryAcquire(periodID int64, runID string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if held, busy := rm.runs[periodID]; busy {
		log.Printf("[WARN] period %d is held by run %s, refusing run %s", periodID, held.RunID, runID)
		return false
	}
	rm.runs[periodID] = ActiveRun{PeriodID: periodID, RunID: runID, Since: rm.now()}
	return true
}

// Release frees the period if runID still holds it.
func (rm *ResourceManager) Release(periodID int64, runID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if held, ok := rm.runs[periodID]; ok && held.RunID == runID {
		delete(rm.runs, periodID)
	}
}

func (rm *ResourceManager) Active() []ActiveRun {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]ActiveRun, 0, len(rm.runs))
	for _, r := range rm.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodID < out[j].PeriodID })
	return out
}

func (rm *ResourceManager) Status() map[string]interface{} {
	active := rm.Active()
	periods := make([]string, 0, len(active))
	for _, r := range active {
		periods = append(periods, fmt.Sprintf("%d:%s", r.PeriodID, r.RunID))
	}
	return map[string]interface{}{"active_runs": len(active), "periods": periods}
}
