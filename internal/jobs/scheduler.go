package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"CoopLedger/internal/config"
	"CoopLedger/internal/intake"
	"CoopLedger/internal/logger"

	"github.com/robfig/cron/v3"
)

// CronService picks up sheets from the inbox directory on a schedule.
type CronService struct {
	config   map[string]interface{}
	schedule string
	timeZone string
	inbox    *Inbox
	cron     *cron.Cron

	mu       sync.Mutex
	lastScan time.Time
	lastErr  error
	totals   ScanResult
}

// NewCronService reads schedule, time_zone and header_rows from the
// services.yaml entry; anything missing falls back to the inbox config.
func NewCronService(cfg map[string]interface{}, in *intake.Intake, inbox config.InboxConfig) *CronService {
	schedule := inbox.Schedule
	if s, ok := cfg["schedule"].(string); ok && s != "" {
		schedule = s
	}
	dir := inbox.Dir
	if d, ok := cfg["dir"].(string); ok && d != "" {
		dir = d
	}
	tz, _ := cfg["time_zone"].(string)
	if tz == "" {
		tz = "UTC"
	}
	headerRows := 1
	if h, ok := cfg["header_rows"].(int); ok && h >= 0 {
		headerRows = h
	}
	return &CronService{
		config:   cfg,
		schedule: schedule,
		timeZone: tz,
		inbox:    NewInbox(dir, inbox.Actor, headerRows, in),
	}
}

func (s *CronService) Name() string {
	return "cron"
}

func (s *CronService) Start() error {
	log.Println("[INFO] Starting cron service...")
	loc, err := time.LoadLocation(s.timeZone)
	if err != nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err = c.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			logger.Audit("Inbox scan failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("unable to schedule inbox scan: %v", err)
	}
	c.Start()
	s.cron = c

	logger.Audit("Cron service started, inbox %s on %q", s.inbox.dir, s.schedule)
	return nil
}

func (s *CronService) Stop() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	log.Println("[INFO] Cron service stopped.")
	return nil
}

// RunOnce scans the inbox now.
func (s *CronService) RunOnce(ctx context.Context) (ScanResult, error) {
	res, err := s.inbox.Scan(ctx)

	s.mu.Lock()
	s.lastScan = time.Now()
	s.lastErr = err
	s.totals.Processed += res.Processed
	s.totals.Failed += res.Failed
	s.mu.Unlock()

	if res.Processed+res.Failed > 0 {
		log.Printf("[INFO] inbox scan: %s", res)
	}
	return res, err
}

func (s *CronService) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := map[string]interface{}{
		"schedule":  s.schedule,
		"dir":       s.inbox.dir,
		"processed": s.totals.Processed,
		"failed":    s.totals.Failed,
	}
	if !s.lastScan.IsZero() {
		st["last_scan"] = s.lastScan.Format(time.RFC3339)
	}
	if s.lastErr != nil {
		st["last_error"] = s.lastErr.Error()
	}
	return st
}
