package logger

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LoggerService sends the standard logger to a file under folder_path,
// starting a new file once max_file_mb is reached and zipping files older
// than retention_days.
type LoggerService struct {
	mu            sync.Mutex
	file          *os.File
	currentLog    string
	folderPath    string
	maxFileBytes  int64
	retentionDays int
	echo          bool
	checkEvery    time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewLoggerService(cfg map[string]interface{}) *LoggerService {
	folder, _ := cfg["folder_path"].(string)
	if folder == "" {
		folder = "./logs"
	}
	echo, _ := cfg["stdout"].(bool)
	return &LoggerService{
		folderPath:    folder,
		maxFileBytes:  int64(intValue(cfg["max_file_mb"])) * 1024 * 1024,
		retentionDays: intValue(cfg["retention_days"]),
		echo:          echo,
		checkEvery:    10 * time.Second,
		stopCh:        make(chan struct{}),
	}
}

// intValue accepts the int and float64 forms yaml and json produce.
func intValue(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}

func (l *LoggerService) Name() string { return "logger" }

func (l *LoggerService) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(l.folderPath, 0755); err != nil {
		return err
	}
	if err := l.openLocked(); err != nil {
		return err
	}
	log.Println("[INFO] logger writing to", l.currentLog)

	l.wg.Add(1)
	go l.run()
	return nil
}

func (l *LoggerService) Stop() error {
	close(l.stopCh)
	l.wg.Wait()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	log.Println("[INFO] logger stopping")
	log.SetOutput(os.Stderr)
	err := l.file.Close()
	l.file = nil
	return err
}

// CurrentFile is the path log lines are being written to.
func (l *LoggerService) CurrentFile() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentLog
}

func (l *LoggerService) openLocked() error {
	name := filepath.Join(l.folderPath, fmt.Sprintf("ledger_%s.log", time.Now().Format("20060102_150405.000")))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	l.currentLog = name
	var out io.Writer = f
	if l.echo {
		out = io.MultiWriter(f, os.Stdout)
	}
	log.SetOutput(out)
	return nil
}

func (l *LoggerService) rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil || l.maxFileBytes <= 0 {
		return nil
	}
	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < l.maxFileBytes {
		return nil
	}
	old := l.file
	if err := l.openLocked(); err != nil {
		return err
	}
	old.Close()
	log.Println("[INFO] log rotated to", l.currentLog)
	return nil
}

func (l *LoggerService) run() {
	defer l.wg.Done()
	sizeTicker := time.NewTicker(l.checkEvery)
	retention := time.NewTicker(24 * time.Hour)
	defer sizeTicker.Stop()
	defer retention.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-sizeTicker.C:
			if err := l.rotate(); err != nil {
				fmt.Fprintln(os.Stderr, "log rotation failed:", err)
			}
		case <-retention.C:
			l.archiveOld(time.Now())
		}
	}
}

// archiveOld moves .log files last written before the retention window into
// a dated zip and removes them. The file in use is never touched.
func (l *LoggerService) archiveOld(now time.Time) (int, error) {
	if l.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -l.retentionDays)
	entries, err := os.ReadDir(l.folderPath)
	if err != nil {
		return 0, err
	}
	current := l.CurrentFile()

	var old []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		full := filepath.Join(l.folderPath, e.Name())
		if full == current {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		old = append(old, full)
	}
	if len(old) == 0 {
		return 0, nil
	}

	zipName := filepath.Join(l.folderPath, fmt.Sprintf("logs_%s.zip", now.Format("20060102_150405")))
	zf, err := os.Create(zipName)
	if err != nil {
		return 0, err
	}
	defer zf.Close()
	zw := zip.NewWriter(zf)

	archived := 0
	for _, path := range old {
		if err := addToZip(zw, path); err != nil {
			continue
		}
		os.Remove(path)
		archived++
	}
	return archived, zw.Close()
}

func addToZip(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// LogAudit writes an [AUDIT] line. Batch summaries and service lifecycle
// events go through here.
func (l *LoggerService) LogAudit(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	log.Printf("[AUDIT] %s", msg)
}

var GlobalLogger *LoggerService

func SetGlobalLogger(l *LoggerService) {
	GlobalLogger = l
}

// Audit is LogAudit on the global logger, or nothing before one is set.
func Audit(format string, args ...interface{}) {
	if GlobalLogger == nil {
		return
	}
	GlobalLogger.LogAudit(fmt.Sprintf(format, args...))
}
