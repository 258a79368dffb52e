package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	alertQueueLen  = 256
	alertLineLimit = 1024
	alertValLimit  = 200
)

// alertSink is a zerolog.LevelWriter that turns records at or above a level
// into one-line summaries and appends them to a file from a background
// goroutine. Writes never block logging: over the rate limit or with a
// full queue the record is dropped.
type alertSink struct {
	queue chan string
	quit  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	file    *os.File
	limiter *rate.Limiter
	min     zerolog.Level
}

func newAlertSink() *alertSink {
	a := &alertSink{queue: make(chan string, alertQueueLen), quit: make(chan struct{})}
	a.wg.Add(1)
	go a.run()
	return a
}

// configure swaps the file and knobs; the queue survives.
func (a *alertSink) configure(cfg AlertConfig) error {
	f, err := openAppend(cfg.Path, defaultAlertPath)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_ = a.file.Close()
	}
	a.file = f
	a.min = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = rate.NewLimiter(rate.Limit(max(1, cfg.RatePerSec)), max(1, cfg.RatePerSec))
	return nil
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(zerolog.InfoLevel, p) }

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	ok := level >= a.min && a.limiter != nil && a.limiter.Allow()
	a.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if line := summarize(p); line != "" {
		select {
		case a.queue <- line:
		default:
		}
	}
	return len(p), nil
}

func (a *alertSink) run() {
	defer a.wg.Done()
	for {
		select {
		case line := <-a.queue:
			a.append(line)
		case <-a.quit:
			for {
				select {
				case line := <-a.queue:
					a.append(line)
				default:
					return
				}
			}
		}
	}
}

func (a *alertSink) append(line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_, _ = a.file.WriteString(line + "\n")
	}
}

// close drains the queue, stops the worker and closes the file.
func (a *alertSink) close() {
	close(a.quit)
	a.wg.Wait()
	a.mu.Lock()
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
	a.mu.Unlock()
}

// summarize flattens a zerolog JSON record into
// "TIME [LEVEL] message k=v ..." with keys sorted. Input that is not JSON
// is kept as is.
func summarize(p []byte) string {
	p = bytes.TrimSpace(p)
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return clip(string(p), alertLineLimit)
	}

	var b strings.Builder
	if ts, _ := rec["time"].(string); ts != "" {
		b.WriteString(ts + " ")
	}
	if lvl, _ := rec["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case "time", "level", zerolog.MessageFieldName, zerolog.CallerFieldName, "stack":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, clip(fmt.Sprint(rec[k]), alertValLimit))
	}
	return clip(b.String(), alertLineLimit)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
