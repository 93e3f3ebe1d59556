// Package journal persists settled trades to a daily CSV file. Every
// append rewrites through a temp file and renames, so a crash leaves
// either the previous file intact or the new one with exactly one
// extra row.
package journal

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"deriv_trading/internal/models"
)

// defaultMaxBytes triggers a rotation to a ".1" backup. One daily file
// rarely gets near this; the cap guards runaway sessions.
const defaultMaxBytes = 5 << 20

var header = []string{
	"trade_id", "contract_id", "symbol", "direction", "stake",
	"duration", "duration_unit", "entry_price", "exit_price",
	"profit", "result", "martingale_level", "opened_at", "closed_at",
}

// Journal appends settled contracts to one CSV file per UTC day.
type Journal struct {
	dir      string
	maxBytes int64

	mu  sync.Mutex
	now func() time.Time // swapped out in rollover tests
}

// New prepares the journal directory.
func New(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &Journal{dir: dir, maxBytes: defaultMaxBytes, now: time.Now}, nil
}

// Append writes one settled contract to today's file.
func (j *Journal) Append(c models.Contract) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	path := j.todayPath()
	if err := j.rotateIfOversized(path); err != nil {
		return err
	}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read journal: %w", err)
	}
	content := repairHeader(existing)

	var row bytes.Buffer
	w := csv.NewWriter(&row)
	if err := w.Write(record(c)); err != nil {
		return fmt.Errorf("encode journal row: %w", err)
	}
	w.Flush()
	content = append(content, row.Bytes()...)

	return replaceFile(path, content)
}

// Path returns the file Append would write to right now.
func (j *Journal) Path() string { return j.todayPath() }

func (j *Journal) todayPath() string {
	name := "trades_" + j.now().UTC().Format("2006-01-02") + ".csv"
	return filepath.Join(j.dir, name)
}

// rotateIfOversized moves an oversized file aside to <path>.1,
// replacing any previous backup.
func (j *Journal) rotateIfOversized(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() < j.maxBytes {
		return nil
	}
	backup := path + ".1"
	if err := os.Rename(path, backup); err != nil {
		return fmt.Errorf("rotate journal: %w", err)
	}
	log.Printf("Journal rotated to %s (%d bytes)", backup, info.Size())
	return nil
}

// repairHeader guarantees the content starts with the canonical header
// line. Rows under a missing or stale header are kept as-is.
func repairHeader(existing []byte) []byte {
	want := strings.Join(header, ",")
	if len(existing) == 0 {
		return []byte(want + "\n")
	}
	firstLine, _, _ := strings.Cut(string(existing), "\n")
	if strings.TrimRight(firstLine, "\r") == want {
		return existing
	}
	log.Printf("Journal header missing or stale, repairing")
	repaired := []byte(want + "\n")
	return append(repaired, existing...)
}

func record(c models.Contract) []string {
	result := "loss"
	if c.IsWin {
		result = "win"
	}
	return []string{
		c.TradeID,
		strconv.FormatInt(c.ContractID, 10),
		c.Symbol,
		string(c.Direction),
		c.Stake.String(),
		strconv.Itoa(c.Duration),
		c.DurationUnit,
		strconv.FormatFloat(c.EntryPrice, 'f', -1, 64),
		strconv.FormatFloat(c.ExitPrice, 'f', -1, 64),
		c.Profit.String(),
		result,
		strconv.Itoa(c.MartingaleLevel),
		c.OpenedAt.UTC().Format(time.RFC3339),
		c.ClosedAt.UTC().Format(time.RFC3339),
	}
}

// replaceFile writes content through a temp file, fsyncs and renames.
func replaceFile(path string, content []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp journal: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync journal: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
