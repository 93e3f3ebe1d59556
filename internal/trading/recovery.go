package trading

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"deriv_trading/internal/models"

	"github.com/shopspring/decimal"
)

// RecoveryRecord is the durable session snapshot enabling warm restart.
type RecoveryRecord struct {
	Symbol            string              `json:"symbol"`
	BaseStake         decimal.Decimal     `json:"base_stake"`
	CurrentStake      decimal.Decimal     `json:"current_stake"`
	Duration          int                 `json:"duration"`
	DurationUnit      string              `json:"duration_unit"`
	TargetTrades      int                 `json:"target_trades"`
	Stats             models.SessionStats `json:"stats"`
	MartingaleLevel   int                 `json:"martingale_level"`
	InSequence        bool                `json:"in_sequence"`
	CumulativeLoss    decimal.Decimal     `json:"cumulative_loss"`
	ConsecutiveLosses int                 `json:"consecutive_losses"`
	DailyLoss         decimal.Decimal     `json:"daily_loss"`
	SavedAt           time.Time           `json:"saved_at"`
}

// recoveryStore persists RecoveryRecords with atomic replace.
type recoveryStore struct {
	path string
}

// Save writes the record through a temp file, fsyncs, then renames, so
// a crash leaves either the old record or the new one, never a torn
// file.
func (s *recoveryStore) Save(r *RecoveryRecord) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal recovery record: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open temp recovery file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write recovery record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync recovery record: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load returns a usable record or nil. Expired and corrupt records are
// deleted on the spot; a record exactly at maxAge counts as expired.
func (s *recoveryStore) Load(maxAge time.Duration, minStake decimal.Decimal, maxLevel int) *RecoveryRecord {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}

	var r RecoveryRecord
	if err := json.Unmarshal(data, &r); err != nil {
		log.Printf("Recovery: corrupt record deleted: %v", err)
		s.Clear()
		return nil
	}

	if age := time.Since(r.SavedAt); age >= maxAge {
		log.Printf("Recovery: record aged out (%s old), starting fresh", age.Round(time.Second))
		s.Clear()
		return nil
	}
	if err := r.validate(minStake, maxLevel); err != nil {
		log.Printf("Recovery: %v: %v, record deleted", models.ErrIntegrity, err)
		s.Clear()
		return nil
	}
	return &r
}

// Clear removes the record; a normal session completion calls this.
func (s *recoveryStore) Clear() {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		log.Printf("Recovery: failed to remove record: %v", err)
	}
}

func (r *RecoveryRecord) validate(minStake decimal.Decimal, maxLevel int) error {
	if r.Stats.Wins+r.Stats.Losses != r.Stats.Total {
		return fmt.Errorf("counter mismatch: %d + %d != %d", r.Stats.Wins, r.Stats.Losses, r.Stats.Total)
	}
	if r.BaseStake.LessThan(minStake) || r.CurrentStake.LessThan(minStake) {
		return fmt.Errorf("stake below symbol minimum %s", minStake)
	}
	if r.MartingaleLevel < 0 || r.MartingaleLevel > maxLevel {
		return fmt.Errorf("martingale level %d out of bounds", r.MartingaleLevel)
	}
	return nil
}
