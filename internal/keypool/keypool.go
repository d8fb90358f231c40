package keypool

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digiheadway/goposter/internal/config"
	"github.com/digiheadway/goposter/internal/db"
	"github.com/digiheadway/goposter/internal/logger"
	"github.com/digiheadway/goposter/internal/metrics"
	"github.com/digiheadway/goposter/internal/model"
)

// ErrNoKeys is returned when the pool has nothing to hand out.
var ErrNoKeys = errors.New("no usable search keys available")

// Outcome classifies one upstream call made with a key.
type Outcome int

const (
	// OutcomeFound means the call returned at least one image.
	OutcomeFound Outcome = iota
	// OutcomeEmpty means the call succeeded with zero results.
	OutcomeEmpty
	// OutcomeRateLimited is an HTTP 429.
	OutcomeRateLimited
	// OutcomeBadRequest is an HTTP 400.
	OutcomeBadRequest
	// OutcomeSpelling means no items but a spelling suggestion.
	OutcomeSpelling
	// OutcomeOther covers network errors and unexpected responses.
	OutcomeOther
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeEmpty:
		return "empty"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeBadRequest:
		return "bad_request"
	case OutcomeSpelling:
		return "spelling"
	default:
		return "other"
	}
}

// Manager is the key rotation surface used by the search pipeline and the
// admin API.
type Manager interface {
	Candidates(requestID string) ([]model.SearchKey, error)
	Report(key string, outcome Outcome) error
	Restore() (int64, error)
}

// Pool hands out API keys least used first and applies status transitions
// as single conditional updates, so concurrent requests cannot overwrite
// each other's transitions.
type Pool struct {
	db        db.Service
	logger    *slog.Logger
	minUsable int
	cooldown  time.Duration
	now       func() time.Time
}

var _ Manager = (*Pool)(nil)

// NewPool creates a Pool from the search configuration.
func NewPool(dbService db.Service, cfg config.SearchConfig, log *slog.Logger) *Pool {
	minUsable := cfg.MinUsableKeys
	if minUsable <= 0 {
		minUsable = config.DefaultMinUsableKeys
	}
	return &Pool{
		db:        dbService,
		logger:    log.With("component", "keypool"),
		minUsable: minUsable,
		cooldown:  cfg.Cooldown(),
		now:       time.Now,
	}
}

// Candidates returns the keys to try for one search, least used first. When
// fewer than the configured minimum are usable, the shortage is logged to
// extra_info and exhausted keys past their cooldown are put back in rotation.
func (p *Pool) Candidates(requestID string) ([]model.SearchKey, error) {
	keys, err := p.db.LoadUsableKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate keys: %w", err)
	}

	if len(keys) < p.minUsable {
		p.logger.Warn("Usable key count below threshold", "usable", len(keys), "threshold", p.minUsable)
		if err := p.db.LogExtraInfo(fmt.Sprintf("Active Api Less than %d", len(keys)), requestID); err != nil {
			p.logger.Error("Failed to log key shortage", "error", err)
		}

		restored, err := p.Restore()
		if err != nil {
			p.logger.Error("Failed to restore exhausted keys", "error", err)
		} else if restored > 0 {
			if keys, err = p.db.LoadUsableKeys(); err != nil {
				return nil, fmt.Errorf("failed to reload candidate keys: %w", err)
			}
		}
	}

	metrics.UsableKeys.Set(float64(len(keys)))
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	return keys, nil
}

// Restore moves every exhausted key whose cooldown has elapsed to
// restored_20_MIN.
func (p *Pool) Restore() (int64, error) {
	restored, err := p.db.RestoreExhaustedKeys(p.now().Add(-p.cooldown))
	if err != nil {
		return 0, err
	}
	if restored > 0 {
		p.logger.Info("Restored exhausted keys", "count", restored)
		metrics.KeysRestoredTotal.Add(float64(restored))
	}
	return restored, nil
}

// Report records the outcome of a call made with key.
//
//	found, empty  -> requests_made+1, active (never un-blocks)
//	rate limited  -> exhausted, only from active or restored
//	bad request   -> requests_made+1, blocked
//	other         -> unchanged
func (p *Pool) Report(key string, outcome Outcome) error {
	var (
		from       []string
		to         string
		countUsage bool
	)
	switch outcome {
	case OutcomeFound, OutcomeEmpty:
		to, countUsage = model.KeyStatusActive, true
	case OutcomeRateLimited:
		from = []string{model.KeyStatusActive, model.KeyStatusRestored}
		to = model.KeyStatusExhausted
	case OutcomeBadRequest:
		to, countUsage = model.KeyStatusBlocked, true
	default:
		return nil
	}

	changed, err := p.db.TransitionKey(key, from, to, countUsage, p.now())
	if err != nil {
		p.logger.Error("Failed to update key status", "key_suffix", logger.KeySuffix(key), "status", to, "error", err)
		return err
	}
	if !changed {
		p.logger.Debug("Key transition skipped, status already moved", "key_suffix", logger.KeySuffix(key), "status", to)
		return nil
	}

	metrics.KeyTransitionsTotal.WithLabelValues(to).Inc()
	switch to {
	case model.KeyStatusExhausted:
		p.logger.Warn("Key exhausted", "key_suffix", logger.KeySuffix(key))
	case model.KeyStatusBlocked:
		p.logger.Warn("Key blocked after bad request", "key_suffix", logger.KeySuffix(key))
	}
	return nil
}
