package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digiheadway/goposter/internal/cache"
	"github.com/digiheadway/goposter/internal/config"
	"github.com/digiheadway/goposter/internal/db"
	"github.com/digiheadway/goposter/internal/googlesearch"
	"github.com/digiheadway/goposter/internal/keypool"
	"github.com/digiheadway/goposter/internal/logger"
	"github.com/digiheadway/goposter/internal/metrics"
	"github.com/digiheadway/goposter/internal/query"
	"github.com/digiheadway/goposter/internal/tmdb"

	"golang.org/x/sync/singleflight"
)

// ErrEmptyQuery is returned when nothing is left of the query after
// normalization.
var ErrEmptyQuery = errors.New("no query provided")

// Result is the answer to one search.
type Result struct {
	Query          string `json:"query"`
	ImageURL       string `json:"imageUrl"`
	Source         Source `json:"source"`
	CorrectedQuery string `json:"correctedQuery,omitempty"`
	// Empty is set when an upstream call reported zero results.
	Empty bool `json:"-"`
	// BadRequest is set when a key was rejected with HTTP 400.
	BadRequest bool `json:"-"`
}

// Service runs the lookup chain, the key loop and the persister.
type Service struct {
	db      db.Service
	keys    keypool.Manager
	google  googlesearch.ImageSearcher
	posters tmdb.PosterFinder
	cache   *cache.PosterCache
	cfg     config.SearchConfig
	logger  *slog.Logger
	now     func() time.Time

	tiers []Tier
	stale Tier
	group singleflight.Group
}

// NewService wires the search pipeline. posters may be nil to disable the
// TMDB fallback; posterCache may be nil to disable the Redis tier.
func NewService(
	dbService db.Service,
	keys keypool.Manager,
	google googlesearch.ImageSearcher,
	posters tmdb.PosterFinder,
	posterCache *cache.PosterCache,
	cfg config.SearchConfig,
	log *slog.Logger,
) *Service {
	if cfg.PlaceholderURL == "" {
		cfg.PlaceholderURL = config.DefaultPlaceholderURL
	}
	if cfg.SpellingImageURL == "" {
		cfg.SpellingImageURL = config.DefaultSpellingImageURL
	}
	s := &Service{
		db:      dbService,
		keys:    keys,
		google:  google,
		posters: posters,
		cache:   posterCache,
		cfg:     cfg,
		logger:  log.With("component", "search"),
		now:     time.Now,
	}
	now := func() time.Time { return s.now() }
	if posterCache.Enabled() {
		s.tiers = append(s.tiers, redisTier{cache: posterCache})
	}
	s.tiers = append(s.tiers,
		imagesTier{db: dbService},
		approvedTier{db: dbService},
		recentTier{db: dbService, window: cfg.Window(), now: now, source: SourceRecent},
	)
	s.stale = recentTier{db: dbService, now: now, source: SourceStale}
	return s
}

// Search normalizes raw and resolves it to an image URL. front tiers run
// before the shared chain; the HTTP layer passes the request's cookies there.
// Only storage failures while loading keys are returned as errors; every
// upstream failure ends in a fallback result.
func (s *Service) Search(ctx context.Context, raw, requestID string, front ...Tier) (*Result, error) {
	q := query.Normalize(raw)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	log := s.logger.With("query", q, "request_id", requestID)

	for _, tier := range front {
		if res, ok := s.try(ctx, log, tier, q); ok {
			return res, nil
		}
	}
	for _, tier := range s.tiers {
		if res, ok := s.try(ctx, log, tier, q); ok {
			if moderated(tier.Name()) {
				s.remember(ctx, log, q, res.ImageURL)
			}
			return res, nil
		}
	}

	// Concurrent misses for the same query share one walk through the keys.
	// The walk outlives a disconnecting caller so its result is still stored.
	v, err, shared := s.group.Do(q, func() (any, error) {
		return s.resolve(context.WithoutCancel(ctx), log, q, requestID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug("Joined in-flight search")
	}
	res := *v.(*Result)
	return &res, nil
}

func (s *Service) try(ctx context.Context, log *slog.Logger, tier Tier, q string) (*Result, bool) {
	url, ok, err := tier.Lookup(ctx, q)
	if err != nil {
		log.Warn("Lookup tier failed, treating as miss", "tier", tier.Name(), "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	metrics.LookupsTotal.WithLabelValues(string(tier.Name())).Inc()
	log.Debug("Cache hit", "tier", tier.Name())
	return &Result{Query: q, ImageURL: url, Source: tier.Name()}, true
}

func (s *Service) resolve(ctx context.Context, log *slog.Logger, q, requestID string) (*Result, error) {
	res := &Result{Query: q}

	keys, err := s.keys.Candidates(requestID)
	switch {
	case errors.Is(err, keypool.ErrNoKeys):
		log.Error("No usable search keys, skipping upstream search")
	case err != nil:
		return nil, err
	}

	abort := s.cfg.AbortOnBadRequest
loop:
	for _, k := range keys {
		resp, callErr := s.google.SearchImage(ctx, k.APIKey, q)
		outcome := googlesearch.Classify(resp, callErr)
		metrics.UpstreamCallsTotal.WithLabelValues(outcome.String()).Inc()
		if err := s.keys.Report(k.APIKey, outcome); err != nil {
			log.Error("Failed to record key outcome", "key_suffix", logger.KeySuffix(k.APIKey), "outcome", outcome.String(), "error", err)
		}

		switch outcome {
		case keypool.OutcomeFound:
			res.ImageURL, res.Source = resp.Link, SourceAPI
			s.persist(log, q, res.ImageURL)
			return s.done(res), nil
		case keypool.OutcomeRateLimited:
			continue
		case keypool.OutcomeEmpty:
			res.Empty = true
		case keypool.OutcomeBadRequest:
			res.BadRequest = true
			if abort {
				log.Warn("Key rejected with bad request, aborting key loop", "key_suffix", logger.KeySuffix(k.APIKey))
				break loop
			}
		case keypool.OutcomeSpelling:
			res.ImageURL, res.Source = s.cfg.SpellingImageURL, SourceSpelling
			res.CorrectedQuery = s.trimSuffix(resp.CorrectedQuery)
			return s.done(res), nil
		default:
			s.logExtra(log, unexpected(resp, callErr), requestID)
		}
	}

	if s.posters != nil {
		url, err := s.posters.SearchPoster(ctx, q)
		switch {
		case err == nil:
			res.ImageURL, res.Source = url, SourceTMDB
			s.persist(log, q, url)
			return s.done(res), nil
		case errors.Is(err, tmdb.ErrNoPoster):
			log.Debug("TMDB has no poster")
		default:
			log.Warn("TMDB fallback failed", "error", err)
		}
	}

	if url, ok, err := s.stale.Lookup(ctx, q); err != nil {
		log.Warn("Stale lookup failed", "error", err)
	} else if ok {
		res.ImageURL, res.Source = url, SourceStale
		return s.done(res), nil
	}

	s.logExtra(log, "No Result Found: "+q, requestID)
	res.ImageURL, res.Source = s.cfg.PlaceholderURL, SourcePlaceholder
	return s.done(res), nil
}

func (s *Service) done(res *Result) *Result {
	metrics.LookupsTotal.WithLabelValues(string(res.Source)).Inc()
	return res
}

// persist stores a freshly fetched image as an unapproved queries row. It
// stays out of the shared cache until moderation approves it, so the row
// ages out of the recent window on schedule.
func (s *Service) persist(log *slog.Logger, q, imageURL string) {
	if err := s.db.UpsertQuery(q, imageURL, s.now()); err != nil {
		log.Error("Failed to save query", "error", err)
	}
}

// moderated reports whether answers from source may be shared through Redis.
func moderated(source Source) bool {
	return source == SourceImages || source == SourceApproved
}

func (s *Service) remember(ctx context.Context, log *slog.Logger, q, imageURL string) {
	if err := s.cache.Set(ctx, q, imageURL); err != nil {
		log.Warn("Failed to write shared cache", "error", err)
	}
}

func (s *Service) logExtra(log *slog.Logger, value, requestID string) {
	if err := s.db.LogExtraInfo(value, requestID); err != nil {
		log.Error("Failed to write extra_info", "error", err)
	}
}

// trimSuffix removes the poster suffix Google echoes back in a corrected query.
func (s *Service) trimSuffix(corrected string) string {
	if s.cfg.QuerySuffix != "" {
		corrected = strings.ReplaceAll(corrected, s.cfg.QuerySuffix, "")
	}
	return strings.Join(strings.Fields(corrected), " ")
}

func unexpected(resp *googlesearch.Response, err error) string {
	if err != nil {
		return fmt.Sprintf("search error: %v", err)
	}
	if resp != nil && resp.Raw != "" {
		return resp.Raw
	}
	return "search error: empty response"
}

// Forget drops a query from the shared cache, e.g. after moderation replaced
// its image.
func (s *Service) Forget(ctx context.Context, normalized string) error {
	return s.cache.Delete(ctx, normalized)
}
