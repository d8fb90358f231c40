package search

import (
	"context"
	"errors"
	"time"

	"github.com/digiheadway/goposter/internal/cache"
	"github.com/digiheadway/goposter/internal/db"
	"github.com/digiheadway/goposter/internal/query"
)

// Source names the stage that produced a result. The values are written to
// the "from" cookie and the X-Result-Source header.
type Source string

const (
	SourceCookie      Source = "cookies"
	SourceRedis       Source = "redis"
	SourceImages      Source = "images"
	SourceApproved    Source = "approved"
	SourceRecent      Source = "unapproved"
	SourceAPI         Source = "api"
	SourceTMDB        Source = "tmdb"
	SourceSpelling    Source = "spelling"
	SourceStale       Source = "stale"
	SourcePlaceholder Source = "error_handler"
)

// Tier is one stage of the lookup chain. Lookup reports a miss with
// ok=false; an error is treated as a miss by the chain.
type Tier interface {
	Name() Source
	Lookup(ctx context.Context, normalized string) (imageURL string, ok bool, err error)
}

// CookieJar reads request cookies. *gin.Context satisfies it.
type CookieJar interface {
	Cookie(name string) (string, error)
}

type cookieTier struct {
	jar CookieJar
}

// FromCookies returns a tier answering from the image cookie a previous
// response left in the browser.
func FromCookies(jar CookieJar) Tier {
	return cookieTier{jar: jar}
}

func (cookieTier) Name() Source { return SourceCookie }

func (t cookieTier) Lookup(_ context.Context, normalized string) (string, bool, error) {
	val, err := t.jar.Cookie(query.CookieName(normalized))
	if err != nil || val == "" {
		return "", false, nil
	}
	return val, true, nil
}

type redisTier struct {
	cache *cache.PosterCache
}

func (redisTier) Name() Source { return SourceRedis }

func (t redisTier) Lookup(ctx context.Context, normalized string) (string, bool, error) {
	return t.cache.Get(ctx, normalized)
}

type imagesTier struct {
	db db.Service
}

func (imagesTier) Name() Source { return SourceImages }

func (t imagesTier) Lookup(_ context.Context, normalized string) (string, bool, error) {
	img, err := t.db.FindImage(normalized)
	return rowResult(img, err, func() string { return img.ImageURL })
}

type approvedTier struct {
	db db.Service
}

func (approvedTier) Name() Source { return SourceApproved }

func (t approvedTier) Lookup(_ context.Context, normalized string) (string, bool, error) {
	q, err := t.db.FindApprovedQuery(normalized)
	return rowResult(q, err, func() string { return q.ImageURL })
}

// recentTier serves rows still awaiting moderation. A zero window means any
// age, which is how the final fallback uses it.
type recentTier struct {
	db     db.Service
	window time.Duration
	now    func() time.Time
	source Source
}

func (t recentTier) Name() Source { return t.source }

func (t recentTier) Lookup(_ context.Context, normalized string) (string, bool, error) {
	var since time.Time
	if t.window > 0 {
		since = t.now().Add(-t.window)
	}
	q, err := t.db.FindUnapprovedQuery(normalized, since)
	return rowResult(q, err, func() string { return q.ImageURL })
}

func rowResult[T any](row *T, err error, imageURL func() string) (string, bool, error) {
	if errors.Is(err, db.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if row == nil {
		return "", false, nil
	}
	url := imageURL()
	return url, url != "", nil
}
