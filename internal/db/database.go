package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/digiheadway/goposter/internal/config"
	"github.com/digiheadway/goposter/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Service is the storage surface used by the key pool, the search pipeline
// and the admin API.
type Service interface {
	// api_keys
	LoadUsableKeys() ([]model.SearchKey, error)
	TransitionKey(key string, from []string, to string, countUsage bool, at time.Time) (bool, error)
	RestoreExhaustedKeys(olderThan time.Time) (int64, error)
	ListKeys(statusFilter string) ([]model.SearchKey, error)
	BatchAddKeys(keys []string) error
	BatchDeleteKeys(keys []string) error
	SetKeyStatus(key, status string, at time.Time) error
	CountUsableKeys() (int64, error)

	// images and queries
	FindImage(query string) (*model.Image, error)
	AddImage(image *model.Image) error
	FindApprovedQuery(query string) (*model.Query, error)
	FindUnapprovedQuery(query string, since time.Time) (*model.Query, error)
	UpsertQuery(query, imageURL string, at time.Time) error
	IncrementQueryCounter(column, query string) (bool, error)
	GetQuery(id uint) (*model.Query, error)
	FindQuery(query string) (*model.Query, error)
	NextPendingQuery() (*model.Query, error)
	NextNotThisQuery(minHits int64, minRatio float64) (*model.Query, error)
	SetQueryApproval(id uint, approved bool) error
	UpdateQueryImage(id uint, imageURL string) error
	CorrectQuery(id uint, correct string) error

	// diagnostics
	LogExtraInfo(value, requestID string) error
	PruneExtraInfo(before time.Time) (int64, error)
	RecordDomain(domain string, at time.Time) error
	Stats() (*Stats, error)

	GetDB() *gorm.DB
}

// Stats summarizes table sizes for the admin dashboard.
type Stats struct {
	Images     int64 `json:"images"`
	Queries    int64 `json:"queries"`
	ExtraInfo  int64 `json:"extra_info"`
	UsableKeys int64 `json:"usable_keys"`
	TotalKeys  int64 `json:"total_keys"`
}

type gormService struct {
	db *gorm.DB
}

// NewService opens the configured database and migrates the schema.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	gdb, err := Init(cfg)
	if err != nil {
		return nil, err
	}
	return &gormService{db: gdb}, nil
}

// Init initializes the database connection based on the provided configuration.
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// An in-memory SQLite database exists once per connection.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	err = gdb.AutoMigrate(
		&model.SearchKey{},
		&model.Query{},
		&model.Image{},
		&model.ExtraInfo{},
		&model.UniqueDomain{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return gdb, nil
}

func (s *gormService) GetDB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// LoadUsableKeys returns every key that is neither exhausted nor blocked,
// least used first.
func (s *gormService) LoadUsableKeys() ([]model.SearchKey, error) {
	var keys []model.SearchKey
	result := s.db.
		Where("status NOT IN ?", []string{model.KeyStatusExhausted, model.KeyStatusBlocked}).
		Order("requests_made asc").
		Order("id asc").
		Find(&keys)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load api keys: %w", result.Error)
	}
	return keys, nil
}

// TransitionKey moves a key to status `to` only while its current status is
// one of `from`, in a single UPDATE. An empty `from` accepts any status except
// blocked. It reports whether the row changed.
func (s *gormService) TransitionKey(key string, from []string, to string, countUsage bool, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":           to,
		"update_timestamp": at,
	}
	if countUsage {
		updates["requests_made"] = gorm.Expr("requests_made + 1")
	}

	tx := s.db.Model(&model.SearchKey{}).Where("api_key = ?", key)
	if len(from) > 0 {
		tx = tx.Where("status IN ?", from)
	} else {
		tx = tx.Where("status <> ?", model.KeyStatusBlocked)
	}
	result := tx.UpdateColumns(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to move key to %s: %w", to, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RestoreExhaustedKeys moves exhausted keys last touched before olderThan to
// restored_20_MIN.
func (s *gormService) RestoreExhaustedKeys(olderThan time.Time) (int64, error) {
	result := s.db.Model(&model.SearchKey{}).
		Where("status = ? AND update_timestamp < ?", model.KeyStatusExhausted, olderThan).
		UpdateColumns(map[string]any{
			"status":           model.KeyStatusRestored,
			"update_timestamp": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to restore exhausted keys: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *gormService) ListKeys(statusFilter string) ([]model.SearchKey, error) {
	var keys []model.SearchKey
	tx := s.db.Order("requests_made asc").Order("id asc")
	if statusFilter != "" {
		tx = tx.Where("status = ?", statusFilter)
	}
	if err := tx.Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// BatchAddKeys inserts keys as active, skipping ones that already exist.
func (s *gormService) BatchAddKeys(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]model.SearchKey, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		rows = append(rows, model.SearchKey{APIKey: k, Status: model.KeyStatusActive, UpdateTimestamp: now})
	}
	if len(rows) == 0 {
		return nil
	}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to add api keys: %w", err)
	}
	return nil
}

func (s *gormService) BatchDeleteKeys(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.db.Where("api_key IN ?", keys).Delete(&model.SearchKey{}).Error; err != nil {
		return fmt.Errorf("failed to delete api keys: %w", err)
	}
	return nil
}

func (s *gormService) SetKeyStatus(key, status string, at time.Time) error {
	result := s.db.Model(&model.SearchKey{}).Where("api_key = ?", key).
		UpdateColumns(map[string]any{"status": status, "update_timestamp": at})
	if result.Error != nil {
		return fmt.Errorf("failed to set status for key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormService) CountUsableKeys() (int64, error) {
	var n int64
	err := s.db.Model(&model.SearchKey{}).
		Where("status NOT IN ?", []string{model.KeyStatusExhausted, model.KeyStatusBlocked}).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count usable keys: %w", err)
	}
	return n, nil
}

// FindImage returns the first curated image for query and bumps its hit count.
func (s *gormService) FindImage(query string) (*model.Image, error) {
	var img model.Image
	if err := s.db.Where("query = ?", query).Order("id asc").First(&img).Error; err != nil {
		return nil, notFound(err)
	}
	if err := s.db.Model(&model.Image{}).Where("id = ?", img.ID).UpdateColumn("hits", gorm.Expr("hits + 1")).Error; err != nil {
		return nil, fmt.Errorf("failed to count image hit: %w", err)
	}
	return &img, nil
}

func (s *gormService) AddImage(image *model.Image) error {
	if err := s.db.Create(image).Error; err != nil {
		return fmt.Errorf("failed to add image: %w", err)
	}
	return nil
}

// FindApprovedQuery returns the moderated row for query and bumps its hits.
func (s *gormService) FindApprovedQuery(query string) (*model.Query, error) {
	var q model.Query
	if err := s.db.Where("query = ? AND approved = ?", query, true).First(&q).Error; err != nil {
		return nil, notFound(err)
	}
	if err := s.db.Model(&model.Query{}).Where("id = ?", q.ID).UpdateColumn("hits", gorm.Expr("hits + 1")).Error; err != nil {
		return nil, fmt.Errorf("failed to count query hit: %w", err)
	}
	return &q, nil
}

// FindUnapprovedQuery returns a row still awaiting moderation whose timestamp
// is not before since. A zero since disables the age filter.
func (s *gormService) FindUnapprovedQuery(query string, since time.Time) (*model.Query, error) {
	var q model.Query
	tx := s.db.Where("query = ? AND approved IS NULL", query)
	if !since.IsZero() {
		tx = tx.Where("timestamp >= ?", since)
	}
	if err := tx.First(&q).Error; err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

// UpsertQuery inserts a new row with hits=1, or bumps hits, replaces the
// image and resets approval so the row goes back to moderation.
func (s *gormService) UpsertQuery(query, imageURL string, at time.Time) error {
	row := model.Query{Query: query, ImageURL: imageURL, Hits: 1, Timestamp: at}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "query"}},
		DoUpdates: clause.Assignments(map[string]any{
			"hits":      gorm.Expr("hits + 1"),
			"imageUrl":  imageURL,
			"approved":  nil,
			"timestamp": at,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert query %q: %w", query, err)
	}
	return nil
}

var counterColumns = map[string]struct{}{
	"hits":       {},
	"not_this":   {},
	"down_tried": {},
}

// IncrementQueryCounter bumps one of the whitelisted counters on a queries row.
func (s *gormService) IncrementQueryCounter(column, query string) (bool, error) {
	if _, ok := counterColumns[column]; !ok {
		return false, fmt.Errorf("counter %q is not allowed", column)
	}
	result := s.db.Model(&model.Query{}).Where("query = ?", query).
		UpdateColumn(column, gorm.Expr(column+" + 1"))
	if result.Error != nil {
		return false, fmt.Errorf("failed to increment %s: %w", column, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *gormService) GetQuery(id uint) (*model.Query, error) {
	var q model.Query
	if err := s.db.First(&q, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

func (s *gormService) FindQuery(query string) (*model.Query, error) {
	var q model.Query
	if err := s.db.Where("query = ?", query).First(&q).Error; err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

// NextPendingQuery returns the most requested row that has neither been
// moderated nor corrected.
func (s *gormService) NextPendingQuery() (*model.Query, error) {
	var q model.Query
	err := s.db.Where("approved IS NULL AND correct IS NULL").
		Order("hits desc").Order("id asc").
		First(&q).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

// NextNotThisQuery returns the row users most often reject as the wrong image.
func (s *gormService) NextNotThisQuery(minHits int64, minRatio float64) (*model.Query, error) {
	var q model.Query
	ratio := "(CAST(not_this AS REAL) / hits)"
	if s.db.Dialector.Name() == "mysql" {
		ratio = "(not_this / hits)"
	}
	err := s.db.Where("hits > ? AND "+ratio+" > ?", minHits, minRatio).
		Order(ratio + " desc").
		First(&q).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

func (s *gormService) SetQueryApproval(id uint, approved bool) error {
	result := s.db.Model(&model.Query{}).Where("id = ?", id).UpdateColumn("approved", approved)
	if result.Error != nil {
		return fmt.Errorf("failed to set approval: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormService) UpdateQueryImage(id uint, imageURL string) error {
	result := s.db.Model(&model.Query{}).Where("id = ?", id).
		UpdateColumns(map[string]any{"imageUrl": imageURL, "not_this": 0})
	if result.Error != nil {
		return fmt.Errorf("failed to update image: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CorrectQuery records the corrected title on a row and seeds an approved
// row for the corrected title with the same image.
func (s *gormService) CorrectQuery(id uint, correct string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var q model.Query
		if err := tx.First(&q, id).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Model(&q).UpdateColumn("correct", correct).Error; err != nil {
			return fmt.Errorf("failed to set correction: %w", err)
		}
		approved := true
		seed := model.Query{
			Query:     correct,
			ImageURL:  q.ImageURL,
			Hits:      1,
			Approved:  &approved,
			Timestamp: time.Now(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("failed to seed corrected query: %w", err)
		}
		return nil
	})
}

func (s *gormService) LogExtraInfo(value, requestID string) error {
	if err := s.db.Create(&model.ExtraInfo{Value: value, RequestID: requestID}).Error; err != nil {
		return fmt.Errorf("failed to write extra_info: %w", err)
	}
	return nil
}

func (s *gormService) PruneExtraInfo(before time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", before).Delete(&model.ExtraInfo{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune extra_info: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RecordDomain inserts the domain or bumps its request count.
func (s *gormService) RecordDomain(domain string, at time.Time) error {
	row := model.UniqueDomain{DomainName: domain, RequestCount: 1, LastRequest: at}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "domain_name"}},
		DoUpdates: clause.Assignments(map[string]any{
			"request_count": gorm.Expr("request_count + 1"),
			"last_request":  at,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to record domain %q: %w", domain, err)
	}
	return nil
}

func (s *gormService) Stats() (*Stats, error) {
	var st Stats
	for _, c := range []struct {
		table any
		dest  *int64
	}{
		{&model.Image{}, &st.Images},
		{&model.Query{}, &st.Queries},
		{&model.ExtraInfo{}, &st.ExtraInfo},
		{&model.SearchKey{}, &st.TotalKeys},
	} {
		if err := s.db.Model(c.table).Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}
	}
	usable, err := s.CountUsableKeys()
	if err != nil {
		return nil, err
	}
	st.UsableKeys = usable
	return &st, nil
}
