package profile

import (
	"context"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"llmtoolbox/clients/model"
	"time"
)

type Repository struct {
	db *gorm.DB
}

// Open opens the sqlite database at path and migrates the profile table.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Repository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite writes one at a time, and each connection to ":memory:" would see its own database
	sqlDB.SetMaxOpenConns(1)
	return NewRepository(db)
}

func NewRepository(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&model.Profile{}); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// Touch records that host and modelName connected at when, inserting or refreshing the row.
func (r *Repository) Touch(ctx context.Context, host, modelName string, when time.Time) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "host"}, {Name: "model"}},
		DoUpdates: clause.AssignmentColumns([]string{"connected_at"}),
	}).Create(&model.Profile{
		ID:          0, // leave null for generated PK
		Host:        host,
		Model:       modelName,
		ConnectedAt: when,
	}).Error
}

// FindRecent returns at most limit profiles, latest connection first.
func (r *Repository) FindRecent(ctx context.Context, limit int) ([]*model.Profile, error) {
	var ret []*model.Profile
	err := r.db.WithContext(ctx).Order("connected_at desc").Limit(limit).Find(&ret).Error
	return ret, err
}

// FindLast returns the latest profile, or gorm.ErrRecordNotFound when there is none.
func (r *Repository) FindLast(ctx context.Context) (*model.Profile, error) {
	var ret model.Profile
	if err := r.db.WithContext(ctx).Order("connected_at desc").First(&ret).Error; err != nil {
		return nil, err
	}
	return &ret, nil
}

func (r *Repository) Close() error {
	db, err := r.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
