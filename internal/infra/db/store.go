package db

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"qrtrust/migrations"
)

type Store struct {
	DB *gorm.DB
}

// NewStore opens Postgres. An empty DSN yields a Store with a nil DB; the
// caller then falls back to in-memory repositories.
func NewStore(dsn string, log logrus.FieldLogger) (*Store, error) {
	if dsn == "" {
		log.Warn("postgres dsn not set; persistence is in-memory only")
		return &Store{}, nil
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{DB: gdb}, nil
}

func (s *Store) Enabled() bool {
	return s != nil && s.DB != nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if !s.Enabled() {
		return errDBUnavailable
	}
	all, err := migrations.All()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	for _, m := range all {
		if err := s.DB.WithContext(ctx).Exec(m.SQL).Error; err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if !s.Enabled() {
		return errDBUnavailable
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
