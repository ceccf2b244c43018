package db

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lurk/internal/models"
	"lurk/internal/service"
)

// Connect 建立到 Postgres 的连接，带简单重试以等待容器就绪。
func Connect(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(2)
				sqlDB.SetMaxOpenConns(5)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// Migrate 只需要举报表，帖子数据不落库。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.Report{})
}

// ReportSink 把举报追加写入 reports 表。
type ReportSink struct {
	db *gorm.DB
}

func NewReportSink(gdb *gorm.DB) *ReportSink { return &ReportSink{db: gdb} }

func (s *ReportSink) Append(ctx context.Context, r *models.Report) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return service.NewIOFailure("error inserting report").WithCause(err)
	}
	return nil
}

func (s *ReportSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
