// Package poisonlog is a gorm/MySQL audit sink for poisoned messages: a
// thin struct wrapping *gorm.DB with one write path and one read path, both
// wrapped with fmt.Errorf("%w").
//
// It is purely observability: internal/trigger never queries this table
// back, and a failure to record an entry never blocks message deletion.
package poisonlog

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"queuetrigger/internal/trigger"
)

// Entry is one row in the poison_messages audit table.
type Entry struct {
	ID            uint `gorm:"primaryKey"`
	MessageID     string
	QueueName     string
	DequeueCount  int64
	Body          []byte
	InsertionTime time.Time
	PoisonedAt    time.Time `gorm:"autoCreateTime"`
}

func (Entry) TableName() string { return "poison_messages" }

// Sink records poison events into MySQL via gorm.
type Sink struct {
	db        *gorm.DB
	queueName string
	logger    trigger.Logger
}

// Open connects to dsn and returns a Sink for queueName. Callers typically
// wire Sink.Record as the onPoison callback passed to retrypolicy.New.
func Open(dsn, queueName string, logger trigger.Logger) (*Sink, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to poison log database: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate poison log schema: %w", err)
	}
	return &Sink{db: db, queueName: queueName, logger: logger}, nil
}

// Record inserts one audit row for msg. It matches trigger's
// onPoison signature so it can be passed straight to retrypolicy.New.
func (s *Sink) Record(ctx context.Context, msg *trigger.Message) {
	entry := Entry{
		MessageID:     msg.ID,
		QueueName:     s.queueName,
		DequeueCount:  msg.DequeueCount,
		Body:          msg.Body,
		InsertionTime: msg.InsertionTime,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		// The message is already durably poisoned in the queue service by
		// the time this runs; losing the audit row is not worth failing
		// the dispatcher over.
		s.logger.Errorf(ctx, "poisonlog: failed to record entry for message %s: %v", msg.ID, err)
	}
}

// RecentByQueue returns the most recent poison entries for queueName, newest
// first, for an operator dashboard or CLI to inspect.
func (s *Sink) RecentByQueue(ctx context.Context, queueName string, limit int) ([]Entry, error) {
	var entries []Entry
	result := s.db.WithContext(ctx).
		Where("queue_name = ?", queueName).
		Order("poisoned_at DESC").
		Limit(limit).
		Find(&entries)
	if result.Error != nil {
		return nil, fmt.Errorf("query poison log for queue %s: %w", queueName, result.Error)
	}
	return entries, nil
}

// Close releases the underlying database connection.
func (s *Sink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
