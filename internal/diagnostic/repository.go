package diagnostic

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"github.com/talkincode/netdoctor/internal/domain"
	"gorm.io/gorm"
)

// LogRepository append-only store of diagnostic logs
type LogRepository interface {
	// Create inserts a new log. Logs are never updated afterwards.
	Create(ctx context.Context, log *domain.DiagnosticLog) error

	// GetByID returns ErrLogNotFound for unknown ids
	GetByID(ctx context.Context, id int64) (*domain.DiagnosticLog, error)

	// ListByTarget newest first, with the total count for paging
	ListByTarget(ctx context.Context, targetID string, page, pageSize int) ([]*domain.DiagnosticLog, int64, error)
}

// GormLogRepository is the GORM implementation of LogRepository
type GormLogRepository struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time
}

func NewGormLogRepository(db *gorm.DB, nodeID int64) (*GormLogRepository, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, errors.Wrap(err, "snowflake node")
	}
	return &GormLogRepository{db: db, node: node, now: time.Now}, nil
}

// Create assigns the id and keeps CreatedAt strictly after the target's
// latest log, so per-target ordering survives clock skew between workers.
func (r *GormLogRepository) Create(ctx context.Context, log *domain.DiagnosticLog) error {
	if log.ID != 0 {
		return errors.Errorf("diagnostic log %d already persisted", log.ID)
	}
	log.ID = r.node.Generate().Int64()
	log.CreatedAt = r.now().Truncate(time.Microsecond)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest domain.DiagnosticLog
		err := tx.Select("created_at").
			Where("target_id = ?", log.TargetId).
			Order("created_at DESC").
			Limit(1).
			Find(&latest).Error
		if err != nil {
			return err
		}
		if !latest.CreatedAt.IsZero() && !log.CreatedAt.After(latest.CreatedAt) {
			log.CreatedAt = latest.CreatedAt.Add(time.Microsecond)
		}
		return tx.Create(log).Error
	})
}

func (r *GormLogRepository) GetByID(ctx context.Context, id int64) (*domain.DiagnosticLog, error) {
	var log domain.DiagnosticLog
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *GormLogRepository) ListByTarget(ctx context.Context, targetID string, page, pageSize int) ([]*domain.DiagnosticLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	db := r.db.WithContext(ctx).Model(&domain.DiagnosticLog{}).Where("target_id = ?", targetID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var logs []*domain.DiagnosticLog
	err := db.Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&logs).Error
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// DeleteBefore drops logs created before cutoff and reports how many went.
func (r *GormLogRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&domain.DiagnosticLog{})
	return res.RowsAffected, res.Error
}
