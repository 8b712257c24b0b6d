package nonce

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ Store = (*GormStore)(nil)

// UsedNonce is one consumed nonce. The nonce is stored as a decimal string
// because uint256 does not fit any SQL integer type.
type UsedNonce struct {
	ID        uint      `gorm:"primaryKey"`
	Namespace string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_used_nonces_key"`
	Signer    string    `gorm:"type:varchar(42);not null;uniqueIndex:idx_used_nonces_key"`
	Nonce     string    `gorm:"type:varchar(78);not null;uniqueIndex:idx_used_nonces_key"`
	CreatedAt time.Time `gorm:"not null"`
}

func (UsedNonce) TableName() string {
	return "used_nonces"
}

// GormStore keeps consumed nonces in a SQL table. The unique index makes
// Consume atomic across relay instances sharing the database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. The used_nonces table must exist; see AutoMigrate.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates the used_nonces table. Postgres deployments use the
// daemon's migrations instead.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&UsedNonce{})
}

func (s *GormStore) IsUsed(ctx context.Context, key Key) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&UsedNonce{}).
		Where("namespace = ? AND signer = ? AND nonce = ?", key.Namespace, lowerHex(key.Signer), key.nonce()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check nonce: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) Consume(ctx context.Context, key Key) error {
	row := UsedNonce{
		Namespace: key.Namespace,
		Signer:    lowerHex(key.Signer),
		Nonce:     key.nonce(),
		CreatedAt: time.Now().UTC(),
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "signer"}, {Name: "nonce"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to consume nonce: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNonceUsed
	}
	return nil
}
