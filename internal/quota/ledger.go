package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrQuotaExceeded = errors.New("request limit exceeded")

const (
	DefaultMaxRequests = 250
	DefaultWindow      = 30 * 24 * time.Hour
)

// Ledger tracks the per-user request counter. Charges for one user are
// linearized by the Locker and by a conditional increment in the database.
type Ledger struct {
	db         *gorm.DB
	locker     Locker
	defaultMax int
	window     time.Duration
	now        func() time.Time
}

func NewLedger(db *gorm.DB, locker Locker, defaultMax int, window time.Duration) *Ledger {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if defaultMax <= 0 {
		defaultMax = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ledger{db: db, locker: locker, defaultMax: defaultMax, window: window, now: func() time.Time { return time.Now().UTC() }}
}

// CheckAndCharge fails with ErrQuotaExceeded when the user is at their limit,
// otherwise adds cost (0 or 1) to the counter. A missing record is created first.
func (l *Ledger) CheckAndCharge(ctx context.Context, userID string, cost int) (RequestLimit, error) {
	if cost < 0 || cost > 1 {
		return RequestLimit{}, fmt.Errorf("quota: invalid cost %d", cost)
	}

	unlock, err := l.locker.Lock(ctx, "quota:"+userID)
	if err != nil {
		return RequestLimit{}, fmt.Errorf("quota: lock user %s: %w", userID, err)
	}
	defer unlock()

	var rec RequestLimit
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := l.ensure(tx, userID)
		if err != nil {
			return err
		}
		if r.RequestCount >= r.MaxRequests {
			rec = r
			return ErrQuotaExceeded
		}
		if cost > 0 {
			res := tx.Model(&RequestLimit{}).
				Where("user_id = ? AND request_count < max_requests", userID).
				Update("request_count", gorm.Expr("request_count + ?", cost))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrQuotaExceeded
			}
			r.RequestCount += cost
		}
		rec = r
		return nil
	})
	return rec, err
}

func (l *Ledger) ensure(tx *gorm.DB, userID string) (RequestLimit, error) {
	var rec RequestLimit
	err := tx.Where("user_id = ?", userID).First(&rec).Error
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, err
	}

	rec = RequestLimit{
		UserID:       userID,
		RequestCount: 0,
		MaxRequests:  l.defaultMax,
		ResetAt:      l.now().Add(l.window),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return rec, err
	}
	// another instance may have won the insert
	err = tx.Where("user_id = ?", userID).First(&rec).Error
	return rec, err
}

func (l *Ledger) Get(ctx context.Context, userID string) (RequestLimit, error) {
	var rec RequestLimit
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error
	return rec, err
}

// ResetExpired starts a new window for every record whose resetAt has passed.
func (l *Ledger) ResetExpired(ctx context.Context) (int64, error) {
	now := l.now()
	res := l.db.WithContext(ctx).Model(&RequestLimit{}).
		Where("reset_at <= ?", now).
		Updates(map[string]any{
			"request_count": 0,
			"reset_at":      now.Add(l.window),
		})
	return res.RowsAffected, res.Error
}
