// Package stats 汇总管理后台首页的统计数据。
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/errcode"
)

const (
	activeWindow = 30 * 24 * time.Hour
	growthWindow = 7 * 24 * time.Hour
	dailyPoints  = 7
)

type UserStats struct {
	Total    int64   `json:"total"`
	Active   int64   `json:"active"`
	Inactive int64   `json:"inactive"`
	Admins   int64   `json:"admins"`
	Growth   float64 `json:"growth"`
}

type PhotoStats struct {
	Total    int64                          `json:"total"`
	ByStatus map[database.PhotoStatus]int64 `json:"by_status"`
	Growth   float64                        `json:"growth"`
}

type CVStats struct {
	Total     int64   `json:"total"`
	Published int64   `json:"published"`
	Growth    float64 `json:"growth"`
}

// DailyPoint 为某个 UTC 自然日新增的数量。
type DailyPoint struct {
	Date   string `json:"date"`
	Users  int64  `json:"users"`
	Photos int64  `json:"photos"`
	CVs    int64  `json:"cvs"`
}

type Dashboard struct {
	Users       UserStats    `json:"users"`
	Photos      PhotoStats   `json:"photos"`
	CVs         CVStats      `json:"cvs"`
	Daily       []DailyPoint `json:"daily"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Service 基于数据库实时计算统计。
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Dashboard 以 now 为基准计算全部统计。照片操作包括已取消的墓碑。
func (s *Service) Dashboard(ctx context.Context, now time.Time) (Dashboard, error) {
	now = now.UTC()
	db := s.db.WithContext(ctx)
	out := Dashboard{GeneratedAt: now}

	users := func() *gorm.DB { return db.Model(&database.User{}) }
	photos := func() *gorm.DB { return db.Unscoped().Model(&database.PhotoOperation{}) }
	cvs := func() *gorm.DB { return db.Model(&database.CV{}) }

	counts := []struct {
		query *gorm.DB
		dest  *int64
	}{
		{users(), &out.Users.Total},
		{users().Where("last_seen_at >= ?", now.Add(-activeWindow)), &out.Users.Active},
		{users().Where("role = ?", database.RoleAdmin), &out.Users.Admins},
		{photos(), &out.Photos.Total},
		{cvs(), &out.CVs.Total},
		{cvs().Where("is_published = ?", true), &out.CVs.Published},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return Dashboard{}, errcode.Internal(fmt.Errorf("count: %w", err))
		}
	}
	out.Users.Inactive = out.Users.Total - out.Users.Active

	var byStatus []struct {
		Status database.PhotoStatus
		Count  int64
	}
	if err := photos().Select("status, COUNT(*) AS count").Group("status").Scan(&byStatus).Error; err != nil {
		return Dashboard{}, errcode.Internal(fmt.Errorf("count photo operations by status: %w", err))
	}
	out.Photos.ByStatus = make(map[database.PhotoStatus]int64, len(database.PhotoStatuses))
	for _, status := range database.PhotoStatuses {
		out.Photos.ByStatus[status] = 0
	}
	for _, row := range byStatus {
		out.Photos.ByStatus[row.Status] = row.Count
	}

	var err error
	if out.Users.Growth, err = growth(users, now); err != nil {
		return Dashboard{}, err
	}
	if out.Photos.Growth, err = growth(photos, now); err != nil {
		return Dashboard{}, err
	}
	if out.CVs.Growth, err = growth(cvs, now); err != nil {
		return Dashboard{}, err
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	out.Daily = make([]DailyPoint, 0, dailyPoints)
	for i := dailyPoints - 1; i >= 0; i-- {
		start := today.AddDate(0, 0, -i)
		end := start.AddDate(0, 0, 1)
		point := DailyPoint{Date: start.Format(time.DateOnly)}
		for _, c := range []struct {
			query func() *gorm.DB
			dest  *int64
		}{
			{users, &point.Users},
			{photos, &point.Photos},
			{cvs, &point.CVs},
		} {
			if err := createdBetween(c.query(), start, end).Count(c.dest).Error; err != nil {
				return Dashboard{}, errcode.Internal(fmt.Errorf("daily count: %w", err))
			}
		}
		out.Daily = append(out.Daily, point)
	}
	return out, nil
}

// growth 比较最近 7 天与之前 7 天的新增量，保留一位小数。
func growth(query func() *gorm.DB, now time.Time) (float64, error) {
	var current, previous int64
	if err := createdBetween(query(), now.Add(-growthWindow), now).Count(&current).Error; err != nil {
		return 0, errcode.Internal(fmt.Errorf("growth current: %w", err))
	}
	if err := createdBetween(query(), now.Add(-2*growthWindow), now.Add(-growthWindow)).Count(&previous).Error; err != nil {
		return 0, errcode.Internal(fmt.Errorf("growth previous: %w", err))
	}
	return GrowthPercent(current, previous), nil
}

// GrowthPercent 返回 (current-previous)/previous×100；previous 为 0 时返回 100 或 0。
func GrowthPercent(current, previous int64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	pct := float64(current-previous) / float64(previous) * 100
	return math.Round(pct*10) / 10
}

func createdBetween(query *gorm.DB, from, to time.Time) *gorm.DB {
	return query.Where("created_at >= ? AND created_at < ?", from, to)
}
