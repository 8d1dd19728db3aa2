package repository

import (
	"context"
	"errors"
	"strings"

	"UltimateDJ/model"

	"gorm.io/gorm"
)

// DefaultSearchLimit 搜索结果上限
const DefaultSearchLimit = 50

// TrackRepository 曲库数据访问接口
type TrackRepository interface {
	List(ctx context.Context) ([]*model.Track, error)
	GetByID(ctx context.Context, id string) (*model.Track, error)
	Search(ctx context.Context, query string, limit int) ([]*model.Track, error)
	Update(ctx context.Context, id string, patch model.TrackPatch) (*model.Track, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// gormTrackRepository GORM 实现
type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository 创建 GORM 曲库仓库
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// List 按入库时间倒序返回全部曲目
func (r *gormTrackRepository) List(ctx context.Context) ([]*model.Track, error) {
	var tracks []*model.Track
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&tracks).Error
	return tracks, err
}

// GetByID 根据ID获取曲目，不存在时返回 nil
func (r *gormTrackRepository) GetByID(ctx context.Context, id string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &track, nil
}

// Search 按标题或艺术家模糊搜索
func (r *gormTrackRepository) Search(ctx context.Context, query string, limit int) ([]*model.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return r.List(ctx)
	}
	if limit <= 0 || limit > DefaultSearchLimit {
		limit = DefaultSearchLimit
	}
	pattern := likePattern(query)
	var tracks []*model.Track
	err := r.db.WithContext(ctx).
		Where("title LIKE ? OR artist LIKE ?", pattern, pattern).
		Order("title ASC").
		Limit(limit).
		Find(&tracks).Error
	return tracks, err
}

// Update 应用部分更新，返回更新后的曲目；曲目不存在时返回 nil
func (r *gormTrackRepository) Update(ctx context.Context, id string, patch model.TrackPatch) (*model.Track, error) {
	updates := patchColumns(patch)
	if len(updates) == 0 {
		return r.GetByID(ctx, id)
	}
	res := r.db.WithContext(ctx).
		Model(&model.Track{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	// 值未变化时 MySQL 的 RowsAffected 为 0，统一重新查询
	return r.GetByID(ctx, id)
}

// Delete 删除曲目记录，返回是否存在；媒体文件保留在对象存储中
func (r *gormTrackRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Track{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// patchColumns 把补丁转换为列更新
func patchColumns(p model.TrackPatch) map[string]interface{} {
	updates := make(map[string]interface{})
	if p.BPM != nil {
		updates["bpm"] = *p.BPM
	}
	if p.LyricsOffset != nil {
		updates["lyrics_offset"] = *p.LyricsOffset
	}
	if p.Title != nil {
		updates["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Artist != nil {
		updates["artist"] = strings.TrimSpace(*p.Artist)
	}
	return updates
}

// likePattern 转义 LIKE 通配符
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}
