package store

import (
	"encoding/json"
	"fmt"

	"facemesh-server-go/src/core/types"
	"facemesh-server-go/src/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// HistoryStore 检测历史的gorm存储
type HistoryStore struct {
	db *gorm.DB
}

// NewHistoryStore 创建检测历史存储
func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Record 写入一条检测记录
func (s *HistoryStore) Record(capability string, engine string, res *types.DetectionResult) error {
	record := models.DetectionRecord{
		Capability:        capability,
		Engine:            engine,
		FaceCount:         res.FaceCount,
		ConfidencePercent: res.ConfidencePercent,
		InferenceMillis:   res.InferenceTimeMillis,
	}

	if len(res.Landmarks) > 0 {
		raw, err := json.Marshal(res.Landmarks)
		if err != nil {
			return fmt.Errorf("序列化关键点失败: %w", err)
		}
		record.Landmarks = datatypes.JSON(raw)
	}

	if err := s.db.Create(&record).Error; err != nil {
		return fmt.Errorf("写入检测记录失败: %w", err)
	}
	return nil
}

// Recent 按时间倒序查询最近的检测记录，capability为空表示不过滤
func (s *HistoryStore) Recent(capability string, limit int) ([]models.DetectionRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := s.db.Order("created_at desc").Limit(limit)
	if capability != "" {
		query = query.Where("capability = ?", capability)
	}

	var records []models.DetectionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询检测记录失败: %w", err)
	}
	return records, nil
}
