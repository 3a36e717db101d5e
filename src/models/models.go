package models

import (
	"time"

	"gorm.io/datatypes"
)

// 检测历史记录，成功请求每次一条
type DetectionRecord struct {
	ID                uint   `gorm:"primaryKey"`
	Capability        string `gorm:"index;not null"` // FaceDetect / FaceLandmark
	Engine            string // 执行检测的引擎类型
	FaceCount         int
	ConfidencePercent float64
	InferenceMillis   float64
	Landmarks         datatypes.JSON // 关键点三元组，仅关键点能力写入
	CreatedAt         time.Time
}

// 系统全局配置（只保存一条记录）
type SystemConfig struct {
	ID               uint `gorm:"primaryKey"`
	SelectedDetector string
	SelectedLandmark string
	EnableHistory    bool
}

// 接入客户端
type Client struct {
	ID       uint   `gorm:"primaryKey"`
	DeviceID string `gorm:"uniqueIndex;not null"`
	Role     string // 可选值：admin/client
	Remark   string
	LastSeen time.Time
}
