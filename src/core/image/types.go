package image

import "image"

// DecodedImage 解码后的内存位图及其元信息
type DecodedImage struct {
	Image  *image.NRGBA // 解码（并可能缩放）后的位图
	Width  int          // 原始宽度
	Height int          // 原始高度
	Format string       // 实际解码格式
	Scaled bool         // 是否经过工作尺寸缩放
}

// ValidationResult 图片验证结果
type ValidationResult struct {
	IsValid      bool
	Format       string
	Width        int
	Height       int
	FileSize     int64
	Error        error
	SecurityRisk string // 安全风险描述
}

// DecodeMetrics 解码统计信息
type DecodeMetrics struct {
	TotalDecoded      int64 `json:"total_decoded"`      // 总解码次数
	Downscaled        int64 `json:"downscaled"`         // 缩放到工作尺寸的次数
	FailedValidations int64 `json:"failed_validations"` // 验证失败次数
	SecurityIncidents int64 `json:"security_incidents"` // 安全事件次数
}
