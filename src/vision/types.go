package vision

import (
	"facemesh-server-go/src/core/types"
)

// DetectRequest 检测请求结构（从multipart表单或原始请求体解析）
type DetectRequest struct {
	Image    []byte // 图片数据
	DeviceID string // 设备ID（从请求头获取）
	ClientID string // 客户端ID（从请求头获取）
}

// APIError 对外错误结构
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DetectResponse 检测标准响应结构
type DetectResponse struct {
	Success bool                   `json:"success"`
	Result  *types.DetectionResult `json:"result,omitempty"`
	Error   *APIError              `json:"error,omitempty"`
}

// VersionResponse 版本查询响应结构
type VersionResponse struct {
	Success bool   `json:"success"`
	Version string `json:"version"`
}

// AuthVerifyResult 认证验证结果
type AuthVerifyResult struct {
	IsValid  bool
	DeviceID string
}
