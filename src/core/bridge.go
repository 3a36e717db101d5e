package core

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"facemesh-server-go/src/core/detect"
	"facemesh-server-go/src/core/types"
	"facemesh-server-go/src/core/utils"

	"github.com/google/uuid"
)

// 桥接协议支持的方法名
const (
	MethodGetVersion      = "getVersion"
	MethodDetectFace      = "detectFace"
	MethodDetectLandmarks = "detectLandmarks"
)

// BridgeRequest 桥接请求：方法名加参数，图片以base64传输
type BridgeRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params struct {
		Image string `json:"image"`
	} `json:"params"`
}

// BridgeError 桥接错误结构
type BridgeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BridgeResponse 桥接响应，id与请求一一对应
type BridgeResponse struct {
	ID      string      `json:"id"`
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   *BridgeError `json:"error,omitempty"`
}

// Bridge 把桥接协议的方法调用分发到检测服务。
// 未知方法统一返回NOT_IMPLEMENTED响应而不是断开连接。
type Bridge struct {
	detector *detect.Service
	logger   *utils.Logger
}

// NewBridge 创建方法分发器
func NewBridge(detector *detect.Service, logger *utils.Logger) *Bridge {
	return &Bridge{
		detector: detector,
		logger:   logger,
	}
}

// Dispatch 处理一条桥接消息，永远返回可序列化的响应
func (b *Bridge) Dispatch(ctx context.Context, payload []byte) *BridgeResponse {
	var req BridgeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return &BridgeResponse{
			ID:      uuid.New().String(),
			Success: false,
			Error: &BridgeError{
				Code:    string(types.ErrCodeInvalidArgument),
				Message: "请求不是合法的JSON",
			},
		}
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	switch req.Method {
	case MethodGetVersion:
		return &BridgeResponse{
			ID:      req.ID,
			Success: true,
			Result:  map[string]string{"version": b.detector.GetVersion()},
		}

	case MethodDetectFace:
		return b.runDetection(ctx, &req, b.detector.DetectFace)

	case MethodDetectLandmarks:
		return b.runDetection(ctx, &req, b.detector.DetectLandmarks)

	default:
		b.logger.Warn("收到未知的桥接方法", map[string]interface{}{
			"method": req.Method,
		})
		return &BridgeResponse{
			ID:      req.ID,
			Success: false,
			Error: &BridgeError{
				Code:    string(types.ErrCodeNotImplemented),
				Message: "未知方法: " + req.Method,
			},
		}
	}
}

// runDetection 解码base64图片并执行检测
func (b *Bridge) runDetection(ctx context.Context, req *BridgeRequest, run func(context.Context, []byte) (*types.DetectionResult, error)) *BridgeResponse {
	if req.Params.Image == "" {
		return b.errorResponse(req.ID, types.ErrCodeNoImage, "缺少image参数")
	}

	data, err := base64.StdEncoding.DecodeString(req.Params.Image)
	if err != nil {
		return b.errorResponse(req.ID, types.ErrCodeInvalidImage, "image参数不是合法的base64")
	}

	result, err := run(ctx, data)
	if err != nil {
		code := types.CodeOf(err)
		b.logger.Warn("桥接检测请求失败", map[string]interface{}{
			"method": req.Method,
			"code":   string(code),
			"error":  err.Error(),
		})
		return b.errorResponse(req.ID, code, err.Error())
	}

	return &BridgeResponse{
		ID:      req.ID,
		Success: true,
		Result:  result,
	}
}

func (b *Bridge) errorResponse(id string, code types.ErrorCode, message string) *BridgeResponse {
	return &BridgeResponse{
		ID:      id,
		Success: false,
		Error: &BridgeError{
			Code:    string(code),
			Message: message,
		},
	}
}
