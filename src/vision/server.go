package vision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"facemesh-server-go/src/configs"
	auth "facemesh-server-go/src/core/Auth"
	"facemesh-server-go/src/core/detect"
	"facemesh-server-go/src/core/store"
	"facemesh-server-go/src/core/types"
	"facemesh-server-go/src/core/utils"

	"github.com/gin-gonic/gin"
)

const (
	// 最大文件大小为5MB
	MAX_FILE_SIZE = 5 * 1024 * 1024
)

type DefaultVisionService struct {
	logger    *utils.Logger
	config    *configs.Config
	detector  *detect.Service
	history   *store.HistoryStore // 可为nil，表示未启用历史
	authToken *auth.AuthToken     // 认证工具
}

// NewDefaultVisionService 构造函数
func NewDefaultVisionService(config *configs.Config, logger *utils.Logger, detector *detect.Service, history *store.HistoryStore) (*DefaultVisionService, error) {
	if detector == nil {
		return nil, fmt.Errorf("检测服务未初始化")
	}

	service := &DefaultVisionService{
		logger:   logger,
		config:   config,
		detector: detector,
		history:  history,
	}

	service.authToken = auth.NewAuthToken(config.Server.Token)

	return service, nil
}

// Start 实现 VisionService 接口，注册所有 Vision 相关路由
func (s *DefaultVisionService) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	apiGroup.GET("/version", s.handleVersion)

	// Vision 主接口（GET用于状态检查，POST用于检测）
	apiGroup.GET("/vision", s.handleGet)
	apiGroup.OPTIONS("/vision", s.handleOptions)
	apiGroup.POST("/vision/detect", s.handleDetectFace)
	apiGroup.POST("/vision/landmarks", s.handleDetectLandmarks)
	apiGroup.OPTIONS("/vision/detect", s.handleOptions)
	apiGroup.OPTIONS("/vision/landmarks", s.handleOptions)
	apiGroup.GET("/vision/history", s.handleHistory)

	s.logger.Info("Vision HTTP服务路由注册完成")
	return nil
}

// handleOptions 处理OPTIONS请求（CORS）
func (s *DefaultVisionService) handleOptions(c *gin.Context) {
	s.addCORSHeaders(c)
	c.Status(http.StatusOK)
}

// handleVersion 查询服务版本
func (s *DefaultVisionService) handleVersion(c *gin.Context) {
	s.addCORSHeaders(c)
	c.JSON(http.StatusOK, VersionResponse{
		Success: true,
		Version: s.detector.GetVersion(),
	})
}

// handleGet 处理GET请求（状态检查）
func (s *DefaultVisionService) handleGet(c *gin.Context) {
	s.addCORSHeaders(c)

	stats := s.detector.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.detector.GetVersion(),
		"stats":   stats,
	})
}

// handleDetectFace 人脸检测接口
func (s *DefaultVisionService) handleDetectFace(c *gin.Context) {
	s.handleDetect(c, s.detector.DetectFace)
}

// handleDetectLandmarks 关键点检测接口
func (s *DefaultVisionService) handleDetectLandmarks(c *gin.Context) {
	s.handleDetect(c, s.detector.DetectLandmarks)
}

// handleDetect 检测接口的通用处理流程
func (s *DefaultVisionService) handleDetect(c *gin.Context, run func(context.Context, []byte) (*types.DetectionResult, error)) {
	s.addCORSHeaders(c)

	if s.config.Server.Auth.Enabled {
		authResult, err := s.verifyAuth(c)
		if err != nil || !authResult.IsValid {
			s.respondError(c, http.StatusUnauthorized, types.ErrCodeInvalidArgument, "无效的认证token或设备ID不匹配")
			s.logger.Warn("Vision认证失败", map[string]interface{}{
				"device_id": c.GetHeader("Device-Id"),
			})
			return
		}
	}

	req, err := s.parseDetectRequest(c)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, types.ErrCodeNoImage, err.Error())
		return
	}

	s.logger.Debug("收到检测请求 %v", map[string]interface{}{
		"device_id":  req.DeviceID,
		"client_id":  req.ClientID,
		"image_size": len(req.Image),
		"path":       c.FullPath(),
	})

	result, err := run(c.Request.Context(), req.Image)
	if err != nil {
		code := types.CodeOf(err)
		s.respondError(c, httpStatusFor(code), code, err.Error())
		s.logger.Warn("检测请求处理失败", map[string]interface{}{
			"code":  string(code),
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, DetectResponse{
		Success: true,
		Result:  result,
	})
}

// handleHistory 查询最近的检测历史
func (s *DefaultVisionService) handleHistory(c *gin.Context) {
	s.addCORSHeaders(c)

	if s.history == nil {
		s.respondError(c, http.StatusNotImplemented, types.ErrCodeNotImplemented, "检测历史未启用")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	records, err := s.history.Recent(c.Query("capability"), limit)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, types.ErrCodeDetectionFailed, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"records": records,
	})
}

// verifyAuth 验证认证token
func (s *DefaultVisionService) verifyAuth(c *gin.Context) (*AuthVerifyResult, error) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, fmt.Errorf("无效的认证token或token已过期")
	}

	token := authHeader[7:] // 移除"Bearer "前缀

	isValid, clientID, err := s.authToken.VerifyToken(token)
	if err != nil || !isValid {
		return nil, fmt.Errorf("无效的认证token或token已过期")
	}

	// 请求头带了设备ID时必须与token一致
	requestDeviceID := c.GetHeader("Device-Id")
	if requestDeviceID != "" && requestDeviceID != clientID {
		return nil, fmt.Errorf("设备ID与token不匹配")
	}

	return &AuthVerifyResult{
		IsValid:  true,
		DeviceID: clientID,
	}, nil
}

// parseDetectRequest 解析检测请求，支持multipart的file字段与原始请求体两种方式
func (s *DefaultVisionService) parseDetectRequest(c *gin.Context) (*DetectRequest, error) {
	req := &DetectRequest{
		DeviceID: c.GetHeader("Device-Id"),
		ClientID: c.GetHeader("Client-Id"),
	}

	contentType := c.GetHeader("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := c.Request.ParseMultipartForm(MAX_FILE_SIZE); err != nil {
			return nil, fmt.Errorf("解析multipart表单失败: %v", err)
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("缺少图片文件: %v", err)
		}
		defer file.Close()

		if header.Size > MAX_FILE_SIZE {
			return nil, fmt.Errorf("图片大小超过限制，最大允许%dMB", MAX_FILE_SIZE/1024/1024)
		}

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("读取图片数据失败: %v", err)
		}
		req.Image = data
		return req, nil
	}

	// 原始请求体直接作为图片数据
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, MAX_FILE_SIZE+1))
	if err != nil {
		return nil, fmt.Errorf("读取请求体失败: %v", err)
	}
	if len(data) > MAX_FILE_SIZE {
		return nil, fmt.Errorf("图片大小超过限制，最大允许%dMB", MAX_FILE_SIZE/1024/1024)
	}
	req.Image = data
	return req, nil
}

// httpStatusFor 错误码到HTTP状态码的映射
func httpStatusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrCodeNoImage, types.ErrCodeInvalidImage, types.ErrCodeImageTooLarge, types.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case types.ErrCodeBusy:
		return http.StatusTooManyRequests
	case types.ErrCodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// addCORSHeaders 添加CORS头
func (s *DefaultVisionService) addCORSHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Headers", "client-id, content-type, device-id, authorization")
	c.Header("Access-Control-Allow-Credentials", "true")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

// respondError 返回错误响应
func (s *DefaultVisionService) respondError(c *gin.Context, statusCode int, code types.ErrorCode, message string) {
	c.JSON(statusCode, DetectResponse{
		Success: false,
		Error: &APIError{
			Code:    string(code),
			Message: message,
		},
	})
}

// Cleanup 清理资源
func (s *DefaultVisionService) Cleanup() error {
	s.logger.Info("Vision服务清理完成")
	return nil
}
