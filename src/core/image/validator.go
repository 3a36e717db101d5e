package image

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"facemesh-server-go/src/configs"
	"facemesh-server-go/src/core/types"
	"facemesh-server-go/src/core/utils"

	_ "image/gif"  // 注册GIF解码器
	_ "image/jpeg" // 注册JPEG解码器
	_ "image/png"  // 注册PNG解码器

	_ "golang.org/x/image/bmp"  // 注册BMP解码器
	_ "golang.org/x/image/webp" // 注册WEBP解码器
)

// ImageSecurityValidator 图片安全验证器
type ImageSecurityValidator struct {
	config *configs.SecurityConfig
	logger *utils.Logger
}

// NewImageSecurityValidator 创建新的图片安全验证器
func NewImageSecurityValidator(config *configs.SecurityConfig, logger *utils.Logger) *ImageSecurityValidator {
	return &ImageSecurityValidator{
		config: config,
		logger: logger,
	}
}

// 图片格式魔数签名
var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8}, // JPEG文件只需要前两个字节
	"jpg":  {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46}, // RIFF，需要进一步检查WEBP标识
	"bmp":  {0x42, 0x4D},
}

// ValidateBytes 验证原始图片字节
func (v *ImageSecurityValidator) ValidateBytes(data []byte) ValidationResult {
	result := ValidationResult{IsValid: false}

	if len(data) == 0 {
		result.Error = types.NewDetectError(types.ErrCodeNoImage, "图片数据为空")
		return result
	}

	// 1. 基础大小检查
	if int64(len(data)) > v.config.MaxFileSize {
		result.Error = types.NewDetectError(types.ErrCodeImageTooLarge,
			fmt.Sprintf("文件大小超限: %d bytes，最大允许: %d bytes", len(data), v.config.MaxFileSize))
		result.SecurityRisk = "文件过大，可能是DoS攻击"
		v.logger.Warn("检测到超大文件", map[string]interface{}{
			"size":     len(data),
			"max_size": v.config.MaxFileSize,
		})
		return result
	}

	// 2. 格式支持检查（按魔数识别声明格式）
	format := DetectFormat(data)
	if format != "" && !v.isFormatAllowed(format) {
		result.Error = types.NewDetectError(types.ErrCodeInvalidImage,
			fmt.Sprintf("不支持的格式: %s", format))
		result.SecurityRisk = "使用了不被允许的格式"
		return result
	}

	// 3. 恶意内容检测
	if v.config.EnableDeepScan && v.scanForMaliciousContent(data) {
		result.Error = types.NewDetectError(types.ErrCodeInvalidImage, "检测到潜在恶意内容")
		result.SecurityRisk = "可能包含恶意载荷"
		v.logger.Warn("检测到可疑内容", map[string]interface{}{
			"format": format,
			"size":   len(data),
		})
		return result
	}

	// 4. 解码头信息并检查尺寸限制（不做完整解码）
	config, actualFormat, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		result.Error = types.WrapDetectError(types.ErrCodeInvalidImage, "图片解码失败", err)
		result.SecurityRisk = "可能包含恶意载荷或损坏的图片数据"
		return result
	}
	if actualFormat != "" {
		result.Format = actualFormat
	} else {
		result.Format = format
	}

	if config.Width > v.config.MaxWidth || config.Height > v.config.MaxHeight {
		result.Error = types.NewDetectError(types.ErrCodeImageTooLarge,
			fmt.Sprintf("图片尺寸超限: %dx%d，最大允许: %dx%d",
				config.Width, config.Height, v.config.MaxWidth, v.config.MaxHeight))
		result.SecurityRisk = "图片过大，可能导致原生层崩溃"
		return result
	}

	totalPixels := int64(config.Width) * int64(config.Height)
	if totalPixels > v.config.MaxPixels {
		result.Error = types.NewDetectError(types.ErrCodeImageTooLarge,
			fmt.Sprintf("像素总数超限: %d，最大允许: %d", totalPixels, v.config.MaxPixels))
		result.SecurityRisk = "像素过多，可能导致内存耗尽"
		return result
	}

	// 验证成功
	result.IsValid = true
	result.Width = config.Width
	result.Height = config.Height
	result.FileSize = int64(len(data))

	v.logger.Debug("图片验证成功 %v", map[string]interface{}{
		"format": result.Format,
		"width":  result.Width,
		"height": result.Height,
		"size":   result.FileSize,
	})

	return result
}

// isFormatAllowed 检查格式是否被允许
func (v *ImageSecurityValidator) isFormatAllowed(format string) bool {
	formatLower := strings.ToLower(format)
	for _, allowedFormat := range v.config.AllowedFormats {
		if strings.ToLower(allowedFormat) == formatLower {
			return true
		}
	}
	return false
}

// scanForMaliciousContent 扫描恶意内容，只检查文件开头最明显的威胁
func (v *ImageSecurityValidator) scanForMaliciousContent(data []byte) bool {
	executableSignatures := [][]byte{
		{0x4D, 0x5A},             // PE文件头 (MZ)
		{0x7F, 0x45, 0x4C, 0x46}, // ELF文件头
		{0xCA, 0xFE, 0xBA, 0xBE}, // Mach-O文件头
	}
	signatureNames := []string{"PE", "ELF", "Mach-O"}

	for i, signature := range executableSignatures {
		if bytes.HasPrefix(data, signature) {
			v.logger.Warn("文件开头检测到可执行文件签名", map[string]interface{}{
				"signature_type": signatureNames[i],
				"signature_hex":  fmt.Sprintf("%x", signature),
			})
			return true
		}
	}

	return false
}

// DetectFormat 按魔数检测图片格式，未知时返回空串
func DetectFormat(data []byte) string {
	for format, signature := range imageSignatures {
		if format == "jpg" {
			continue // 与jpeg重复
		}
		if len(data) < len(signature) {
			continue
		}
		if !bytes.HasPrefix(data, signature) {
			continue
		}
		// WEBP需要额外验证RIFF之后的标识
		if format == "webp" {
			if len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP")) {
				return "webp"
			}
			continue
		}
		return format
	}
	return ""
}
