package image

import (
	"bytes"
	"image"
	"sync/atomic"

	"facemesh-server-go/src/configs"
	"facemesh-server-go/src/core/types"
	"facemesh-server-go/src/core/utils"

	"github.com/disintegration/imaging"
)

// Decoder 图片解码器：字节缓冲区 -> 内存位图。
// 空或无法解码的输入返回INVALID_IMAGE类错误，超过尺寸上限返回IMAGE_TOO_LARGE，
// 上限检查在完整解码之前完成，避免病态输入占用内存。
type Decoder struct {
	config    *configs.SecurityConfig
	validator *ImageSecurityValidator
	logger    *utils.Logger
	metrics   *DecodeMetrics
}

// NewDecoder 创建新的图片解码器
func NewDecoder(config *configs.SecurityConfig, logger *utils.Logger) *Decoder {
	return &Decoder{
		config:    config,
		validator: NewImageSecurityValidator(config, logger),
		logger:    logger,
		metrics:   &DecodeMetrics{},
	}
}

// Decode 解码图片字节
func (d *Decoder) Decode(data []byte) (*DecodedImage, error) {
	atomic.AddInt64(&d.metrics.TotalDecoded, 1)

	// 先做安全验证：大小、格式、尺寸上限都在这里拒绝
	validation := d.validator.ValidateBytes(data)
	if !validation.IsValid {
		atomic.AddInt64(&d.metrics.FailedValidations, 1)
		if validation.SecurityRisk != "" {
			atomic.AddInt64(&d.metrics.SecurityIncidents, 1)
			d.logger.Warn("图片验证发现安全风险", map[string]interface{}{
				"error":         validation.Error.Error(),
				"security_risk": validation.SecurityRisk,
			})
		}
		return nil, validation.Error
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// 头信息可解析但主体损坏
		atomic.AddInt64(&d.metrics.FailedValidations, 1)
		return nil, types.WrapDetectError(types.ErrCodeInvalidImage, "图片解码失败", err)
	}

	decoded := &DecodedImage{
		Width:  validation.Width,
		Height: validation.Height,
		Format: format,
	}

	// 超过工作尺寸的图片先缩放再推理。结果是归一化坐标，调用方无感知。
	bounds := img.Bounds()
	longest := bounds.Dx()
	if bounds.Dy() > longest {
		longest = bounds.Dy()
	}
	if d.config.WorkingSize > 0 && longest > d.config.WorkingSize {
		decoded.Image = imaging.Fit(img, d.config.WorkingSize, d.config.WorkingSize, imaging.Lanczos)
		decoded.Scaled = true
		atomic.AddInt64(&d.metrics.Downscaled, 1)
		d.logger.Debug("图片已缩放到工作尺寸 %v", map[string]interface{}{
			"original_width":  bounds.Dx(),
			"original_height": bounds.Dy(),
			"working_size":    d.config.WorkingSize,
		})
	} else {
		decoded.Image = imaging.Clone(img)
	}

	return decoded, nil
}

// GetMetrics 获取解码统计信息
func (d *Decoder) GetMetrics() DecodeMetrics {
	return DecodeMetrics{
		TotalDecoded:      atomic.LoadInt64(&d.metrics.TotalDecoded),
		Downscaled:        atomic.LoadInt64(&d.metrics.Downscaled),
		FailedValidations: atomic.LoadInt64(&d.metrics.FailedValidations),
		SecurityIncidents: atomic.LoadInt64(&d.metrics.SecurityIncidents),
	}
}
