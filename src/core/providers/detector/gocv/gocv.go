package gocv

import (
	"context"
	"fmt"
	"image"
	"os"

	"facemesh-server-go/src/core/providers"
	"facemesh-server-go/src/core/providers/detector"
	"facemesh-server-go/src/core/types"
	"facemesh-server-go/src/core/utils"

	"gocv.io/x/gocv"
)

// SSD网络的固定输入尺寸与均值
const dnnInputSize = 300

// Provider 基于OpenCV DNN (SSD ResNet-10)的人脸检测引擎。
// 计算后端默认强制为CPU，模拟器上的GPU驱动会导致原生崩溃。
type Provider struct {
	config *detector.Config
	logger *utils.Logger
	net    gocv.Net
	loaded bool
}

func init() {
	detector.Register("gocv", NewProvider)
}

// NewProvider 创建gocv检测引擎
func NewProvider(config *detector.Config, logger *utils.Logger) (providers.FaceDetector, error) {
	if config.ModelFile == "" || config.ConfigFile == "" {
		return nil, fmt.Errorf("gocv检测引擎缺少model_file或config_file配置")
	}
	return &Provider{
		config: config,
		logger: logger,
	}, nil
}

// Initialize 加载DNN模型并固定计算后端
func (p *Provider) Initialize() error {
	if _, err := os.Stat(p.config.ModelFile); os.IsNotExist(err) {
		return fmt.Errorf("模型文件不存在: %s", p.config.ModelFile)
	}
	if _, err := os.Stat(p.config.ConfigFile); os.IsNotExist(err) {
		return fmt.Errorf("网络描述文件不存在: %s", p.config.ConfigFile)
	}

	net := gocv.ReadNet(p.config.ModelFile, p.config.ConfigFile)
	if net.Empty() {
		return fmt.Errorf("加载DNN网络失败")
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return fmt.Errorf("设置DNN后端失败: %v", err)
	}

	target := gocv.NetTargetCPU
	if p.config.Backend == "gpu" {
		target = gocv.NetTargetCUDA
	}
	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return fmt.Errorf("设置DNN计算目标失败: %v", err)
	}

	p.net = net
	p.loaded = true
	p.logger.Info("gocv检测引擎初始化成功", map[string]interface{}{
		"model_file": p.config.ModelFile,
		"backend":    p.config.Backend,
	})
	return nil
}

// Cleanup 释放DNN网络资源
func (p *Provider) Cleanup() error {
	if p.loaded {
		p.loaded = false
		return p.net.Close()
	}
	return nil
}

// DetectFaces 在位图中检测人脸
func (p *Provider) DetectFaces(ctx context.Context, img *image.NRGBA) (faces []types.Face, err error) {
	if !p.loaded {
		return nil, types.NewFatalError(fmt.Errorf("检测引擎句柄已释放"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// cgo层的异常以panic形式冒出来，按不可恢复故障上报
	defer func() {
		if r := recover(); r != nil {
			faces = nil
			err = types.NewFatalError(fmt.Errorf("DNN前向计算panic: %v", r))
		}
	}()

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("位图转换失败: %v", err)
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	if err := gocv.CvtColor(mat, &bgr, gocv.ColorRGBToBGR); err != nil {
		return nil, fmt.Errorf("颜色空间转换失败: %v", err)
	}

	blob := gocv.BlobFromImage(bgr, 1.0, image.Pt(dnnInputSize, dnnInputSize),
		gocv.NewScalar(104, 177, 123, 0), false, false)
	defer blob.Close()

	p.net.SetInput(blob, "")
	output := p.net.Forward("")
	defer output.Close()

	// 输出为 [1,1,N,7]，每行: [batch, class, confidence, x1, y1, x2, y2]，坐标已归一化
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	for i := 0; i < reshaped.Rows(); i++ {
		confidence := float64(reshaped.GetFloatAt(i, 2))
		if confidence < p.config.MinConfidence {
			continue
		}
		x1 := float64(reshaped.GetFloatAt(i, 3))
		y1 := float64(reshaped.GetFloatAt(i, 4))
		x2 := float64(reshaped.GetFloatAt(i, 5))
		y2 := float64(reshaped.GetFloatAt(i, 6))

		faces = append(faces, types.Face{
			X:      (x1 + x2) / 2,
			Y:      (y1 + y2) / 2,
			Width:  x2 - x1,
			Height: y2 - y1,
			Score:  confidence,
		})
	}

	return faces, nil
}
