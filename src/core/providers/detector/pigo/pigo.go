package pigo

import (
	"context"
	"fmt"
	"image"
	"os"

	"facemesh-server-go/src/core/providers"
	"facemesh-server-go/src/core/providers/detector"
	"facemesh-server-go/src/core/types"
	"facemesh-server-go/src/core/utils"

	pigo "github.com/esimov/pigo/core"
)

// pigo级联的q分数没有上界约定，经验上超过这个值即为高置信结果，
// 用它把分数压到0~1区间
const qScoreNorm = 50.0

// Provider 基于pigo级联分类器的纯Go人脸检测引擎
type Provider struct {
	config     *detector.Config
	logger     *utils.Logger
	classifier *pigo.Pigo
}

func init() {
	detector.Register("pigo", NewProvider)
}

// NewProvider 创建pigo检测引擎
func NewProvider(config *detector.Config, logger *utils.Logger) (providers.FaceDetector, error) {
	if config.CascadeFile == "" {
		return nil, fmt.Errorf("pigo检测引擎缺少cascade_file配置")
	}
	return &Provider{
		config: config,
		logger: logger,
	}, nil
}

// Initialize 加载并解包级联模型文件
func (p *Provider) Initialize() error {
	cascade, err := os.ReadFile(p.config.CascadeFile)
	if err != nil {
		return fmt.Errorf("读取级联模型文件失败(%s): %v", p.config.CascadeFile, err)
	}

	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return fmt.Errorf("解包级联模型失败: %v", err)
	}

	p.classifier = classifier
	p.logger.Info("pigo检测引擎初始化成功", map[string]interface{}{
		"cascade_file": p.config.CascadeFile,
		"min_size":     p.config.MinSize,
		"max_size":     p.config.MaxSize,
	})
	return nil
}

// Cleanup 释放引擎资源
func (p *Provider) Cleanup() error {
	p.classifier = nil
	return nil
}

// DetectFaces 在位图中检测人脸
func (p *Provider) DetectFaces(ctx context.Context, img *image.NRGBA) (faces []types.Face, err error) {
	if p.classifier == nil {
		return nil, types.NewFatalError(fmt.Errorf("检测引擎句柄已释放"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 级联在损坏的模型数据上会panic，按不可恢复故障上报
	defer func() {
		if r := recover(); r != nil {
			faces = nil
			err = types.NewFatalError(fmt.Errorf("pigo级联执行panic: %v", r))
		}
	}()

	bounds := img.Bounds()
	rows, cols := bounds.Dy(), bounds.Dx()
	pixels := pigo.RgbToGrayscale(img)

	cParams := pigo.CascadeParams{
		MinSize:     p.config.MinSize,
		MaxSize:     p.config.MaxSize,
		ShiftFactor: p.config.ShiftFactor,
		ScaleFactor: p.config.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := p.classifier.RunCascade(cParams, 0.0)
	dets = p.classifier.ClusterDetections(dets, p.config.IoUThreshold)

	for _, det := range dets {
		score := float64(det.Q) / qScoreNorm
		if score > 1.0 {
			score = 1.0
		}
		if score < p.config.MinConfidence {
			continue
		}
		faces = append(faces, types.Face{
			X:      float64(det.Col) / float64(cols),
			Y:      float64(det.Row) / float64(rows),
			Width:  float64(det.Scale) / float64(cols),
			Height: float64(det.Scale) / float64(rows),
			Score:  score,
		})
	}

	return faces, nil
}
