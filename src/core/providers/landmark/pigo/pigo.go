package pigo

import (
	"context"
	"fmt"
	"image"
	"os"

	"facemesh-server-go/src/core/providers"
	"facemesh-server-go/src/core/providers/landmark"
	"facemesh-server-go/src/core/types"
	"facemesh-server-go/src/core/utils"

	pigo "github.com/esimov/pigo/core"
)

// 关键点级联分组，与模型目录中的文件名对应。
// 眼部级联左右各算一次（flipV镜像），嘴部只有lp84需要镜像。
var (
	eyeCascades   = []string{"lp46", "lp44", "lp42", "lp38", "lp312"}
	mouthCascades = []string{"lp93", "lp84", "lp82", "lp81"}
)

const (
	faceShiftFactor = 0.1
	faceScaleFactor = 1.1
)

// Provider 基于pigo puploc/flp级联的人脸关键点引擎。
// 流程：人脸级联定位人脸 -> 瞳孔级联定位双眼 -> flp级联推出其余关键点。
type Provider struct {
	config     *landmark.Config
	logger     *utils.Logger
	classifier *pigo.Pigo
	puploc     *pigo.PuplocCascade
	flpcs      map[string][]*pigo.FlpCascade
}

func init() {
	landmark.Register("pigo", NewProvider)
}

// NewProvider 创建pigo关键点引擎
func NewProvider(config *landmark.Config, logger *utils.Logger) (providers.LandmarkDetector, error) {
	if config.CascadeFile == "" || config.PuplocFile == "" || config.FlpDir == "" {
		return nil, fmt.Errorf("pigo关键点引擎缺少cascade_file/puploc_file/flp_dir配置")
	}
	return &Provider{
		config: config,
		logger: logger,
	}, nil
}

// Initialize 加载人脸、瞳孔与关键点三组级联模型
func (p *Provider) Initialize() error {
	cascade, err := os.ReadFile(p.config.CascadeFile)
	if err != nil {
		return fmt.Errorf("读取人脸级联模型失败(%s): %v", p.config.CascadeFile, err)
	}
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return fmt.Errorf("解包人脸级联模型失败: %v", err)
	}

	puplocCascade, err := os.ReadFile(p.config.PuplocFile)
	if err != nil {
		return fmt.Errorf("读取瞳孔级联模型失败(%s): %v", p.config.PuplocFile, err)
	}
	plc, err := (&pigo.PuplocCascade{}).UnpackCascade(puplocCascade)
	if err != nil {
		return fmt.Errorf("解包瞳孔级联模型失败: %v", err)
	}

	flpcs, err := plc.ReadCascadeDir(p.config.FlpDir)
	if err != nil {
		return fmt.Errorf("读取关键点级联模型目录失败(%s): %v", p.config.FlpDir, err)
	}

	p.classifier = classifier
	p.puploc = plc
	p.flpcs = flpcs
	p.logger.Info("pigo关键点引擎初始化成功", map[string]interface{}{
		"cascade_file": p.config.CascadeFile,
		"puploc_file":  p.config.PuplocFile,
		"flp_dir":      p.config.FlpDir,
		"perturbs":     p.config.Perturbs,
	})
	return nil
}

// Cleanup 释放引擎资源
func (p *Provider) Cleanup() error {
	p.classifier = nil
	p.puploc = nil
	p.flpcs = nil
	return nil
}

// DetectLandmarks 检测人脸并定位关键点
func (p *Provider) DetectLandmarks(ctx context.Context, img *image.NRGBA) (result []types.FaceLandmarks, err error) {
	if p.classifier == nil || p.puploc == nil {
		return nil, types.NewFatalError(fmt.Errorf("关键点引擎句柄已释放"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 级联在损坏的模型数据上会panic，按不可恢复故障上报
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = types.NewFatalError(fmt.Errorf("pigo级联执行panic: %v", r))
		}
	}()

	bounds := img.Bounds()
	rows, cols := bounds.Dy(), bounds.Dx()
	imgParams := pigo.ImageParams{
		Pixels: pigo.RgbToGrayscale(img),
		Rows:   rows,
		Cols:   cols,
		Dim:    cols,
	}

	cParams := pigo.CascadeParams{
		MinSize:     p.config.MinSize,
		MaxSize:     p.config.MaxSize,
		ShiftFactor: faceShiftFactor,
		ScaleFactor: faceScaleFactor,
		ImageParams: imgParams,
	}

	dets := p.classifier.RunCascade(cParams, 0.0)
	dets = p.classifier.ClusterDetections(dets, p.config.IoUThreshold)

	for _, det := range dets {
		points := p.faceLandmarks(det, imgParams)
		if len(points) == 0 {
			continue
		}
		result = append(result, types.FaceLandmarks{Points: points})
	}

	return result, nil
}

// faceLandmarks 对单个人脸运行瞳孔与flp级联
func (p *Provider) faceLandmarks(det pigo.Detection, imgParams pigo.ImageParams) []types.Point {
	scale := float32(det.Scale)

	leftEye := p.puploc.RunDetector(pigo.Puploc{
		Row:      det.Row - int(0.075*scale),
		Col:      det.Col - int(0.175*scale),
		Scale:    scale * 0.25,
		Perturbs: p.config.Perturbs,
	}, imgParams, 0.0, false)

	rightEye := p.puploc.RunDetector(pigo.Puploc{
		Row:      det.Row - int(0.075*scale),
		Col:      det.Col + int(0.185*scale),
		Scale:    scale * 0.25,
		Perturbs: p.config.Perturbs,
	}, imgParams, 0.0, false)

	if leftEye == nil || rightEye == nil {
		return nil
	}

	points := []types.Point{
		p.normalize(leftEye, imgParams),
		p.normalize(rightEye, imgParams),
	}

	for _, name := range eyeCascades {
		for _, flpc := range p.flpcs[name] {
			if flpc.PuplocCascade == nil {
				continue
			}
			if pt := flpc.GetLandmarkPoint(leftEye, rightEye, imgParams, p.config.Perturbs, false); pt != nil {
				points = append(points, p.normalize(pt, imgParams))
			}
			if pt := flpc.GetLandmarkPoint(leftEye, rightEye, imgParams, p.config.Perturbs, true); pt != nil {
				points = append(points, p.normalize(pt, imgParams))
			}
		}
	}

	for _, name := range mouthCascades {
		for _, flpc := range p.flpcs[name] {
			if flpc.PuplocCascade == nil {
				continue
			}
			if pt := flpc.GetLandmarkPoint(leftEye, rightEye, imgParams, p.config.Perturbs, false); pt != nil {
				points = append(points, p.normalize(pt, imgParams))
			}
		}
	}
	for _, flpc := range p.flpcs["lp84"] {
		if flpc.PuplocCascade == nil {
			continue
		}
		if pt := flpc.GetLandmarkPoint(leftEye, rightEye, imgParams, p.config.Perturbs, true); pt != nil {
			points = append(points, p.normalize(pt, imgParams))
		}
	}

	return points
}

// normalize 把像素坐标转为0~1的归一化坐标，引擎不输出深度，Z固定为0
func (p *Provider) normalize(pt *pigo.Puploc, imgParams pigo.ImageParams) types.Point {
	return types.Point{
		X: float64(pt.Col) / float64(imgParams.Cols),
		Y: float64(pt.Row) / float64(imgParams.Rows),
		Z: 0,
	}
}
