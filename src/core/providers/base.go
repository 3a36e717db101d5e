package providers

import (
	"context"
	"image"

	"facemesh-server-go/src/core/types"
)

// Provider 所有推理引擎的基础接口。
// 引擎构造开销大（模型加载），由上层缓存负责复用与失效。
type Provider interface {
	Initialize() error
	Cleanup() error
}

// FaceDetector 人脸检测引擎接口
type FaceDetector interface {
	Provider
	// 在位图中检测人脸，返回归一化坐标的人脸列表
	DetectFaces(ctx context.Context, img *image.NRGBA) ([]types.Face, error)
}

// LandmarkDetector 人脸关键点引擎接口
type LandmarkDetector interface {
	Provider
	// 在位图中检测人脸并定位关键点，每个人脸一组归一化坐标点
	DetectLandmarks(ctx context.Context, img *image.NRGBA) ([]types.FaceLandmarks, error)
}
