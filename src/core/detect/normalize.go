package detect

import (
	"facemesh-server-go/src/core/types"
)

// 关键点能力的引擎没有可用的置信度输出，
// 对外按"检出即满分"约定：有人脸100，无人脸0。
const (
	landmarkConfidenceHit  = 100.0
	landmarkConfidenceMiss = 0.0
)

// clampPercent 把置信度限制在0~100百分制区间
func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// NormalizeFaces 把检测引擎输出整理为对外结果。
// 置信度取所有人脸得分的最大值换算为百分制。
func NormalizeFaces(faces []types.Face, elapsedMillis float64) *types.DetectionResult {
	best := 0.0
	for _, f := range faces {
		if f.Score > best {
			best = f.Score
		}
	}

	return &types.DetectionResult{
		InferenceTimeMillis: elapsedMillis,
		ConfidencePercent:   clampPercent(best * 100),
		FaceCount:           len(faces),
	}
}

// NormalizeLandmarks 把关键点引擎输出整理为对外结果。
// 每个关键点展开为[x, y, z]三元组，引擎不提供深度时z为0。
func NormalizeLandmarks(found []types.FaceLandmarks, elapsedMillis float64) *types.DetectionResult {
	result := &types.DetectionResult{
		InferenceTimeMillis: elapsedMillis,
		ConfidencePercent:   landmarkConfidenceMiss,
		FaceCount:           len(found),
	}

	if len(found) == 0 {
		return result
	}

	result.ConfidencePercent = landmarkConfidenceHit
	result.Landmarks = make([][][3]float64, 0, len(found))
	for _, face := range found {
		mesh := make([][3]float64, 0, len(face.Points))
		for _, pt := range face.Points {
			mesh = append(mesh, [3]float64{pt.X, pt.Y, pt.Z})
		}
		result.Landmarks = append(result.Landmarks, mesh)
	}

	return result
}
