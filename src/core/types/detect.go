package types

// Point 单个关键点，坐标为0~1的归一化值，Z为相对深度（引擎不提供时为0）
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Face 单个检测到的人脸，坐标为0~1的归一化值
type Face struct {
	X      float64 `json:"x"`      // 中心点列坐标
	Y      float64 `json:"y"`      // 中心点行坐标
	Width  float64 `json:"width"`  // 人脸宽度
	Height float64 `json:"height"` // 人脸高度
	Score  float64 `json:"score"`  // 引擎置信度(0~1)
}

// FaceLandmarks 单个人脸的全部关键点
type FaceLandmarks struct {
	Points []Point `json:"points"`
}

// DetectionResult 扁平化的检测结果，跨传输层复用
type DetectionResult struct {
	InferenceTimeMillis float64        `json:"inference_time_ms"`
	ConfidencePercent   float64        `json:"confidence_percent"`
	FaceCount           int            `json:"face_count"`
	Landmarks           [][][3]float64 `json:"landmarks,omitempty"`
}
