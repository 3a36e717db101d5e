package detect

import (
	"context"
	"fmt"
	"time"

	"facemesh-server-go/src/configs"
	imagepkg "facemesh-server-go/src/core/image"
	"facemesh-server-go/src/core/providers"
	"facemesh-server-go/src/core/providers/detector"
	"facemesh-server-go/src/core/providers/landmark"
	"facemesh-server-go/src/core/types"
	"facemesh-server-go/src/core/utils"
)

// Version 对外上报的服务版本号
const Version = "1.2.0"

// 能力标识，与配置文件selected_module的键一致
const (
	CapabilityFaceDetect   = "FaceDetect"
	CapabilityFaceLandmark = "FaceLandmark"
)

// Recorder 检测历史记录接口。记录失败只影响历史，不影响检测结果。
type Recorder interface {
	Record(capability string, engine string, res *types.DetectionResult) error
}

// capability 单个能力的运行时状态：一个闸门加一个引擎缓存
type capability struct {
	name   string
	engine string
	gate   Gate
	cache  *EngineCache
}

// Service 检测服务：解码、并发控制、引擎缓存与结果整理的汇聚点。
// 每个能力各有一个闸门和一个引擎缓存，互不影响。
type Service struct {
	config   *configs.Config
	logger   *utils.Logger
	decoder  *imagepkg.Decoder
	face     *capability
	landmark *capability
	recorder Recorder
	started  time.Time
}

// NewService 按配置装配检测服务。
// 引擎此时只绑定构造函数，真正的模型加载推迟到第一次请求。
func NewService(config *configs.Config, logger *utils.Logger) (*Service, error) {
	faceEngine, ok := config.SelectedModule[CapabilityFaceDetect]
	if !ok {
		return nil, fmt.Errorf("selected_module未配置%s", CapabilityFaceDetect)
	}
	faceConfig, ok := config.Detector[faceEngine]
	if !ok {
		return nil, fmt.Errorf("detector配置缺少引擎%s", faceEngine)
	}

	landmarkEngine, ok := config.SelectedModule[CapabilityFaceLandmark]
	if !ok {
		return nil, fmt.Errorf("selected_module未配置%s", CapabilityFaceLandmark)
	}
	landmarkConfig, ok := config.Landmark[landmarkEngine]
	if !ok {
		return nil, fmt.Errorf("landmark配置缺少引擎%s", landmarkEngine)
	}

	faceCreate := func() (providers.Provider, error) {
		cfg := faceConfig
		return detector.Create(faceEngine, &cfg, logger)
	}
	landmarkCreate := func() (providers.Provider, error) {
		cfg := landmarkConfig
		return landmark.Create(landmarkEngine, &cfg, logger)
	}

	return NewServiceWithCreators(config, logger, faceEngine, faceCreate, landmarkEngine, landmarkCreate), nil
}

// NewServiceWithCreators 用外部提供的引擎构造函数装配服务
func NewServiceWithCreators(config *configs.Config, logger *utils.Logger,
	faceEngine string, faceCreate CreateFunc,
	landmarkEngine string, landmarkCreate CreateFunc) *Service {
	return &Service{
		config:  config,
		logger:  logger,
		decoder: imagepkg.NewDecoder(&config.Security, logger),
		face: &capability{
			name:   CapabilityFaceDetect,
			engine: faceEngine,
			cache:  NewEngineCache(CapabilityFaceDetect, faceCreate, logger),
		},
		landmark: &capability{
			name:   CapabilityFaceLandmark,
			engine: landmarkEngine,
			cache:  NewEngineCache(CapabilityFaceLandmark, landmarkCreate, logger),
		},
		started: time.Now(),
	}
}

// SetRecorder 挂接历史记录器，传nil表示不记录
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// GetVersion 返回服务版本号
func (s *Service) GetVersion() string {
	return Version
}

// DetectFace 在图片字节中检测人脸
func (s *Service) DetectFace(ctx context.Context, data []byte) (*types.DetectionResult, error) {
	c := s.face

	// 先解码再抢闸门：坏输入在并发期间也返回输入类错误而不是BUSY
	decoded, err := s.decoder.Decode(data)
	if err != nil {
		return nil, err
	}

	if !c.gate.TryAcquire() {
		return nil, types.NewDetectError(types.ErrCodeBusy, "人脸检测正在进行中，请稍后重试")
	}
	defer c.gate.Release()

	engine, err := c.cache.Get()
	if err != nil {
		return nil, err
	}
	faceEngine, ok := engine.(providers.FaceDetector)
	if !ok {
		return nil, types.NewDetectError(types.ErrCodeInitFailed, "引擎类型不支持人脸检测")
	}

	start := time.Now()
	faces, err := faceEngine.DetectFaces(ctx, decoded.Image)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return nil, s.classifyEngineError(c, err)
	}

	result := NormalizeFaces(faces, elapsed)
	s.record(c, result)
	s.logger.Debug("人脸检测完成 %v", map[string]interface{}{
		"face_count": result.FaceCount,
		"confidence": result.ConfidencePercent,
		"elapsed_ms": elapsed,
	})
	return result, nil
}

// DetectLandmarks 在图片字节中检测人脸关键点
func (s *Service) DetectLandmarks(ctx context.Context, data []byte) (*types.DetectionResult, error) {
	c := s.landmark

	decoded, err := s.decoder.Decode(data)
	if err != nil {
		return nil, err
	}

	if !c.gate.TryAcquire() {
		return nil, types.NewDetectError(types.ErrCodeBusy, "关键点检测正在进行中，请稍后重试")
	}
	defer c.gate.Release()

	engine, err := c.cache.Get()
	if err != nil {
		return nil, err
	}
	landmarkEngine, ok := engine.(providers.LandmarkDetector)
	if !ok {
		return nil, types.NewDetectError(types.ErrCodeInitFailed, "引擎类型不支持关键点检测")
	}

	start := time.Now()
	found, err := landmarkEngine.DetectLandmarks(ctx, decoded.Image)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return nil, s.classifyEngineError(c, err)
	}

	result := NormalizeLandmarks(found, elapsed)
	s.record(c, result)
	s.logger.Debug("关键点检测完成 %v", map[string]interface{}{
		"face_count": result.FaceCount,
		"elapsed_ms": elapsed,
	})
	return result, nil
}

// classifyEngineError 区分不可恢复故障与普通检测失败。
// 不可恢复故障会使该能力的引擎缓存失效，本次请求不重试。
func (s *Service) classifyEngineError(c *capability, err error) error {
	if types.IsFatal(err) {
		s.logger.Error("引擎发生不可恢复故障", map[string]interface{}{
			"capability": c.name,
			"engine":     c.engine,
			"error":      err.Error(),
		})
		c.cache.Invalidate()
		return types.WrapDetectError(types.ErrCodeNativeFault, "引擎发生不可恢复故障", err)
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}
	return types.WrapDetectError(types.ErrCodeDetectionFailed, "检测执行失败", err)
}

// record 写入检测历史，失败只记日志
func (s *Service) record(c *capability, result *types.DetectionResult) {
	if s.recorder == nil || !s.config.EnableHistory {
		return
	}
	if err := s.recorder.Record(c.name, c.engine, result); err != nil {
		s.logger.Warn("写入检测历史失败", map[string]interface{}{
			"capability": c.name,
			"error":      err.Error(),
		})
	}
}

// Stats 服务运行统计
type Stats struct {
	Uptime            string              `json:"uptime"`
	FaceEngine        string              `json:"face_engine"`
	FaceBusy          bool                `json:"face_busy"`
	FaceCreations     int64               `json:"face_creations"`
	LandmarkEngine    string              `json:"landmark_engine"`
	LandmarkBusy      bool                `json:"landmark_busy"`
	LandmarkCreations int64               `json:"landmark_creations"`
	Decode            imagepkg.DecodeMetrics `json:"decode"`
}

// GetStats 获取服务运行统计
func (s *Service) GetStats() Stats {
	return Stats{
		Uptime:            time.Since(s.started).Round(time.Second).String(),
		FaceEngine:        s.face.engine,
		FaceBusy:          s.face.gate.IsBusy(),
		FaceCreations:     s.face.cache.Creations(),
		LandmarkEngine:    s.landmark.engine,
		LandmarkBusy:      s.landmark.gate.IsBusy(),
		LandmarkCreations: s.landmark.cache.Creations(),
		Decode:            s.decoder.GetMetrics(),
	}
}

// FaceCreations 人脸引擎累计构造次数
func (s *Service) FaceCreations() int64 {
	return s.face.cache.Creations()
}

// LandmarkCreations 关键点引擎累计构造次数
func (s *Service) LandmarkCreations() int64 {
	return s.landmark.cache.Creations()
}

// Cleanup 停机时释放全部引擎句柄
func (s *Service) Cleanup() {
	s.face.cache.Close()
	s.landmark.cache.Close()
	s.logger.Info("检测服务已释放全部引擎句柄", nil)
}
