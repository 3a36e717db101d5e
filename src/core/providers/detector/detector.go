package detector

import (
	"fmt"

	"facemesh-server-go/src/configs"
	"facemesh-server-go/src/core/providers"
	"facemesh-server-go/src/core/utils"
)

// Config 人脸检测引擎配置
type Config struct {
	Type          string
	CascadeFile   string
	ModelFile     string
	ConfigFile    string
	Backend       string
	MinConfidence float64
	IoUThreshold  float64
	MinSize       int
	MaxSize       int
	ShiftFactor   float64
	ScaleFactor   float64
}

// Factory 检测引擎工厂函数类型
type Factory func(config *Config, logger *utils.Logger) (providers.FaceDetector, error)

var factories = make(map[string]Factory)

// Register 注册检测引擎工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 创建并初始化检测引擎实例
func Create(name string, detectorConfig *configs.DetectorConfig, logger *utils.Logger) (providers.FaceDetector, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未知的检测引擎: %s", name)
	}

	// 转换配置格式
	config := &Config{
		Type:          detectorConfig.Type,
		CascadeFile:   detectorConfig.CascadeFile,
		ModelFile:     detectorConfig.ModelFile,
		ConfigFile:    detectorConfig.ConfigFile,
		Backend:       detectorConfig.Backend,
		MinConfidence: detectorConfig.MinConfidence,
		IoUThreshold:  detectorConfig.IoUThreshold,
		MinSize:       detectorConfig.MinSize,
		MaxSize:       detectorConfig.MaxSize,
		ShiftFactor:   detectorConfig.ShiftFactor,
		ScaleFactor:   detectorConfig.ScaleFactor,
	}
	config.applyDefaults()

	engine, err := factory(config, logger)
	if err != nil {
		return nil, fmt.Errorf("创建检测引擎失败: %v", err)
	}

	if err := engine.Initialize(); err != nil {
		return nil, fmt.Errorf("初始化检测引擎失败: %v", err)
	}

	logger.Debug("检测引擎创建成功 %v", map[string]interface{}{
		"name": name,
		"type": config.Type,
	})

	return engine, nil
}

// GetRegisteredEngines 获取已注册的引擎类型列表
func GetRegisteredEngines() []string {
	var engines []string
	for name := range factories {
		engines = append(engines, name)
	}
	return engines
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = "cpu"
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.2
	}
	if c.IoUThreshold == 0 {
		c.IoUThreshold = 0.2
	}
	if c.MinSize == 0 {
		c.MinSize = 60
	}
	if c.MaxSize == 0 {
		c.MaxSize = 1000
	}
	if c.ShiftFactor == 0 {
		c.ShiftFactor = 0.1
	}
	if c.ScaleFactor == 0 {
		c.ScaleFactor = 1.1
	}
}
