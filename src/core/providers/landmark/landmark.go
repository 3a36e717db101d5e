package landmark

import (
	"fmt"

	"facemesh-server-go/src/configs"
	"facemesh-server-go/src/core/providers"
	"facemesh-server-go/src/core/utils"
)

// Config 关键点引擎配置
type Config struct {
	Type          string
	CascadeFile   string
	PuplocFile    string
	FlpDir        string
	Perturbs      int
	MinConfidence float64
	IoUThreshold  float64
	MinSize       int
	MaxSize       int
}

// Factory 关键点引擎工厂函数类型
type Factory func(config *Config, logger *utils.Logger) (providers.LandmarkDetector, error)

var factories = make(map[string]Factory)

// Register 注册关键点引擎工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 创建并初始化关键点引擎实例
func Create(name string, landmarkConfig *configs.LandmarkConfig, logger *utils.Logger) (providers.LandmarkDetector, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未知的关键点引擎: %s", name)
	}

	config := &Config{
		Type:          landmarkConfig.Type,
		CascadeFile:   landmarkConfig.CascadeFile,
		PuplocFile:    landmarkConfig.PuplocFile,
		FlpDir:        landmarkConfig.FlpDir,
		Perturbs:      landmarkConfig.Perturbs,
		MinConfidence: landmarkConfig.MinConfidence,
		IoUThreshold:  landmarkConfig.IoUThreshold,
		MinSize:       landmarkConfig.MinSize,
		MaxSize:       landmarkConfig.MaxSize,
	}
	config.applyDefaults()

	engine, err := factory(config, logger)
	if err != nil {
		return nil, fmt.Errorf("创建关键点引擎失败: %v", err)
	}

	if err := engine.Initialize(); err != nil {
		return nil, fmt.Errorf("初始化关键点引擎失败: %v", err)
	}

	logger.Debug("关键点引擎创建成功 %v", map[string]interface{}{
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
	if c.Perturbs == 0 {
		c.Perturbs = 63
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
}
