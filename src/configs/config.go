package configs

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config 主配置结构
type Config struct {
	Server struct {
		IP    string `yaml:"ip"`
		Port  int    `yaml:"port"`
		Token string `yaml:"token"`
		Auth  struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"auth"`
	} `yaml:"server"`

	Log struct {
		LogFormat string `yaml:"log_format"`
		LogLevel  string `yaml:"log_level"`
		LogDir    string `yaml:"log_dir"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"log"`

	Web struct {
		Enabled   bool   `yaml:"enabled"`
		Port      int    `yaml:"port"`
		Websocket string `yaml:"websocket"`
	} `yaml:"web"`

	// 每个能力选用的引擎，键为 FaceDetect / FaceLandmark
	SelectedModule map[string]string `yaml:"selected_module"`

	Detector map[string]DetectorConfig `yaml:"detector"`
	Landmark map[string]LandmarkConfig `yaml:"landmark"`

	Security SecurityConfig `yaml:"security"`

	// 成功请求是否写入历史记录
	EnableHistory bool `yaml:"enable_history"`
}

// DetectorConfig 人脸检测引擎配置
type DetectorConfig struct {
	Type          string                 `yaml:"type"`           // 引擎类型: pigo / gocv
	CascadeFile   string                 `yaml:"cascade_file"`   // pigo级联模型文件
	ModelFile     string                 `yaml:"model_file"`     // gocv模型文件
	ConfigFile    string                 `yaml:"config_file"`    // gocv网络描述文件
	Backend       string                 `yaml:"backend"`        // 计算后端: cpu / gpu，默认cpu
	MinConfidence float64                `yaml:"min_confidence"` // 最小置信度(0~1)
	IoUThreshold  float64                `yaml:"iou_threshold"`  // 重叠过滤阈值
	MinSize       int                    `yaml:"min_size"`       // 最小人脸边长(像素)
	MaxSize       int                    `yaml:"max_size"`       // 最大人脸边长(像素)
	ShiftFactor   float64                `yaml:"shift_factor"`   // 检测窗口移动比例
	ScaleFactor   float64                `yaml:"scale_factor"`   // 检测窗口缩放比例
	Extra         map[string]interface{} `yaml:",inline"`
}

// LandmarkConfig 人脸关键点引擎配置
type LandmarkConfig struct {
	Type          string                 `yaml:"type"`           // 引擎类型: pigo
	CascadeFile   string                 `yaml:"cascade_file"`   // 人脸级联模型文件
	PuplocFile    string                 `yaml:"puploc_file"`    // 瞳孔定位模型文件
	FlpDir        string                 `yaml:"flp_dir"`        // 关键点级联模型目录
	Perturbs      int                    `yaml:"perturbs"`       // 扰动采样次数
	MinConfidence float64                `yaml:"min_confidence"` // 最小置信度(0~1)
	IoUThreshold  float64                `yaml:"iou_threshold"`  // 重叠过滤阈值
	MinSize       int                    `yaml:"min_size"`       // 最小人脸边长(像素)
	MaxSize       int                    `yaml:"max_size"`       // 最大人脸边长(像素)
	Extra         map[string]interface{} `yaml:",inline"`
}

// SecurityConfig 图片安全配置结构
type SecurityConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`    // 最大文件大小（字节）
	MaxPixels      int64    `yaml:"max_pixels"`       // 最大像素数量
	MaxWidth       int      `yaml:"max_width"`        // 最大宽度
	MaxHeight      int      `yaml:"max_height"`       // 最大高度
	WorkingSize    int      `yaml:"working_size"`     // 推理前的工作尺寸（最长边）
	AllowedFormats []string `yaml:"allowed_formats"`  // 允许的图片格式
	EnableDeepScan bool     `yaml:"enable_deep_scan"` // 启用深度安全扫描
}

// LoadConfig 从文件加载配置
func LoadConfig() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, path, err
	}
	config.ApplyDefaults()

	return config, path, nil
}

// ApplyDefaults 补全未配置项的默认值
func (c *Config) ApplyDefaults() {
	if c.Security.MaxFileSize == 0 {
		c.Security.MaxFileSize = 5 * 1024 * 1024
	}
	if c.Security.MaxWidth == 0 {
		c.Security.MaxWidth = 4096
	}
	if c.Security.MaxHeight == 0 {
		c.Security.MaxHeight = 4096
	}
	if c.Security.MaxPixels == 0 {
		c.Security.MaxPixels = int64(c.Security.MaxWidth) * int64(c.Security.MaxHeight)
	}
	if c.Security.WorkingSize == 0 {
		c.Security.WorkingSize = 1320
	}
	if len(c.Security.AllowedFormats) == 0 {
		c.Security.AllowedFormats = []string{"jpeg", "jpg", "png", "gif", "bmp", "webp"}
	}
}
