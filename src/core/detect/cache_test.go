package detect

import (
	"errors"
	"sync"
	"testing"

	"facemesh-server-go/src/configs"
	"facemesh-server-go/src/core/providers"
	"facemesh-server-go/src/core/types"
	"facemesh-server-go/src/core/utils"
)

func newTestLogger(t *testing.T) *utils.Logger {
	t.Helper()

	config := &configs.Config{}
	config.Log.LogDir = t.TempDir()
	config.Log.LogFile = "test.log"
	config.Log.LogLevel = "error"

	logger, err := utils.NewLogger(config)
	if err != nil {
		t.Fatalf("创建测试日志器失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

// stubProvider 只记录清理次数的空引擎
type stubProvider struct {
	cleanups int
}

func (p *stubProvider) Initialize() error { return nil }
func (p *stubProvider) Cleanup() error {
	p.cleanups++
	return nil
}

func TestEngineCacheReuse(t *testing.T) {
	created := 0
	cache := NewEngineCache("FaceDetect", func() (providers.Provider, error) {
		created++
		return &stubProvider{}, nil
	}, newTestLogger(t))

	first, err := cache.Get()
	if err != nil {
		t.Fatalf("首次获取失败: %v", err)
	}
	second, err := cache.Get()
	if err != nil {
		t.Fatalf("二次获取失败: %v", err)
	}

	if first != second {
		t.Error("两次获取应返回同一个引擎实例")
	}
	if created != 1 {
		t.Errorf("引擎应只构造1次, 实际%d次", created)
	}
	if cache.Creations() != 1 {
		t.Errorf("Creations应为1, 实际%d", cache.Creations())
	}
}

func TestEngineCacheCreateFailure(t *testing.T) {
	attempts := 0
	cache := NewEngineCache("FaceDetect", func() (providers.Provider, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("模型文件缺失")
		}
		return &stubProvider{}, nil
	}, newTestLogger(t))

	_, err := cache.Get()
	if err == nil {
		t.Fatal("首次构造失败应返回错误")
	}
	if code := types.CodeOf(err); code != types.ErrCodeInitFailed {
		t.Errorf("错误码应为%s, 实际%s", types.ErrCodeInitFailed, code)
	}
	if cache.Ready() {
		t.Error("构造失败后缓存不应就绪")
	}

	// 失败不粘滞，下一次调用重试构造
	if _, err := cache.Get(); err != nil {
		t.Fatalf("重试构造应成功: %v", err)
	}
	if attempts != 2 {
		t.Errorf("应重试构造, 实际构造%d次", attempts)
	}
}

func TestEngineCacheInvalidate(t *testing.T) {
	engine := &stubProvider{}
	created := 0
	cache := NewEngineCache("FaceDetect", func() (providers.Provider, error) {
		created++
		return engine, nil
	}, newTestLogger(t))

	if _, err := cache.Get(); err != nil {
		t.Fatalf("获取失败: %v", err)
	}

	cache.Invalidate()
	if cache.Ready() {
		t.Error("失效后缓存不应就绪")
	}
	if engine.cleanups != 1 {
		t.Errorf("失效时应清理句柄, 清理次数%d", engine.cleanups)
	}

	// 失效后的下一次获取重新构造
	if _, err := cache.Get(); err != nil {
		t.Fatalf("失效后重新获取失败: %v", err)
	}
	if created != 2 {
		t.Errorf("失效后应重新构造, 实际构造%d次", created)
	}
}

func TestEngineCacheConcurrentGet(t *testing.T) {
	created := 0
	cache := NewEngineCache("FaceDetect", func() (providers.Provider, error) {
		created++
		return &stubProvider{}, nil
	}, newTestLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Get(); err != nil {
				t.Errorf("并发获取失败: %v", err)
			}
		}()
	}
	wg.Wait()

	// 双重检查保证并发下只构造一次
	if created != 1 {
		t.Errorf("并发获取应只构造1次, 实际%d次", created)
	}
}
