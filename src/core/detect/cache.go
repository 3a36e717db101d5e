package detect

import (
	"sync"
	"sync/atomic"

	"facemesh-server-go/src/core/providers"
	"facemesh-server-go/src/core/types"
	"facemesh-server-go/src/core/utils"
)

// CreateFunc 引擎构造函数，由能力配置绑定
type CreateFunc func() (providers.Provider, error)

// handleBox 句柄容器。atomic.Value要求存储类型一致，统一包一层指针。
type handleBox struct {
	engine providers.Provider
}

// EngineCache 能力级引擎缓存。引擎构造开销大（模型加载），
// 缓存在多次调用间摊销这个成本；就绪后的读取走无锁快速路径，
// 构造与失效通过能力级互斥锁串行化（双重检查避免竞态下的重复构造）。
type EngineCache struct {
	name      string
	create    CreateFunc
	logger    *utils.Logger
	mu        sync.Mutex
	handle    atomic.Value // *handleBox，就绪与否由句柄是否存在表达
	creations int64
}

// NewEngineCache 创建引擎缓存
func NewEngineCache(name string, create CreateFunc, logger *utils.Logger) *EngineCache {
	return &EngineCache{
		name:   name,
		create: create,
		logger: logger,
	}
}

// Get 获取引擎句柄，必要时构造。
// 构造失败保持未初始化状态并返回INIT_ERROR，下次调用会重试构造。
func (c *EngineCache) Get() (providers.Provider, error) {
	// 快速路径：就绪句柄无锁读取
	if box, ok := c.handle.Load().(*handleBox); ok && box != nil {
		return box.engine, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// 双重检查：等锁期间可能已被其他调用构造完成
	if box, ok := c.handle.Load().(*handleBox); ok && box != nil {
		return box.engine, nil
	}

	c.logger.Info("开始构造推理引擎", map[string]interface{}{
		"capability": c.name,
	})

	engine, err := c.create()
	if err != nil {
		c.logger.Error("推理引擎构造失败", map[string]interface{}{
			"capability": c.name,
			"error":      err.Error(),
		})
		return nil, types.WrapDetectError(types.ErrCodeInitFailed, "引擎加载失败", err)
	}

	c.handle.Store(&handleBox{engine: engine})
	atomic.AddInt64(&c.creations, 1)
	c.logger.Info("推理引擎构造完成", map[string]interface{}{
		"capability": c.name,
		"creations":  atomic.LoadInt64(&c.creations),
	})

	return engine, nil
}

// Invalidate 释放句柄并回到未初始化状态。
// 引擎层不可恢复故障之后调用，下一次请求会重新构造，本次调用不重试。
func (c *EngineCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if box, ok := c.handle.Load().(*handleBox); ok && box != nil {
		if err := box.engine.Cleanup(); err != nil {
			c.logger.Warn("释放故障引擎句柄失败", map[string]interface{}{
				"capability": c.name,
				"error":      err.Error(),
			})
		}
	}

	c.handle.Store((*handleBox)(nil))
	c.logger.Warn("引擎缓存已失效，下次请求将重新构造", map[string]interface{}{
		"capability": c.name,
	})
}

// Close 服务停机时释放句柄
func (c *EngineCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if box, ok := c.handle.Load().(*handleBox); ok && box != nil {
		if err := box.engine.Cleanup(); err != nil {
			c.logger.Warn("释放引擎句柄失败", map[string]interface{}{
				"capability": c.name,
				"error":      err.Error(),
			})
		}
	}
	c.handle.Store((*handleBox)(nil))
}

// Creations 累计构造次数
func (c *EngineCache) Creations() int64 {
	return atomic.LoadInt64(&c.creations)
}

// Ready 当前是否持有就绪句柄
func (c *EngineCache) Ready() bool {
	box, ok := c.handle.Load().(*handleBox)
	return ok && box != nil
}
