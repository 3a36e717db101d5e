package detect

import "sync/atomic"

// Gate 能力级并发闸门。每个能力一个标志位：推理期间置位，
// 新请求到来时若标志已置位则立即拒绝（BUSY），不排队不重试。
// 底层引擎句柄未证明可以并发调用，这里用吞吐量换崩溃安全。
type Gate struct {
	busy int32
}

// TryAcquire 尝试占用闸门，占用成功返回true
func (g *Gate) TryAcquire() bool {
	return atomic.CompareAndSwapInt32(&g.busy, 0, 1)
}

// Release 无条件释放闸门，成功失败路径都必须调用
func (g *Gate) Release() {
	atomic.StoreInt32(&g.busy, 0)
}

// IsBusy 查询闸门状态
func (g *Gate) IsBusy() bool {
	return atomic.LoadInt32(&g.busy) == 1
}
