package detect

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestGateAcquireRelease(t *testing.T) {
	var g Gate

	if g.IsBusy() {
		t.Error("初始状态不应为忙")
	}

	if !g.TryAcquire() {
		t.Fatal("空闲闸门应当获取成功")
	}
	if !g.IsBusy() {
		t.Error("获取成功后应为忙")
	}

	if g.TryAcquire() {
		t.Error("已占用的闸门不应再次获取成功")
	}

	g.Release()
	if g.IsBusy() {
		t.Error("释放后不应为忙")
	}
	if !g.TryAcquire() {
		t.Error("释放后应当可以重新获取")
	}
}

func TestGateConcurrentAcquire(t *testing.T) {
	var g Gate
	var acquired int32
	var wg sync.WaitGroup

	// 大量并发抢占，恰好一个成功
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire() {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&acquired); got != 1 {
		t.Errorf("并发抢占应恰好成功1次, 实际%d次", got)
	}
}
