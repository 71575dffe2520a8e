package scatter

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize 默认的共享工作池大小
const DefaultPoolSize = 16

// Pool 进程内共享的有界工作池，限制同时执行的分片任务数
type Pool struct {
	size int64
	sem  *semaphore.Weighted
}

// NewPool 创建工作池，size <= 0 时使用 DefaultPoolSize
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

// Size 返回工作池容量
func (p *Pool) Size() int {
	return int(p.size)
}

// run 占用一个槽位执行 fn，ctx 结束前未获得槽位时返回 ctx 的错误
func (p *Pool) run(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	fn()
	return nil
}
