package cpu

import (
	"runtime"
	"sync"
)

// pool is a persistent set of workers shared by every launch of a backend.
type pool struct {
	workers int
	work    chan func()
	once    sync.Once
}

func newPool(workers int) *pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &pool{
		workers: workers,
		work:    make(chan func(), workers*2),
	}
	for range workers {
		go func() {
			for fn := range p.work {
				fn()
			}
		}()
	}
	return p
}

// parallelFor runs fn over [0, n) split into contiguous ranges and waits.
func (p *pool) parallelFor(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	workers := min(p.workers, n)
	if workers == 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		p.work <- func() {
			defer wg.Done()
			fn(start, end)
		}
	}
	wg.Wait()
}

func (p *pool) close() {
	p.once.Do(func() { close(p.work) })
}
