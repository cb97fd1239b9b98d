package tensor

import (
	"runtime"
	"sync"
)

// rowTask is one contiguous band [y0, y1) of output rows.
type rowTask struct {
	fn     func(y0, y1 int)
	y0, y1 int
	wg     *sync.WaitGroup
}

type rowPool struct {
	size  int
	tasks chan rowTask
}

func newRowPool() *rowPool {
	size := runtime.GOMAXPROCS(0)
	if size < 1 {
		size = 1
	}
	p := &rowPool{
		size:  size,
		tasks: make(chan rowTask, size*2),
	}
	for w := 0; w < size; w++ {
		go func() {
			for task := range p.tasks {
				task.fn(task.y0, task.y1)
				task.wg.Done()
			}
		}()
	}
	return p
}

var (
	rowWorkPool     *rowPool
	rowWorkPoolOnce sync.Once
)

func sharedRowPool() *rowPool {
	rowWorkPoolOnce.Do(func() { rowWorkPool = newRowPool() })
	return rowWorkPool
}

// resolveWorkers maps the ConvOptions convention onto a worker count:
// 0 and 1 run inline, negative values use GOMAXPROCS.
func resolveWorkers(workers, rows int) int {
	if workers < 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > rows {
		workers = rows
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// parallelRows splits [0, rows) into disjoint bands and runs fn on each. Each
// band owns its output rows exclusively, so fn may write without locking as
// long as it only writes rows inside its band. It blocks until every band is
// done.
func parallelRows(rows, workers int, fn func(y0, y1 int)) {
	if rows <= 0 {
		return
	}
	workers = resolveWorkers(workers, rows)
	if workers == 1 {
		fn(0, rows)
		return
	}
	pool := sharedRowPool()
	if workers > pool.size {
		workers = pool.size
	}
	chunk := (rows + workers - 1) / workers

	var wg sync.WaitGroup
	for y0 := 0; y0 < rows; y0 += chunk {
		y1 := min(y0+chunk, rows)
		wg.Add(1)
		pool.tasks <- rowTask{fn: fn, y0: y0, y1: y1, wg: &wg}
	}
	wg.Wait()
}
