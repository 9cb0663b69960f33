package model

import (
	"runtime"

	"github.com/weftml/weft/internal/tensor"
)

type attnTask struct {
	ctx    *attnContext
	rs, re int
	done   chan struct{}
}

// attnContext carries one decode step's attention inputs. Exactly one
// of cacheK/cacheK16 (and cacheV/cacheV16) is set, matching the
// layer's cache type.
type attnContext struct {
	q                 []float32
	cacheK, cacheV    []float32
	cacheK16, cacheV16 []uint16
	attnOut           []float32

	pos, start        int
	kvStride, headDim int
	nHead, kvHeads    int
	scale             float32
}

type attnPool struct {
	size      int
	tasks     chan attnTask
	doneSlots chan chan struct{}
	scores    []float32
	maxCtx    int
}

func attnWorkersFor(nHead int) int {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	if nHead > 0 && workers > nHead {
		workers = nHead
	}
	if workers < 1 {
		return 1
	}
	return workers
}

func newAttnPool(workers, maxCtx int) *attnPool {
	if workers < 1 {
		workers = 1
	}
	if maxCtx < 1 {
		maxCtx = 1
	}
	p := &attnPool{
		size:      workers,
		tasks:     make(chan attnTask, workers*2),
		doneSlots: make(chan chan struct{}, workers),
		scores:    make([]float32, workers*maxCtx),
		maxCtx:    maxCtx,
	}
	for i := 0; i < workers; i++ {
		p.doneSlots <- make(chan struct{}, 1)
	}
	for i := 0; i < workers; i++ {
		workerID := i
		go func() {
			base := workerID * p.maxCtx
			scoresBuf := p.scores[base : base+p.maxCtx]
			for task := range p.tasks {
				runAttnHeads(task.ctx, scoresBuf, task.rs, task.re)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

func (m *Instance) initAttnPool() {
	m.poolOnce.Do(func() {
		m.pool = newAttnPool(attnWorkersFor(m.Cfg.HeadCount), m.MaxContext)
	})
}

func (m *Instance) getAttnPool() *attnPool {
	if m.pool == nil {
		m.initAttnPool()
	}
	return m.pool
}

// dispatchAttention splits the context's heads across the pool and
// blocks until every chunk has finished.
func dispatchAttention(pool *attnPool, ctx *attnContext) {
	workers := pool.size
	if workers > ctx.nHead {
		workers = ctx.nHead
	}
	if workers <= 1 {
		runAttnHeads(ctx, pool.scores[:pool.maxCtx], 0, ctx.nHead)
		return
	}

	chunk := (ctx.nHead + workers - 1) / workers
	dones := make([]chan struct{}, 0, workers)
	for rs := 0; rs < ctx.nHead; rs += chunk {
		re := rs + chunk
		if re > ctx.nHead {
			re = ctx.nHead
		}
		done := <-pool.doneSlots
		pool.tasks <- attnTask{ctx: ctx, rs: rs, re: re, done: done}
		dones = append(dones, done)
	}
	for _, done := range dones {
		<-done
		pool.doneSlots <- done
	}
}

func runAttnHeads(ctx *attnContext, scoresBuf []float32, rs, re int) {
	if ctx == nil || rs >= re {
		return
	}
	if ctx.start < 0 || ctx.start > ctx.pos {
		panic("invalid attention window start")
	}
	winLen := ctx.pos - ctx.start + 1
	if winLen > len(scoresBuf) {
		panic("attention scores buffer too small")
	}
	scores := scoresBuf[:winLen]
	for h := rs; h < re; h++ {
		kvHead := h * ctx.kvHeads / ctx.nHead
		qh := ctx.q[h*ctx.headDim : (h+1)*ctx.headDim]
		for t := ctx.start; t <= ctx.pos; t++ {
			koff := t*ctx.kvStride + kvHead*ctx.headDim
			if ctx.cacheK16 != nil {
				kv := ctx.cacheK16[koff : koff+ctx.headDim]
				var dot float32
				for d, q := range qh {
					dot += q * tensor.FP16ToF32(kv[d])
				}
				scores[t-ctx.start] = dot * ctx.scale
			} else {
				kv := ctx.cacheK[koff : koff+ctx.headDim]
				scores[t-ctx.start] = tensor.Dot(qh, kv) * ctx.scale
			}
		}
		tensor.Softmax(scores)
		out := ctx.attnOut[h*ctx.headDim : (h+1)*ctx.headDim]
		for d := range ctx.headDim {
			var sum float32
			for t := ctx.start; t <= ctx.pos; t++ {
				voff := t*ctx.kvStride + kvHead*ctx.headDim + d
				if ctx.cacheV16 != nil {
					sum += scores[t-ctx.start] * tensor.FP16ToF32(ctx.cacheV16[voff])
				} else {
					sum += scores[t-ctx.start] * ctx.cacheV[voff]
				}
			}
			out[d] = sum
		}
	}
}
