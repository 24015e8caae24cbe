package main

import (
	"fmt"
	"runtime"
)

// Linux ptrace requires every trace call against a given tracee to come
// from the thread that attached to it. Goroutines aren't pinned to OS
// threads, so every trace operation is funneled through one goroutine
// that locks its OS thread for the debugger's lifetime. This is the
// single unsafe/syscall boundary; everything above it is pure code.

type traceResult struct {
	v   any
	err error
}

type traceReq struct {
	run  func() (any, error)
	resp chan traceResult
}

type traceWorker struct {
	req  chan traceReq
	done chan struct{}
}

func newTraceWorker() *traceWorker {
	w := &traceWorker{
		req:  make(chan traceReq),
		done: make(chan struct{}),
	}

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(w.done)

		for q := range w.req {
			var out any
			var err error
			func() {
				defer func() {
					if x := recover(); x != nil {
						err = fmt.Errorf("%v", x)
					}
				}()
				out, err = q.run()
			}()
			q.resp <- traceResult{out, err}
			close(q.resp)
		}
	}()

	return w
}

func (w *traceWorker) close() {
	close(w.req)
	<-w.done
}

func traceCall[T any](w *traceWorker, fn func() (T, error)) (T, error) {
	resp := make(chan traceResult, 1)
	w.req <- traceReq{
		run:  func() (any, error) { v, err := fn(); return v, err },
		resp: resp,
	}
	r := <-resp
	if r.err != nil {
		var zero T
		return zero, r.err
	}
	return r.v.(T), nil
}

func traceCallErr(w *traceWorker, fn func() error) error {
	_, err := traceCall(w, func() (struct{}, error) {
		if err := fn(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	return err
}
