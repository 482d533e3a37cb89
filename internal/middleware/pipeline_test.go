package middleware

import (
	"errors"
	"testing"
	"time"
)

type testReq struct {
	trail []string
}

type testResp struct {
	trail []string
	err   error
}

func runTerminal(ok bool) Terminal[*testReq, *testResp] {
	return func(req *testReq, resp *testResp, done func(error)) {
		if !ok {
			done(errors.New("terminal failed"))
			return
		}
		done(nil)
	}
}

func TestPipelineRunsForwardThenReverseInOrder(t *testing.T) {
	p := New[*testReq, *testResp, any](nil)
	var order []string

	for _, name := range []string{"a", "b", "c"} {
		name := name
		p.Use(func(req *testReq, resp *testResp, next NextFunc) {
			order = append(order, "fwd:"+name)
			next(nil, func(err error, prev PrevFunc) {
				order = append(order, "rev:"+name)
				prev(err)
			})
		})
	}

	req, resp := &testReq{}, &testResp{}
	err := p.Run(req, resp, runTerminal(true))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"fwd:a", "fwd:b", "fwd:c", "rev:c", "rev:b", "rev:a"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestPipelineErrorInForwardStopsAndUnwinds(t *testing.T) {
	p := New[*testReq, *testResp, any](nil)
	var ran []string
	boom := errors.New("boom")

	p.Use(func(req *testReq, resp *testResp, next NextFunc) {
		ran = append(ran, "a-fwd")
		next(nil, func(err error, prev PrevFunc) {
			ran = append(ran, "a-rev")
			prev(err)
		})
	})
	p.Use(func(req *testReq, resp *testResp, next NextFunc) {
		ran = append(ran, "b-fwd")
		next(boom, func(err error, prev PrevFunc) {
			ran = append(ran, "b-rev")
			prev(err)
		})
	})
	p.Use(func(req *testReq, resp *testResp, next NextFunc) {
		ran = append(ran, "c-fwd")
		next(nil, nil)
	})

	err := p.Run(&testReq{}, &testResp{}, func(req *testReq, resp *testResp, done func(error)) {
		ran = append(ran, "terminal")
		done(nil)
	})

	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
	for _, name := range []string{"c-fwd", "terminal"} {
		for _, r := range ran {
			if r == name {
				t.Fatalf("%s should not have run, got %v", name, ran)
			}
		}
	}
	want := []string{"a-fwd", "b-fwd", "b-rev", "a-rev"}
	if len(ran) != len(want) {
		t.Fatalf("got %v, want %v", ran, want)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Fatalf("got %v, want %v", ran, want)
		}
	}
}

func TestPipelineReverseCanSwallowError(t *testing.T) {
	p := New[*testReq, *testResp, any](nil)
	boom := errors.New("boom")

	p.Use(func(req *testReq, resp *testResp, next NextFunc) {
		next(nil, func(err error, prev PrevFunc) {
			prev(nil) // swallow whatever error arrives here
		})
	})

	err := p.Run(&testReq{}, &testResp{}, func(req *testReq, resp *testResp, done func(error)) {
		done(boom)
	})
	if err != nil {
		t.Fatalf("expected swallowed error, got %v", err)
	}
}

func TestPipelineNoHandlersRunsTerminalDirectly(t *testing.T) {
	p := New[*testReq, *testResp, any](nil)
	err := p.Run(&testReq{}, &testResp{}, runTerminal(true))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPipelinePromiseStyleHandler(t *testing.T) {
	p := New[*testReq, *testResp, any](nil)
	reverseRan := make(chan struct{}, 1)

	p.Use(FromPromise(func(req *testReq, resp *testResp) <-chan PromiseResult {
		ch := make(chan PromiseResult, 1)
		go func() {
			time.Sleep(time.Millisecond)
			ch <- PromiseResult{OnReverse: func(err error, prev PrevFunc) {
				reverseRan <- struct{}{}
				prev(err)
			}}
		}()
		return ch
	}))

	err := p.Run(&testReq{}, &testResp{}, runTerminal(true))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case <-reverseRan:
	case <-time.After(time.Second):
		t.Fatal("expected onReverse to have run")
	}
}

func TestPipelineUseFactoryInvokedOnceWithOwner(t *testing.T) {
	type owner struct{ name string }
	o := &owner{name: "srv"}
	p := New[*testReq, *testResp, *owner](o)

	invocations := 0
	var seenOwner *owner
	p.UseFactory(func(ow *owner) Handler[*testReq, *testResp] {
		invocations++
		seenOwner = ow
		return func(req *testReq, resp *testResp, next NextFunc) {
			next(nil, nil)
		}
	})

	if err := p.Run(&testReq{}, &testResp{}, runTerminal(true)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if invocations != 1 {
		t.Errorf("got %d factory invocations, want 1", invocations)
	}
	if seenOwner != o {
		t.Error("expected factory to receive the pipeline's owner")
	}
}

func TestPipelineUsePanicsWhileRunning(t *testing.T) {
	p := New[*testReq, *testResp, any](nil)
	p.Use(func(req *testReq, resp *testResp, next NextFunc) {
		func() {
			defer func() {
				if r := recover(); r == nil {
					t.Error("expected Use during dispatch to panic")
				}
			}()
			p.Use(func(req *testReq, resp *testResp, next NextFunc) { next(nil, nil) })
		}()
		next(nil, nil)
	})
	_ = p.Run(&testReq{}, &testResp{}, runTerminal(true))
}
