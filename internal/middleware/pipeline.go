// Package middleware implements the forward/reverse handler chain that
// wraps every call: a sequence of handlers may observe and mutate the
// request on the way in, then observe and mutate the response on the way
// back out, in exactly the reverse order, before a terminal handler does
// the actual work in between.
package middleware

import "sync"

// PrevFunc sequences control back toward the caller from inside a
// reverse-phase callback. It must be invoked exactly once.
type PrevFunc func(err error)

// ReverseFunc is registered by a handler (via NextFunc's onReverse
// argument) to run when the reverse phase rewinds through that
// handler's frame. It receives the error carried into this point of the
// unwind (nil if none) and must call prev exactly once — either with the
// same error, a replacement, or nil to swallow it.
type ReverseFunc func(err error, prev PrevFunc)

// NextFunc advances the forward phase. Calling it with a non-nil err
// stops forward progression at this frame; the reverse phase then
// unwinds starting from this frame. onReverse, if non-nil, is invoked at
// the corresponding point of the reverse phase regardless of whether err
// was supplied.
type NextFunc func(err error, onReverse ReverseFunc)

// Handler is one link in the chain. It may mutate req/resp before
// calling next. Both callback style (call next and return, registering
// onReverse for any "after" work) and promise style (see FromPromise)
// compile down to this same shape.
type Handler[Req, Resp any] func(req Req, resp Resp, next NextFunc)

// Terminal is the work that happens once every handler has called next
// without error: on a client, write the request and await the response;
// on a server, run the user's message handler. done reports the
// terminal's own outcome, which seeds the reverse phase.
type Terminal[Req, Resp any] func(req Req, resp Resp, done func(error))

// PromiseResult is what a promise-style handler delivers once its
// returned channel resolves.
type PromiseResult struct {
	Err       error
	OnReverse ReverseFunc
}

// FromPromise adapts a promise-style handler — one that returns a
// channel instead of calling next directly — into a Handler. The
// pipeline waits for the channel to resolve before proceeding, exactly
// as it would wait for a rejected or resolved thenable; the channel may
// resolve before or after any registered ReverseFunc actually runs, since
// those are independent events.
func FromPromise[Req, Resp any](fn func(req Req, resp Resp) <-chan PromiseResult) Handler[Req, Resp] {
	return func(req Req, resp Resp, next NextFunc) {
		ch := fn(req, resp)
		go func() {
			res := <-ch
			next(res.Err, res.OnReverse)
		}()
	}
}

// Pipeline runs a fixed, append-only sequence of Handlers around a
// Terminal. Owner is the Client or Server a dynamic Handler factory is
// invoked with (Factory is invoked once, at registration time, and must
// return the actual Handler — there is no Go equivalent of inspecting a
// JS function's arity, so the "dynamic vs. static" distinction is simply
// whether the caller uses Use or UseFactory).
type Pipeline[Req, Resp, Owner any] struct {
	mu       sync.Mutex
	handlers []Handler[Req, Resp]
	owner    Owner
	running  bool
}

// New builds an empty Pipeline bound to owner, which is handed to any
// handler registered via UseFactory.
func New[Req, Resp, Owner any](owner Owner) *Pipeline[Req, Resp, Owner] {
	return &Pipeline[Req, Resp, Owner]{owner: owner}
}

// Use appends a static handler. Panics if a call is currently
// dispatching, matching the invariant that the handler list is
// append-only during normal operation and closed to mutation mid-call.
func (p *Pipeline[Req, Resp, Owner]) Use(h Handler[Req, Resp]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		panic("middleware: Use called while a call is dispatching")
	}
	p.handlers = append(p.handlers, h)
}

// UseFactory invokes factory once, immediately, with the owning
// Client/Server, and appends the Handler it returns.
func (p *Pipeline[Req, Resp, Owner]) UseFactory(factory func(Owner) Handler[Req, Resp]) {
	p.Use(factory(p.owner))
}

// Len reports the number of registered handlers.
func (p *Pipeline[Req, Resp, Owner]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

type frameState struct {
	onReverse ReverseFunc
}

// Run drives req/resp through every handler's forward phase, the
// terminal, and then the reverse phase, blocking until the whole chain
// has unwound. It returns the final error, if any, after every
// registered reverse callback has had a chance to observe or swallow it.
func (p *Pipeline[Req, Resp, Owner]) Run(req Req, resp Resp, terminal Terminal[Req, Resp]) error {
	p.mu.Lock()
	p.running = true
	handlers := p.handlers
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	done := make(chan error, 1)

	var framesMu sync.Mutex
	frames := make([]frameState, 0, len(handlers))

	var reverse func(i int, err error)
	reverse = func(i int, err error) {
		if i < 0 {
			done <- err
			return
		}
		framesMu.Lock()
		fr := frames[i]
		framesMu.Unlock()
		if fr.onReverse == nil {
			reverse(i-1, err)
			return
		}
		fr.onReverse(err, func(perr error) {
			reverse(i-1, perr)
		})
	}

	var forward func(i int)
	forward = func(i int) {
		if i >= len(handlers) {
			terminal(req, resp, func(err error) {
				reverse(len(handlers)-1, err)
			})
			return
		}
		handlers[i](req, resp, func(err error, onReverse ReverseFunc) {
			framesMu.Lock()
			frames = append(frames, frameState{onReverse: onReverse})
			framesMu.Unlock()
			if err != nil {
				reverse(i, err)
				return
			}
			forward(i + 1)
		})
	}

	if len(handlers) == 0 {
		terminal(req, resp, func(err error) { done <- err })
	} else {
		forward(0)
	}

	return <-done
}
