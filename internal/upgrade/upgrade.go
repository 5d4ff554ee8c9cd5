// Package upgrade hands the raw stream of an HTTP/1 connection to another
// protocol handler once a protocol switch has been agreed.
//
// The connection engine holds a Pending and fulfils it exactly once; the
// code that asked for the upgrade waits on the matching OnUpgrade.
package upgrade

import (
	"context"
	"errors"
	"io"
	"sync"
)

var (
	// ErrCanceled is returned when the connection gave up on the upgrade.
	ErrCanceled = errors.New("upgrade: canceled before the connection was handed over")
	// ErrManual is returned when the stream was claimed by the caller directly.
	ErrManual = errors.New("upgrade: handled manually")
	// ErrNoUpgrade is returned by an OnUpgrade that was never paired.
	ErrNoUpgrade = errors.New("upgrade: no upgrade available")
)

// Upgraded is the raw stream after an upgrade. Bytes the HTTP/1 engine had
// already buffered are returned by Read before anything new from the stream.
type Upgraded struct {
	rw       io.ReadWriter
	leftover []byte
}

// NewUpgraded wraps rw, replaying leftover first.
func NewUpgraded(rw io.ReadWriter, leftover []byte) *Upgraded {
	return &Upgraded{rw: rw, leftover: leftover}
}

func (u *Upgraded) Read(p []byte) (int, error) {
	if len(u.leftover) > 0 {
		n := copy(p, u.leftover)
		u.leftover = u.leftover[n:]
		return n, nil
	}
	return u.rw.Read(p)
}

func (u *Upgraded) Write(p []byte) (int, error) {
	return u.rw.Write(p)
}

// Close closes the underlying stream when it supports closing.
func (u *Upgraded) Close() error {
	if c, ok := u.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// IntoInner returns the underlying stream and any bytes not yet read.
func (u *Upgraded) IntoInner() (io.ReadWriter, []byte) {
	return u.rw, u.leftover
}

type result struct {
	up  *Upgraded
	err error
}

// Pending is the sending half of an upgrade handoff.
type Pending struct {
	once sync.Once
	ch   chan result
}

// OnUpgrade is the receiving half of an upgrade handoff.
type OnUpgrade struct {
	ch <-chan result
}

// NewPending returns a connected Pending / OnUpgrade pair.
func NewPending() (*Pending, *OnUpgrade) {
	ch := make(chan result, 1)
	return &Pending{ch: ch}, &OnUpgrade{ch: ch}
}

func (p *Pending) send(r result) bool {
	sent := false
	p.once.Do(func() {
		p.ch <- r
		sent = true
	})
	return sent
}

// Fulfill hands up to the waiting side. It reports false when the handoff
// already completed.
func (p *Pending) Fulfill(up *Upgraded) bool {
	return p.send(result{up: up})
}

// Manual tells the waiting side the stream was taken over some other way.
func (p *Pending) Manual() bool {
	return p.send(result{err: ErrManual})
}

// Fail completes the handoff with err, or ErrCanceled when err is nil.
func (p *Pending) Fail(err error) bool {
	if err == nil {
		err = ErrCanceled
	}
	return p.send(result{err: err})
}

// Wait blocks until the upgrade completes or ctx is done.
func (o *OnUpgrade) Wait(ctx context.Context) (*Upgraded, error) {
	if o == nil || o.ch == nil {
		return nil, ErrNoUpgrade
	}
	select {
	case r := <-o.ch:
		return r.up, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
