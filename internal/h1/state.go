package h1

import (
	"fmt"
	"net/http"

	"example.com/h1conn/internal/logger"
	"example.com/h1conn/internal/upgrade"
)

// reading is the read half of the connection state.
type reading interface {
	isReading()
	String() string
}

type (
	readInit      struct{}
	readContinue  struct{ dec *Decoder }
	readBody      struct{ dec *Decoder }
	readKeepAlive struct{}
	readClosed    struct{}
)

func (readInit) isReading()      {}
func (readContinue) isReading()  {}
func (readBody) isReading()      {}
func (readKeepAlive) isReading() {}
func (readClosed) isReading()    {}

func (readInit) String() string       { return "Init" }
func (r readContinue) String() string { return fmt.Sprintf("Continue(%s)", r.dec) }
func (r readBody) String() string     { return fmt.Sprintf("Body(%s)", r.dec) }
func (readKeepAlive) String() string  { return "KeepAlive" }
func (readClosed) String() string     { return "Closed" }

// writing is the write half of the connection state.
type writing interface {
	isWriting()
	String() string
}

type (
	writeInit      struct{}
	writeBody      struct{ enc *Encoder }
	writeKeepAlive struct{}
	writeClosed    struct{}
)

func (writeInit) isWriting()      {}
func (writeBody) isWriting()      {}
func (writeKeepAlive) isWriting() {}
func (writeClosed) isWriting()    {}

func (writeInit) String() string      { return "Init" }
func (w writeBody) String() string    { return fmt.Sprintf("Body(%s)", w.enc) }
func (writeKeepAlive) String() string { return "KeepAlive" }
func (writeClosed) String() string    { return "Closed" }

// keepAlive tracks whether the connection may be reused.
type keepAlive uint8

const (
	kaBusy keepAlive = iota
	kaIdle
	kaDisabled
)

func (k keepAlive) String() string {
	switch k {
	case kaIdle:
		return "Idle"
	case kaDisabled:
		return "Disabled"
	default:
		return "Busy"
	}
}

// and folds a keep-alive hint in: any false disables reuse for good.
func (k *keepAlive) and(enable bool) {
	if !enable {
		*k = kaDisabled
	}
}

func (k *keepAlive) busy() {
	if *k != kaDisabled {
		*k = kaBusy
	}
}

// state is the Connection State. Only Conn mutates it.
type state struct {
	role               Role
	allowHalfClose     bool
	allowTrailerFields bool
	cachedHeaders      http.Header
	err                error
	keepAlive          keepAlive
	method             string
	notifyRead         bool
	reading            reading
	writing            writing
	upgrade            *upgrade.Pending
	version            Version
	trailers           http.Header

	log *logger.Logger
	// onTransactionEnd runs once per transaction when it finishes, either
	// by going idle or by the connection closing.
	onTransactionEnd func(reused bool)
}

func newState(role Role, lg *logger.Logger, opts Options) state {
	s := state{
		role:           role,
		allowHalfClose: opts.AllowHalfClose,
		keepAlive:      kaBusy,
		reading:        readInit{},
		writing:        writeInit{},
		version:        HTTP11,
		log:            lg,
	}
	if !opts.KeepAlive {
		s.keepAlive = kaDisabled
	}
	return s
}

func (s *state) String() string {
	return fmt.Sprintf("State{reading: %s, writing: %s, keep_alive: %s}", s.reading, s.writing, s.keepAlive)
}

func (s *state) debug(msg string) {
	if !s.log.DebugEnabled() {
		return
	}
	s.log.Debug(msg, logger.LogFields{
		"role":       s.role.Name(),
		"reading":    s.reading.String(),
		"writing":    s.writing.String(),
		"keep_alive": s.keepAlive.String(),
	})
}

func (s *state) endTransaction(reused bool) {
	if s.onTransactionEnd != nil {
		s.onTransactionEnd(reused)
	}
}

func (s *state) close() {
	s.reading = readClosed{}
	s.writing = writeClosed{}
	s.keepAlive = kaDisabled
	s.debug("connection closed")
	s.endTransaction(false)
}

func (s *state) closeRead() {
	s.reading = readClosed{}
	s.keepAlive = kaDisabled
	s.debug("read side closed")
}

func (s *state) closeWrite() {
	s.writing = writeClosed{}
	s.keepAlive = kaDisabled
	s.debug("write side closed")
}

func (s *state) wantsKeepAlive() bool {
	return s.keepAlive != kaDisabled
}

// tryKeepAlive goes idle when both halves finished a reusable message, and
// closes when one half finished and the other can no longer continue.
func (s *state) tryKeepAlive() {
	_, rKA := s.reading.(readKeepAlive)
	_, wKA := s.writing.(writeKeepAlive)
	_, rClosed := s.reading.(readClosed)
	_, wClosed := s.writing.(writeClosed)
	switch {
	case rKA && wKA:
		if s.keepAlive == kaBusy {
			s.idle()
		} else {
			s.close()
		}
	case (rClosed && wKA) || (rKA && wClosed):
		s.close()
	case rClosed && wClosed:
		s.endTransaction(false)
	}
}

func (s *state) disableKeepAlive() {
	s.keepAlive = kaDisabled
}

func (s *state) busy() {
	s.keepAlive.busy()
}

func (s *state) idle() {
	if s.isIdle() {
		panic("h1: idle transition while already idle")
	}
	s.method = ""
	s.keepAlive = kaIdle
	s.reading = readInit{}
	s.writing = writeInit{}
	if !s.role.ShouldReadFirst() {
		s.notifyRead = true
	}
	s.debug("connection idle")
	s.endTransaction(true)
}

func (s *state) isIdle() bool {
	return s.keepAlive == kaIdle
}

func (s *state) isReadClosed() bool {
	_, ok := s.reading.(readClosed)
	return ok
}

func (s *state) isWriteClosed() bool {
	_, ok := s.writing.(writeClosed)
	return ok
}

func (s *state) prepareUpgrade() *upgrade.OnUpgrade {
	pending, on := upgrade.NewPending()
	s.upgrade = pending
	return on
}
