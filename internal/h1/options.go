package h1

import (
	"fmt"
	"net/http"
	"time"

	"example.com/h1conn/internal/config"
)

// Options configures a Conn. The zero value of each field means "use the
// default", except for the booleans; start from DefaultOptions.
type Options struct {
	// AllowHalfClose keeps the read side open after the peer stops sending
	// while a response is still being written.
	AllowHalfClose   bool
	KeepAlive        bool
	TitleCaseHeaders bool
	DateHeader       bool
	MaxBufSize       int
	// ReadBufExactSize fixes every read at this size instead of growing
	// adaptively.
	ReadBufExactSize int
	WriteStrategy    WriteStrategy
	MaxHeaders       int
	// Now supplies the Date header value. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the settings a Conn uses when nothing is configured.
func DefaultOptions() Options {
	return Options{
		KeepAlive:  true,
		DateHeader: true,
		MaxBufSize: DefaultMaxBufferSize,
		MaxHeaders: 100,
	}
}

func (o Options) normalize() Options {
	if o.MaxBufSize == 0 {
		o.MaxBufSize = DefaultMaxBufferSize
	}
	if o.MaxBufSize < MinBufferSize {
		panic(fmt.Sprintf("h1: max buffer size %d is below the minimum of %d", o.MaxBufSize, MinBufferSize))
	}
	if o.MaxHeaders == 0 {
		o.MaxHeaders = 100
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) httpDate() string {
	return o.Now().UTC().Format(http.TimeFormat)
}

// OptionsFromConfig converts a defaulted and validated HTTP1Config.
func OptionsFromConfig(c *config.HTTP1Config) (Options, error) {
	opts := DefaultOptions()
	if c == nil {
		return opts, nil
	}
	if c.AllowHalfClose != nil {
		opts.AllowHalfClose = *c.AllowHalfClose
	}
	if c.KeepAlive != nil {
		opts.KeepAlive = *c.KeepAlive
	}
	if c.TitleCaseHeaders != nil {
		opts.TitleCaseHeaders = *c.TitleCaseHeaders
	}
	if c.DateHeader != nil {
		opts.DateHeader = *c.DateHeader
	}
	if c.MaxBufSize != nil {
		n, err := c.MaxBufSizeBytes()
		if err != nil {
			return Options{}, err
		}
		if n < MinBufferSize {
			return Options{}, fmt.Errorf("http1.max_buf_size must be at least %d bytes, got %d", MinBufferSize, n)
		}
		opts.MaxBufSize = n
	}
	exact, err := c.ReadBufExactSizeBytes()
	if err != nil {
		return Options{}, err
	}
	opts.ReadBufExactSize = exact
	if c.WriteStrategy != nil {
		switch *c.WriteStrategy {
		case config.WriteStrategyFlatten:
			opts.WriteStrategy = WriteFlatten
		case config.WriteStrategyQueue:
			opts.WriteStrategy = WriteQueue
		default:
			return Options{}, fmt.Errorf("http1.write_strategy '%s' is not supported", *c.WriteStrategy)
		}
	}
	if c.MaxHeaders != nil {
		opts.MaxHeaders = *c.MaxHeaders
	}
	return opts, nil
}
