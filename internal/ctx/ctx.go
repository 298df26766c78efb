// Package ctx
package ctx

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"modelgate/internal/state"
)

// ContextLogValues should only be accessed for logging, and not for
// actual business logic, or any other logic
type ContextLogValues struct {
	// Added in base middleware
	RequestID       string
	StartTime       time.Time
	StatusCode      int
	RequestDuration time.Duration
	Path            string

	// Added by the dispatcher
	Operation string
	Phase     string

	// Override log Log Level
	// useful for streaming where status code might be sent before errors from
	// mid-stream or post processing occur
	LogLevel string

	// Added dynamically
	Error error
}

// AddError adds errors to the error chain. Always add errors, even if only warnings.
// Log level is determined by the status code of the request
func (c *ContextLogValues) AddError(err error) {
	if c.Error == nil {
		c.Error = err
		return
	}
	c.Error = fmt.Errorf("%w: %w", err, c.Error)
}

func (c *ContextLogValues) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("request_id", c.RequestID)
	enc.AddTime("start_time", c.StartTime)
	enc.AddDuration("request_duration", c.RequestDuration)
	enc.AddInt("status_code", c.StatusCode)
	if c.Operation != "" {
		enc.AddString("operation", c.Operation)
	}
	if c.Phase != "" {
		enc.AddString("phase", c.Phase)
	}
	if c.Error != nil {
		enc.AddString("error", c.Error.Error())
	}
	enc.AddString("path", c.Path)
	return nil
}

// Context wraps the transport context for one request: a logger, the request
// id, a response-status override, a request-scoped key-value store, and a
// reference to the service-scoped shared state bag.
type Context struct {
	echo.Context
	Log       *zap.SugaredLogger
	Reqid     string
	LogValues *ContextLogValues
	Shared    *state.Bag

	status int
	local  map[string]any
}

func New(c echo.Context, log *zap.SugaredLogger, reqid string, shared *state.Bag) *Context {
	return &Context{
		Context: c,
		Log:     log,
		Reqid:   reqid,
		Shared:  shared,
		LogValues: &ContextLogValues{
			RequestID: reqid,
			StartTime: time.Now(),
			Path:      c.Path(),
		},
	}
}

// SetStatus overrides the response status. A non-default status set by
// handler code wins over whatever the encode step would assign on success.
func (c *Context) SetStatus(code int) {
	c.status = code
}

// Status returns the response status, defaulting to 200.
func (c *Context) Status() int {
	if c.status == 0 {
		return 200
	}
	return c.status
}

// SetLocal stores a request-scoped entry. Entries are never visible to
// another request and are destroyed with the request.
func (c *Context) SetLocal(key string, value any) {
	if c.local == nil {
		c.local = map[string]any{}
	}
	c.local[key] = value
}

func (c *Context) Local(key string) (any, bool) {
	v, ok := c.local[key]
	return v, ok
}
