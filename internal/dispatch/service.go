// Package dispatch binds operations (a contract plus a handler) into an
// immutable registry and executes the request lifecycle:
// decode → validate → invoke → encode.
package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"modelgate/internal/audit"
	"modelgate/internal/codec"
	"modelgate/internal/contract"
	"modelgate/internal/ctx"
	"modelgate/internal/runner"
	"modelgate/internal/state"
)

// Handler consumes the decoded input value and returns the output value.
type Handler func(c *ctx.Context, in codec.Value) (codec.Value, error)

// MultiHandler receives multipart fields as positional arguments, ordered by
// the endpoint's declared parameter names. Binding is by name: the declared
// parameter order may differ from the contract's field order.
type MultiHandler func(c *ctx.Context, args []codec.Value) (codec.Value, error)

// StreamHandler returns a live chunk stream instead of a single value.
type StreamHandler func(c *ctx.Context, in codec.Value) (*runner.Stream, error)

// Hook runs at service startup or shutdown against the shared state bag.
type Hook func(hctx context.Context, bag *state.Bag) error

// Endpoint declares one operation. Exactly one of Handler, Multi or Stream
// must be set.
type Endpoint struct {
	Name     string
	Contract *contract.Contract
	Handler  Handler
	Multi    MultiHandler
	Stream   StreamHandler
	// Params are the handler's declared parameter names for a multipart
	// input contract. Resolved against field names once at registration.
	Params []string
}

// Service is the operation registry plus the service-scoped shared state.
// The registry is built at assembly time and immutable once serving starts.
type Service struct {
	name      string
	log       *zap.SugaredLogger
	bag       *state.Bag
	endpoints map[string]*Endpoint
	order     []string
	startup   []Hook
	shutdown  []Hook
	recorder  *audit.Recorder
}

func NewService(name string, log *zap.SugaredLogger) *Service {
	return &Service{
		name:      name,
		log:       log,
		bag:       state.NewBag(),
		endpoints: map[string]*Endpoint{},
	}
}

func (s *Service) Name() string      { return s.name }
func (s *Service) State() *state.Bag { return s.bag }

// SetAuditRecorder attaches an optional per-request outcome recorder.
func (s *Service) SetAuditRecorder(r *audit.Recorder) { s.recorder = r }

// Operations lists registered operation names in registration order.
func (s *Service) Operations() []string {
	return append([]string(nil), s.order...)
}

// Register adds one operation. Assembly failures (duplicate names, handler
// shape, unbindable multipart parameters) surface here, never per request.
func (s *Service) Register(ep Endpoint) error {
	if ep.Name == "" {
		return fmt.Errorf("operation name is required")
	}
	if _, dup := s.endpoints[ep.Name]; dup {
		return fmt.Errorf("duplicate operation %q", ep.Name)
	}
	if ep.Contract == nil {
		return fmt.Errorf("operation %q has no contract", ep.Name)
	}
	n := 0
	if ep.Handler != nil {
		n++
	}
	if ep.Multi != nil {
		n++
	}
	if ep.Stream != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("operation %q must declare exactly one handler", ep.Name)
	}
	if ep.Multi != nil {
		if err := bindParams(&ep); err != nil {
			return fmt.Errorf("operation %q: %w", ep.Name, err)
		}
	}
	cp := ep
	s.endpoints[ep.Name] = &cp
	s.order = append(s.order, ep.Name)
	return nil
}

// bindParams resolves parameter-to-field binding by name lookup once per
// contract. Every declared parameter must name an input field, and every
// required field must have a matching parameter.
func bindParams(ep *Endpoint) error {
	mp, ok := ep.Contract.Input().(*codec.Multipart)
	if !ok {
		return fmt.Errorf("positional parameters need a multipart input contract")
	}
	fields := map[string]bool{}
	for _, name := range mp.FieldNames() {
		fields[name] = false
	}
	if len(ep.Params) != len(fields) {
		return fmt.Errorf("declared %d parameters for %d fields", len(ep.Params), len(fields))
	}
	for _, p := range ep.Params {
		used, exists := fields[p]
		if !exists {
			return fmt.Errorf("parameter %q has no matching field", p)
		}
		if used {
			return fmt.Errorf("parameter %q declared twice", p)
		}
		fields[p] = true
	}
	return nil
}

func (s *Service) OnStartup(h Hook)  { s.startup = append(s.startup, h) }
func (s *Service) OnShutdown(h Hook) { s.shutdown = append(s.shutdown, h) }

// Startup runs the startup hooks exactly once before any request is
// dispatched. A hook failure is fatal to service start.
func (s *Service) Startup(hctx context.Context) error {
	for _, h := range s.startup {
		if err := h(hctx, s.bag); err != nil {
			return fmt.Errorf("startup hook failed: %w", err)
		}
	}
	return nil
}

// Shutdown runs the shutdown hooks after the last in-flight request
// completes. Hook failures are logged, never escalated.
func (s *Service) Shutdown(hctx context.Context) {
	for _, h := range s.shutdown {
		if err := h(hctx, s.bag); err != nil {
			s.log.Errorw("shutdown hook failed", "service", s.name, "error", err.Error())
		}
	}
	if s.recorder != nil {
		s.recorder.Shutdown()
	}
}
