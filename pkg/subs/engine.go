package subs

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chattyapp/chatty-server/pkg/bus"
	"github.com/chattyapp/chatty-server/pkg/observability/prometheus"
	"github.com/chattyapp/chatty-server/pkg/schema"
	"github.com/chattyapp/chatty-server/pkg/wsproto"
)

// Engine orchestrates subscription lifecycle: it resolves start requests
// against the schema definitions, installs filtered bus handlers that
// project matching events into data frames, and tears handlers down on
// stop and disconnect.
//
// Engine implements wsproto.SubscriptionHandler. The connection manager
// invokes it serially per connection.
type Engine struct {
	defs schema.Definitions
	bus  bus.Subscriber
	reg  *Registry
	log  zerolog.Logger
}

// NewEngine creates an engine over the given definitions and bus
// subscriber capability.
func NewEngine(defs schema.Definitions, b bus.Subscriber, log zerolog.Logger) *Engine {
	return &Engine{
		defs: defs,
		bus:  b,
		reg:  NewRegistry(),
		log:  log.With().Str("component", "engine").Logger(),
	}
}

// InstanceCount reports the number of registered instances.
func (e *Engine) InstanceCount() int { return e.reg.Count() }

// OnStart validates the start request, resolves the filter table, and
// installs one bus handler per topic. Failures surface as an error frame
// bearing the subscription id and install nothing.
func (e *Engine) OnStart(c wsproto.Client, subID string, start wsproto.StartPayload) {
	name, err := schema.SubscriptionName(start.Query)
	if err != nil {
		e.fail(c, subID, wsproto.CodeInvalidOperation, "operation must be a single subscription selection")
		return
	}
	def, ok := e.defs.Lookup(name)
	if !ok {
		e.fail(c, subID, wsproto.CodeUnknownSubscription, "unknown subscription: "+name)
		return
	}
	vars := schema.Variables(start.Variables)
	if err := def.Validate(vars); err != nil {
		e.fail(c, subID, wsproto.CodeValidationError, err.Error())
		return
	}

	filters, err := e.setup(def, vars)
	if err != nil {
		e.fail(c, subID, wsproto.CodeInternalError, err.Error())
		return
	}

	inst := &Instance{ConnID: c.ID(), SubID: subID, Name: name}
	if err := e.reg.Insert(inst); err != nil {
		var serr *Error
		if errors.As(err, &serr) {
			e.fail(c, subID, serr.Code, serr.Message)
		} else {
			e.fail(c, subID, wsproto.CodeInternalError, err.Error())
		}
		return
	}

	tokens := make([]bus.Token, 0, len(filters))
	for topic, filter := range filters {
		tok, err := e.bus.Subscribe(topic, e.makeHandler(c, inst, def, filter))
		if err != nil {
			// undeclared topic in a definition is a wiring bug
			for _, t := range tokens {
				e.bus.Unsubscribe(t)
			}
			e.reg.Remove(inst.ConnID, inst.SubID)
			e.fail(c, subID, wsproto.CodeInternalError, err.Error())
			return
		}
		tokens = append(tokens, tok)
	}
	inst.handlers = tokens
	inst.activate()
	prometheus.GetMetrics().ActiveSubscriptions.Inc()
	e.log.Debug().Str("conn_id", c.ID()).Str("sub_id", subID).Str("name", name).Msg("subscription started")
}

// makeHandler builds the per-topic bus handler: evaluate the filter, and
// on match project and enqueue a data frame through the instance's
// delivery gate.
func (e *Engine) makeHandler(c wsproto.Client, inst *Instance, def *schema.Definition, filter schema.Filter) bus.Handler {
	return func(payload interface{}) {
		p, ok := payload.(schema.Payload)
		if !ok {
			e.log.Error().Str("name", def.Name).Msgf("unexpected payload type %T", payload)
			return
		}
		match, err := e.evalFilter(filter, p)
		if err != nil {
			// a panicking filter is a drop, never a broken publish
			e.log.Error().Err(err).Str("sub_id", inst.SubID).Msg("filter panicked, event dropped")
			return
		}
		if !match {
			return
		}
		out, err := e.project(def, p)
		if err != nil {
			e.log.Error().Err(err).Str("sub_id", inst.SubID).Msg("projection panicked, event dropped")
			e.fail(c, inst.SubID, wsproto.CodeInternalError, "projection failed")
			return
		}
		frame, err := wsproto.DataFrame(inst.SubID, out)
		if err != nil {
			e.log.Error().Err(err).Str("sub_id", inst.SubID).Msg("payload marshal failed, event dropped")
			return
		}
		inst.deliver(func() {
			c.Enqueue(frame)
		})
	}
}

// OnStop detaches the subscription's handlers and emits the complete
// frame. A stop for an unknown id is silently ignored.
func (e *Engine) OnStop(c wsproto.Client, subID string) {
	inst := e.reg.Remove(c.ID(), subID)
	if inst == nil {
		return
	}
	// the complete frame is enqueued under the delivery gate, after the
	// last data frame and before any handler detaches
	inst.stop(func() {
		c.Enqueue(wsproto.CompleteFrame(subID))
	})
	e.detach(inst)
	e.log.Debug().Str("conn_id", c.ID()).Str("sub_id", subID).Msg("subscription stopped")
}

// OnDisconnect tears down every instance of the connection. No frames are
// emitted.
func (e *Engine) OnDisconnect(connID string) {
	instances := e.reg.RemoveAll(connID)
	for _, inst := range instances {
		inst.stop(nil)
		e.detach(inst)
	}
	if len(instances) > 0 {
		e.log.Debug().Str("conn_id", connID).Int("subscriptions", len(instances)).Msg("connection subscriptions torn down")
	}
}

func (e *Engine) detach(inst *Instance) {
	for _, tok := range inst.terminate() {
		e.bus.Unsubscribe(tok)
	}
	prometheus.GetMetrics().ActiveSubscriptions.Dec()
}

// fail emits a per-subscription error frame.
func (e *Engine) fail(c wsproto.Client, subID, code, message string) {
	prometheus.GetMetrics().SubscriptionErrors.WithLabelValues(code).Inc()
	e.log.Warn().Str("conn_id", c.ID()).Str("sub_id", subID).Str("code", code).Str("reason", message).Msg("subscription error")
	c.Enqueue(wsproto.ErrorFrame(subID, code, message))
}

// setup invokes the definition's setup, converting a panic into an error.
func (e *Engine) setup(def *schema.Definition, vars schema.Variables) (filters map[string]schema.Filter, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("setup panicked: %v", r)
		}
	}()
	return def.Setup(vars)
}

func (e *Engine) evalFilter(filter schema.Filter, p schema.Payload) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("filter panicked: %v", r)
		}
	}()
	return filter(p), nil
}

func (e *Engine) project(def *schema.Definition, p schema.Payload) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("projection panicked: %v", r)
		}
	}()
	return def.Projection(p), nil
}
