// Package protocol implements the command/response state machine driving one
// instrument over a single logical connection. The machine is table-driven:
// (state, event) pairs map to handlers, states carry enter/exit hooks for
// scheduled-job bookkeeping, and at most one command/response transaction is
// in flight at a time. The instrument dialect (commands, prompts, frame
// matchers, parameter catalog) is supplied as a Profile; the machine itself
// is instrument-agnostic.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"reflect"
	"time"

	"github.com/marhydro/oceandrv/chunker"
	"github.com/marhydro/oceandrv/record"
	"github.com/marhydro/oceandrv/sample"
)

// Scheduler registers recurring driver jobs. Unschedule of an unknown job is
// a no-op.
type Scheduler interface {
	Schedule(id string, every time.Duration, fn func())
	Unschedule(id string)
}

// Engineering parameters handled by the driver rather than the device. Their
// values are intervals; zero disables the job.
const (
	ParamClockSyncInterval     = "clock_sync_interval"
	ParamAcquireStatusInterval = "acquire_status_interval"
)

// Scheduled job ids.
const (
	jobClockSync     = "clock_sync"
	jobAcquireStatus = "acquire_status"
)

// Constraint bounds a numeric parameter before it is written to the device.
type Constraint struct {
	Min int
	Max int
}

// Profile is the instrument dialect: everything the generic machine needs to
// speak one instrument family.
type Profile struct {
	Name string

	// Frame recognition and outward decoding. Decode may return no
	// records for frames that are protocol traffic rather than data, and
	// more than one when a frame carries several logical responses.
	Matchers []chunker.Matcher
	Decode   func(ch chunker.Chunk) ([]*sample.Record, error)

	// Parameter catalog and device configuration write/read.
	Config         *record.Config
	Constraints    map[string]Constraint
	BuildConfigure func(raw []byte) Command
	ReadConfig     Command
	ParseConfig    func(resp Response) (*record.Config, error)
	// Some firmware revisions only latch a configuration when it arrives
	// twice within a short window.
	DoubleSendConfigure bool
	ConfigureDelay      time.Duration

	// Result prompts for configuration writes.
	Ack  []byte
	Nack []byte

	// Mode inquiry. The terse form only answers when the device is already
	// listening; the verbose form is the escalation after a timeout.
	AutosampleBreak []byte
	ModeTerse       Command
	ModeVerbose     Command
	ParseMode       func(resp Response) (int, error)
	ClassifyMode    func(mode int) (State, error)

	// Breaking out of measurement mode.
	SoftBreakFirst  []byte
	SoftBreakSecond Command
	ConfirmPrompt   []byte // device asks for confirmation before leaving
	Confirmation    Command

	StartMeasurement Command
	AcquireData      Command

	// Clock access. Offset compensates transmission latency; a readback
	// differing from host time by more than the tolerance is fatal.
	SetClock           func(t time.Time) Command
	ReadClock          Command
	ParseClock         func(resp Response) (time.Time, error)
	ClockSyncOffset    time.Duration
	ClockSyncTolerance time.Duration

	// Status is the acquire-status command sequence; the responses surface
	// as outward records through the frame matchers.
	Status []Command

	// Initial scheduled-job intervals.
	ClockSyncInterval     time.Duration
	AcquireStatusInterval time.Duration
}

// setRequest is the EventSet payload.
type setRequest struct {
	params  map[string]interface{}
	startup bool
}

// Machine is the protocol engine for one instrument connection.
type Machine struct {
	profile   Profile
	transport Transport
	scheduler Scheduler
	logger    *log.Logger

	fsm    *fsm
	resp   *responder
	frames *chunker.Chunker
	config *record.Config

	clockSyncEvery     time.Duration
	acquireStatusEvery time.Duration

	directSnapshot map[string]interface{}

	gate chan struct{} // single-flight transaction gate

	// Publish receives every outward sample record. OnStateChange and
	// OnConfigChange announce state transitions and effective parameter
	// changes; all three are optional. The state and config callbacks run
	// on the dispatching goroutine and must not call back into the machine.
	Publish        func(*sample.Record)
	OnStateChange  func(State)
	OnConfigChange func(map[string]interface{})
}

// New returns a Machine in the StateUnknown state.
func New(p Profile, t Transport, s Scheduler, logger *log.Logger) *Machine {
	if logger == nil {
		logger = log.Default()
	}
	m := &Machine{
		profile:            p,
		transport:          t,
		scheduler:          s,
		logger:             logger,
		resp:               newResponder(),
		frames:             chunker.New(0, p.Matchers...),
		config:             p.Config,
		clockSyncEvery:     p.ClockSyncInterval,
		acquireStatusEvery: p.AcquireStatusInterval,
		gate:               make(chan struct{}, 1),
	}
	m.gate <- struct{}{}

	f := newFSM(StateUnknown)
	f.handle(StateUnknown, EventDiscover, m.handlerDiscover)

	f.handle(StateCommand, EventSet, m.handlerCommandSet)
	f.handle(StateCommand, EventStartAutosample, m.handlerCommandStartAutosample)
	f.handle(StateCommand, EventClockSync, m.handlerCommandClockSync)
	f.handle(StateCommand, EventAcquireStatus, m.handlerCommandAcquireStatus)
	f.handle(StateCommand, EventAcquireSample, m.handlerCommandAcquireSample)
	f.handle(StateCommand, EventStartDirect, m.handlerStartDirect)

	f.handle(StateAutosample, EventStopAutosample, m.handlerAutosampleStop)
	f.handle(StateAutosample, EventClockSync, m.handlerAutosampleClockSync)
	f.handle(StateAutosample, EventAcquireStatus, m.handlerAutosampleAcquireStatus)
	f.handle(StateAutosample, EventStartDirect, m.handlerStartDirect)

	f.handle(StateDirectAccess, EventExecuteDirect, m.handlerExecuteDirect)
	f.handle(StateDirectAccess, EventStopDirect, m.handlerStopDirect)

	for _, st := range []State{StateUnknown, StateAcquiringSample, StateDirectAccess} {
		st := st
		f.onEnter[st] = func() { m.announce(st) }
	}
	for _, st := range []State{StateCommand, StateAutosample} {
		st := st
		f.onEnter[st] = func() {
			m.installJobs()
			m.announce(st)
		}
		f.onExit[st] = func() { m.removeJobs() }
	}
	m.fsm = f
	return m
}

func (m *Machine) announce(s State) {
	m.logger.Printf("%s: entered state %s", m.profile.Name, s)
	if m.OnStateChange != nil {
		m.OnStateChange(s)
	}
}

// dispatch serializes every event, manual or scheduled, through the
// single-flight gate so scheduled jobs never interleave bytes with an
// in-flight transaction.
func (m *Machine) dispatch(e Event, arg interface{}) (interface{}, error) {
	<-m.gate
	defer func() { m.gate <- struct{}{} }()
	return m.fsm.dispatch(e, arg)
}

// OnBytes feeds one transport read into the engine. It is the only receive
// path: bytes go to the in-flight transaction's response buffer and to the
// frame chunker, and every recognized frame is decoded and published.
func (m *Machine) OnBytes(raw []byte, at time.Time) {
	m.resp.feed(raw)
	m.frames.Add(raw, at)
	for {
		ch, ok := m.frames.Next()
		if !ok {
			return
		}
		if m.profile.Decode == nil {
			continue
		}
		recs, err := m.profile.Decode(ch)
		if err != nil {
			m.logger.Printf("%s: dropping frame: %v", m.profile.Name, err)
			continue
		}
		if m.Publish != nil {
			for _, rec := range recs {
				if rec != nil {
					m.Publish(rec)
				}
			}
		}
	}
}

// State reports the current protocol state.
func (m *Machine) State() State {
	<-m.gate
	defer func() { m.gate <- struct{}{} }()
	return m.fsm.state
}

// Config returns a snapshot copy of the parameter set. The live set mutates
// inside the transaction gate, so callers never get a shared reference.
func (m *Machine) Config() *record.Config {
	<-m.gate
	defer func() { m.gate <- struct{}{} }()
	return m.config.Clone()
}

// AllParams returns every parameter, engineering intervals included. The
// intervals appear in duration-string form, the same shape SetParams
// accepts.
func (m *Machine) AllParams() map[string]interface{} {
	<-m.gate
	defer func() { m.gate <- struct{}{} }()
	out := m.config.All()
	out[ParamClockSyncInterval] = m.clockSyncEvery.String()
	out[ParamAcquireStatusInterval] = m.acquireStatusEvery.String()
	return out
}

// Get reads one parameter, engineering intervals included.
func (m *Machine) Get(name string) (interface{}, error) {
	<-m.gate
	defer func() { m.gate <- struct{}{} }()
	switch name {
	case ParamClockSyncInterval:
		return m.clockSyncEvery, nil
	case ParamAcquireStatusInterval:
		return m.acquireStatusEvery, nil
	}
	return m.config.Get(name)
}

// Discover classifies the instrument's current mode and moves out of the
// StateUnknown state accordingly.
func (m *Machine) Discover() (State, error) {
	result, err := m.dispatch(EventDiscover, nil)
	if err != nil {
		return StateUnknown, err
	}
	return result.(State), nil
}

// SetParams writes parameters in a runtime context.
func (m *Machine) SetParams(params map[string]interface{}) error {
	_, err := m.dispatch(EventSet, setRequest{params: params})
	return err
}

// SetStartupParams writes parameters in a startup context, where immutable
// parameters are still settable.
func (m *Machine) SetStartupParams(params map[string]interface{}) error {
	_, err := m.dispatch(EventSet, setRequest{params: params, startup: true})
	return err
}

// StartAutosample puts the instrument into continuous measurement.
func (m *Machine) StartAutosample() error {
	_, err := m.dispatch(EventStartAutosample, nil)
	return err
}

// StopAutosample breaks the instrument out of continuous measurement.
func (m *Machine) StopAutosample() error {
	_, err := m.dispatch(EventStopAutosample, nil)
	return err
}

// SyncClock sets the device clock to host time and verifies the readback.
func (m *Machine) SyncClock() error {
	_, err := m.dispatch(EventClockSync, nil)
	return err
}

// AcquireStatus runs the full status command sequence; the responses surface
// as published records.
func (m *Machine) AcquireStatus() error {
	_, err := m.dispatch(EventAcquireStatus, nil)
	return err
}

// AcquireSample commands a single on-demand measurement.
func (m *Machine) AcquireSample() error {
	_, err := m.dispatch(EventAcquireSample, nil)
	return err
}

// StartDirect enters the pass-through state.
func (m *Machine) StartDirect() error {
	_, err := m.dispatch(EventStartDirect, nil)
	return err
}

// ExecuteDirect relays caller bytes to the device unmodified.
func (m *Machine) ExecuteDirect(data []byte) error {
	_, err := m.dispatch(EventExecuteDirect, data)
	return err
}

// StopDirect leaves pass-through: the device mode is re-discovered (it may
// have changed under us) and perturbed parameters are restored.
func (m *Machine) StopDirect() (State, error) {
	result, err := m.dispatch(EventStopDirect, nil)
	if err != nil {
		return StateUnknown, err
	}
	return result.(State), nil
}

////////////////////////////////////////////////////////////////////////
// Handlers.
////////////////////////////////////////////////////////////////////////

func (m *Machine) handlerDiscover(interface{}) (State, interface{}, error) {
	mode, err := m.readModeTwoTier()
	if err != nil {
		return m.fsm.state, nil, err
	}
	next, err := m.profile.ClassifyMode(mode)
	if err != nil {
		return m.fsm.state, nil, err
	}
	m.logger.Printf("%s: discovered mode %d, state %s", m.profile.Name, mode, next)
	if next == StateCommand {
		// The catalog defaults are not device truth; landing in command
		// mode re-hydrates the working set from the instrument.
		if rerr := m.refreshParams(); rerr != nil {
			return next, next, rerr
		}
	}
	return next, next, nil
}

// readModeTwoTier sends the terse mode inquiry first; when the device does
// not answer it in time, escalates to the verbose form.
func (m *Machine) readModeTwoTier() (int, error) {
	if err := m.transport.Send(m.profile.AutosampleBreak); err != nil {
		return 0, fmt.Errorf("send break: %w", err)
	}
	time.Sleep(breakSettle)

	resp, err := m.doCmdResp(m.profile.ModeTerse)
	if err != nil {
		var te *TimeoutError
		if !errors.As(err, &te) {
			return 0, err
		}
		m.logger.Printf("%s: no answer to %s, escalating to %s",
			m.profile.Name, m.profile.ModeTerse.Name, m.profile.ModeVerbose.Name)
		if resp, err = m.doCmdResp(m.profile.ModeVerbose); err != nil {
			return 0, err
		}
	}
	return m.profile.ParseMode(resp)
}

func (m *Machine) handlerCommandSet(arg interface{}) (State, interface{}, error) {
	req, ok := arg.(setRequest)
	if !ok {
		return StateCommand, nil, &ProtocolError{Op: "set", Detail: "set requires a parameter map"}
	}
	return StateCommand, nil, m.applyParams(req.params, req.startup)
}

func (m *Machine) handlerCommandStartAutosample(interface{}) (State, interface{}, error) {
	if err := m.startMeasurement(); err != nil {
		return StateCommand, nil, err
	}
	return StateAutosample, nil, nil
}

func (m *Machine) handlerCommandClockSync(interface{}) (State, interface{}, error) {
	return StateCommand, nil, m.clockSync()
}

func (m *Machine) handlerCommandAcquireStatus(interface{}) (State, interface{}, error) {
	return StateCommand, nil, m.acquireStatus()
}

// handlerCommandAcquireSample passes through the transient StateAcquiringSample
// state for the duration of the on-demand measurement.
func (m *Machine) handlerCommandAcquireSample(interface{}) (State, interface{}, error) {
	m.fsm.transition(StateAcquiringSample)
	_, err := m.doCmdResp(m.profile.AcquireData)
	return StateCommand, nil, err
}

func (m *Machine) handlerAutosampleStop(interface{}) (State, interface{}, error) {
	if err := m.stopMeasurement(); err != nil {
		return StateAutosample, nil, err
	}
	// The device was streaming; the working set may have drifted. Re-read
	// it now that command mode accepts inquiries again.
	return StateCommand, nil, m.refreshParams()
}

func (m *Machine) handlerAutosampleClockSync(interface{}) (State, interface{}, error) {
	return m.maintenance(m.clockSync)
}

func (m *Machine) handlerAutosampleAcquireStatus(interface{}) (State, interface{}, error) {
	return m.maintenance(m.acquireStatus)
}

// maintenance takes the instrument out of measurement mode, runs op, and
// restarts measurement on every exit path. When both op and the restart
// fail, op's error wins; the restart failure leaves the machine in StateCommand.
func (m *Machine) maintenance(op func() error) (State, interface{}, error) {
	if err := m.stopMeasurement(); err != nil {
		return StateAutosample, nil, err
	}
	opErr := op()
	if err := m.startMeasurement(); err != nil {
		if opErr == nil {
			opErr = err
		}
		return StateCommand, nil, opErr
	}
	return StateAutosample, nil, opErr
}

func (m *Machine) handlerStartDirect(interface{}) (State, interface{}, error) {
	m.directSnapshot = m.config.DirectSnapshot()
	return StateDirectAccess, nil, nil
}

func (m *Machine) handlerExecuteDirect(arg interface{}) (State, interface{}, error) {
	data, ok := arg.([]byte)
	if !ok {
		return StateDirectAccess, nil, &ProtocolError{Op: "direct access", Detail: "execute requires raw bytes"}
	}
	return StateDirectAccess, nil, m.transport.Send(data)
}

func (m *Machine) handlerStopDirect(interface{}) (State, interface{}, error) {
	mode, err := m.readModeTwoTier()
	if err != nil {
		return StateDirectAccess, nil, err
	}
	next, err := m.profile.ClassifyMode(mode)
	if err != nil {
		return StateDirectAccess, nil, err
	}
	if m.directSnapshot != nil {
		m.config.RestoreDirect(m.directSnapshot)
		m.directSnapshot = nil
	}
	return next, next, nil
}

////////////////////////////////////////////////////////////////////////
// Mechanics.
////////////////////////////////////////////////////////////////////////

// doCmdResp runs one command/response transaction. The dispatch gate has
// already serialized us; nothing else is on the wire.
func (m *Machine) doCmdResp(cmd Command) (Response, error) {
	m.resp.clear()
	if err := m.transport.Send(cmd.Data); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", cmd.Name, err)
	}
	delay := cmd.WriteDelay
	if delay == 0 {
		delay = DefaultWriteDelay
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return m.resp.await(cmd)
}

func (m *Machine) startMeasurement() error {
	_, err := m.doCmdResp(m.profile.StartMeasurement)
	return err
}

// stopMeasurement issues the soft break. Some firmware asks for an explicit
// confirmation before dropping out of measurement mode.
func (m *Machine) stopMeasurement() error {
	if err := m.transport.Send(m.profile.SoftBreakFirst); err != nil {
		return fmt.Errorf("send break: %w", err)
	}
	time.Sleep(breakSettle)
	resp, err := m.doCmdResp(m.profile.SoftBreakSecond)
	if err != nil {
		return err
	}
	if len(m.profile.ConfirmPrompt) > 0 && bytes.Equal(resp.Prompt, m.profile.ConfirmPrompt) {
		if _, err := m.doCmdResp(m.profile.Confirmation); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) acquireStatus() error {
	for _, cmd := range m.profile.Status {
		if _, err := m.doCmdResp(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) clockSync() error {
	target := time.Now().UTC().Add(m.profile.ClockSyncOffset)
	if _, err := m.doCmdResp(m.profile.SetClock(target)); err != nil {
		return err
	}
	resp, err := m.doCmdResp(m.profile.ReadClock)
	if err != nil {
		return err
	}
	device, err := m.profile.ParseClock(resp)
	if err != nil {
		return err
	}
	drift := time.Now().UTC().Sub(device)
	if drift < 0 {
		drift = -drift
	}
	if drift > m.profile.ClockSyncTolerance {
		return &CommandError{Op: "clock sync",
			Detail: fmt.Sprintf("instrument clock off by %s after sync", drift)}
	}
	return nil
}

// applyParams validates, stores and writes a parameter mapping. Engineering
// interval parameters only touch the scheduler. The configuration-changed
// notification fires only when the effective configuration actually moved.
func (m *Machine) applyParams(params map[string]interface{}, startup bool) error {
	if err := m.checkParams(params, startup); err != nil {
		return err
	}
	old := m.config.All()
	oldClockSync, oldStatus := m.clockSyncEvery, m.acquireStatusEvery

	deviceChange := false
	for name, v := range params {
		switch name {
		case ParamClockSyncInterval, ParamAcquireStatusInterval:
			d, _ := asInterval(v)
			if name == ParamClockSyncInterval {
				m.clockSyncEvery = d
			} else {
				m.acquireStatusEvery = d
			}
			continue
		}
		cur, err := m.config.Get(name)
		if err != nil {
			return err
		}
		if reflect.DeepEqual(cur, v) {
			continue
		}
		if startup {
			err = m.config.SetStartup(name, v)
		} else {
			err = m.config.Set(name, v)
		}
		if err != nil {
			return err
		}
		deviceChange = true
	}

	if deviceChange {
		if err := m.writeConfiguration(); err != nil {
			return err
		}
	}

	if m.clockSyncEvery != oldClockSync || m.acquireStatusEvery != oldStatus {
		m.installJobs()
	}
	if !reflect.DeepEqual(old, m.config.All()) ||
		m.clockSyncEvery != oldClockSync || m.acquireStatusEvery != oldStatus {
		if m.OnConfigChange != nil {
			m.OnConfigChange(m.config.All())
		}
	}
	return nil
}

// checkParams vets every name, visibility and constraint before a single
// value is stored. A request carrying one bad parameter must not leave the
// working set partially applied.
func (m *Machine) checkParams(params map[string]interface{}, startup bool) error {
	for name, v := range params {
		switch name {
		case ParamClockSyncInterval, ParamAcquireStatusInterval:
			if _, err := asInterval(v); err != nil {
				return &ProtocolError{Op: "set " + name, Detail: err.Error()}
			}
			continue
		}
		f, ok := m.config.Schema().FieldByName(name)
		if !ok {
			return fmt.Errorf("%s: %w", name, record.ErrUnknownField)
		}
		if f.Vis == record.ReadOnly || (f.Vis == record.Immutable && !startup) {
			return fmt.Errorf("%s: %w", name, record.ErrProtected)
		}
		if c, ok := m.profile.Constraints[name]; ok {
			n, err := toInt(v)
			if err != nil {
				return &ProtocolError{Op: "set " + name, Detail: err.Error()}
			}
			if n < c.Min || n > c.Max {
				return &ProtocolError{Op: "set " + name,
					Detail: fmt.Sprintf("value %d outside [%d, %d]", n, c.Min, c.Max)}
			}
		}
	}
	return nil
}

// writeConfiguration sends the full encoded configuration to the device and
// re-reads it to confirm what actually took.
func (m *Machine) writeConfiguration() error {
	raw, err := m.config.Encode()
	if err != nil {
		return err
	}
	cmd := m.profile.BuildConfigure(raw)

	if m.profile.DoubleSendConfigure {
		if err := m.transport.Send(cmd.Data); err != nil {
			return fmt.Errorf("send %s: %w", cmd.Name, err)
		}
		if m.profile.ConfigureDelay > 0 {
			time.Sleep(m.profile.ConfigureDelay)
		}
	}
	resp, err := m.doCmdResp(cmd)
	if err != nil {
		return err
	}
	if len(m.profile.Nack) > 0 && bytes.Equal(resp.Prompt, m.profile.Nack) {
		if rerr := m.refreshParams(); rerr != nil {
			m.logger.Printf("%s: refresh after reject failed: %v", m.profile.Name, rerr)
		}
		return &ProtocolError{Op: cmd.Name, Detail: "instrument rejected parameter change"}
	}
	return m.refreshParams()
}

// refreshParams re-hydrates the working configuration from the device.
func (m *Machine) refreshParams() error {
	resp, err := m.doCmdResp(m.profile.ReadConfig)
	if err != nil {
		return err
	}
	cfg, err := m.profile.ParseConfig(resp)
	if err != nil {
		return err
	}
	m.config = cfg
	return nil
}

func (m *Machine) installJobs() {
	if m.scheduler == nil {
		return
	}
	if m.clockSyncEvery > 0 {
		m.scheduler.Schedule(jobClockSync, m.clockSyncEvery, func() {
			if err := m.SyncClock(); err != nil {
				m.logger.Printf("%s: scheduled clock sync: %v", m.profile.Name, err)
			}
		})
	} else {
		m.scheduler.Unschedule(jobClockSync)
	}
	if m.acquireStatusEvery > 0 {
		m.scheduler.Schedule(jobAcquireStatus, m.acquireStatusEvery, func() {
			if err := m.AcquireStatus(); err != nil {
				m.logger.Printf("%s: scheduled acquire status: %v", m.profile.Name, err)
			}
		})
	} else {
		m.scheduler.Unschedule(jobAcquireStatus)
	}
}

func (m *Machine) removeJobs() {
	if m.scheduler == nil {
		return
	}
	m.scheduler.Unschedule(jobClockSync)
	m.scheduler.Unschedule(jobAcquireStatus)
}

// asInterval accepts a duration value or its string form, as delivered by
// the JSON parameter API.
func asInterval(v interface{}) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		if d < 0 {
			return 0, fmt.Errorf("interval must not be negative, got %s", d)
		}
		return d, nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, err
		}
		if parsed < 0 {
			return 0, fmt.Errorf("interval must not be negative, got %s", parsed)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("interval must be a duration, got %T", v)
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}
