// Package app runs the owner loop that ties the settings model to the
// analyzer.
//
// Every model mutation happens on the goroutine that calls Run (or Connect,
// Poll and the analyzer operations directly in tests). The connection
// worker and the command writer only report back through channels.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/luksan/rss-im-sweep/internal/instrument"
	"github.com/luksan/rss-im-sweep/internal/logging"
	"github.com/luksan/rss-im-sweep/internal/model"
	"github.com/luksan/rss-im-sweep/internal/observable"
)

var (
	ErrConnectInFlight = errors.New("connection attempt already in progress")
	ErrNotConnected    = errors.New("not connected to the analyzer")
	ErrStopped         = errors.New("controller stopped")
	ErrQueueFull       = errors.New("command queue full")
)

const (
	StatusNotConnected = "Not connected"
	StatusFailed       = "Connection failed"
)

// Options tune the controller. Zero values select the defaults.
type Options struct {
	PollInterval   time.Duration
	CommandTimeout time.Duration
	QueueSize      int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 5 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	return o
}

// Channels holds the analyzer channel numbers captured at connect.
type Channels struct {
	TL, TU, IM3L, IM3U, Cal int
}

// IM returns the four intermodulation channels in setup order.
func (c Channels) IM() []int {
	return []int{c.TL, c.TU, c.IM3L, c.IM3U}
}

// Controller owns the Settings and the analyzer connection.
type Controller struct {
	settings *model.Settings
	dialer   instrument.Dialer
	logger   logging.Logger
	opts     Options

	results      chan Result
	inFlight     bool
	cancelWorker context.CancelFunc
	workers      sync.WaitGroup

	tasks   chan func()
	stopped chan struct{}
	once    sync.Once

	inst      instrument.Instrument
	writer    *commandWriter
	errs      chan string
	channels  Channels
	calActive bool
	// applying suppresses forwarding while the instrument snapshot is
	// copied into the model.
	applying bool
}

// NewController registers the forwarding observers on s.
func NewController(s *model.Settings, dialer instrument.Dialer, logger logging.Logger, opts Options) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Controller{
		settings: s,
		dialer:   dialer,
		logger:   logger.With(logging.Subsystem("controller")),
		opts:     opts.withDefaults(),
		results:  make(chan Result, 1),
		tasks:    make(chan func(), 64),
		stopped:  make(chan struct{}),
		errs:     make(chan string, 32),
	}
	c.registerForwarding()
	return c
}

// Settings returns the owned model.
func (c *Controller) Settings() *model.Settings { return c.settings }

// Connected reports whether an analyzer session is open.
func (c *Controller) Connected() bool { return c.inst != nil }

// Connecting reports whether a connection attempt is outstanding.
func (c *Controller) Connecting() bool { return c.inFlight }

// Connect starts a connection attempt to the address in the model. The
// outcome is applied by a later Poll.
func (c *Controller) Connect(ctx context.Context) error {
	if c.inFlight {
		c.logger.Info("connection attempt already running")
		return ErrConnectInFlight
	}
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	c.disconnect()

	s := c.settings
	addr := s.ZVAAddress.Get()
	c.channels = Channels{
		TL:   s.ChTL.Get(),
		TU:   s.ChTU.Get(),
		IM3L: s.ChIM3L.Get(),
		IM3U: s.ChIM3U.Get(),
		Cal:  s.ChCal.Get(),
	}
	c.inFlight = true
	s.ZVAIsConnected.Set(false)
	s.ConnectionStatus.Set(fmt.Sprintf("Trying to connect to %s", addr))

	wctx, cancel := context.WithCancel(ctx)
	c.cancelWorker = cancel
	c.workers.Add(1)
	tl := c.channels.TL
	go func() {
		defer c.workers.Done()
		c.results <- connect(wctx, c.dialer, addr, tl, c.logger)
	}()
	return nil
}

// Poll applies a finished connection attempt, if any, and drains the
// analyzer error reports into the model. It never blocks.
func (c *Controller) Poll() {
	select {
	case res := <-c.results:
		c.inFlight = false
		c.cancelWorker()
		c.handleResult(res)
	default:
	}
	c.drainErrors()
}

func (c *Controller) handleResult(res Result) {
	s := c.settings
	if res.Err != nil {
		connectAttempts.WithLabelValues("failure").Inc()
		c.logger.Error("connection to analyzer failed",
			logging.Field{Key: "address", Value: res.Address},
			logging.Field{Key: "error", Value: res.Err})
		s.ConnectionStatus.Set(StatusFailed)
		s.ZVAIsConnected.Set(false)
		return
	}
	connectAttempts.WithLabelValues("success").Inc()
	c.logger.Info("connected to analyzer",
		logging.Field{Key: "address", Value: res.Address},
		logging.Field{Key: "idn", Value: res.IDN})

	c.inst = res.inst
	c.writer = newCommandWriter(res.inst, c.opts.QueueSize, c.opts.CommandTimeout, c.errs,
		c.logger.With(logging.Subsystem("scpi")))
	s.ConnectionStatus.Set(fmt.Sprintf("Connected to %s, %s", res.Address, res.IDN))

	// The model holds the analyzer's settings before connected observers run.
	if res.Snapshot != nil {
		c.applying = true
		res.Snapshot.apply(s)
		c.applying = false
	}
	s.ZVAIsConnected.Set(true)
}

func (c *Controller) drainErrors() {
	var msgs []string
	for len(c.errs) > 0 {
		msgs = append(msgs, <-c.errs)
	}
	if len(msgs) == 0 {
		return
	}
	joined := strings.Join(msgs, "\n")
	c.logger.Error("instrument error", logging.Field{Key: "errors", Value: joined})
	// A repeated report still notifies.
	if c.settings.InstrumentError.Get() == joined {
		c.settings.InstrumentError.Set("")
	}
	c.settings.InstrumentError.Set(joined)
}

// Run is the owner loop. It polls on a ticker and runs submitted closures
// until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.tasks:
			fn()
		case <-ticker.C:
			c.Poll()
		}
	}
}

// Submit queues fn to run on the owner loop. Safe for concurrent use.
func (c *Controller) Submit(fn func()) error {
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	select {
	case c.tasks <- fn:
		return nil
	case <-c.stopped:
		return ErrStopped
	}
}

// Close abandons any connection attempt, flushes queued commands and
// closes the analyzer session.
func (c *Controller) Close() error {
	c.once.Do(func() { close(c.stopped) })
	if c.inFlight {
		c.cancelWorker()
		c.workers.Wait()
		res := <-c.results
		c.inFlight = false
		if res.inst != nil {
			res.inst.Close()
		}
	}
	err := c.disconnect()
	c.settings.ZVAIsConnected.Set(false)
	c.settings.ConnectionStatus.Set(StatusNotConnected)
	return err
}

func (c *Controller) disconnect() error {
	if c.writer != nil {
		c.writer.stop()
		c.writer = nil
	}
	c.calActive = false
	if c.inst == nil {
		return nil
	}
	err := c.inst.Close()
	c.inst = nil
	return err
}

// send queues a batch for the writer. The owner must check Connected first.
func (c *Controller) send(name string, cmds []command) {
	if len(cmds) == 0 {
		return
	}
	c.writer.enqueue(job{name: name, cmds: cmds})
}

// CalPool lists the calibration groups stored on the analyzer. The query
// waits behind the batches already queued; done is called once, on the
// writer goroutine.
func (c *Controller) CalPool(done func([]string, error)) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	j := job{name: "cal_pool", query: func(ctx context.Context, inst instrument.Instrument) {
		done(queryCalPool(ctx, inst))
	}}
	if !c.writer.enqueue(j) {
		return ErrQueueFull
	}
	return nil
}

func (c *Controller) registerForwarding() {
	s := c.settings
	forwardTo(c, s.IFBandwidth, func(ch int, v float64) string {
		return fmt.Sprintf("SENS%d:BAND %s", ch, num(v))
	})
	forwardTo(c, s.IFSelectivity, func(ch int, v string) string {
		return fmt.Sprintf("SENS%d:BAND:SEL %s", ch, strings.ToUpper(v))
	})
	forwardTo(c, s.BasePower, func(ch int, v float64) string {
		return fmt.Sprintf("SOUR%d:POW %s", ch, num(v))
	})
	forwardTo(c, s.TriggerSource, func(ch int, v string) string {
		src, ok := triggerToSCPI[v]
		if !ok {
			return ""
		}
		return fmt.Sprintf("TRIG%d:SEQ:SOUR %s", ch, src)
	})
}

// forwardTo mirrors changes of v onto every IM channel. format returns ""
// for values the analyzer cannot represent.
func forwardTo[T any](c *Controller, v *observable.Var[T], format func(ch int, v T) string) {
	v.AddObserver(observable.NewFunc(func(val T) {
		if c.applying || !c.Connected() {
			return
		}
		var cmds []string
		for _, ch := range c.channels.IM() {
			cmd := format(ch, val)
			if cmd == "" {
				c.logger.Warn("value not forwarded to analyzer",
					logging.Field{Key: "variable", Value: v.Name()},
					logging.Field{Key: "value", Value: val})
				return
			}
			cmds = append(cmds, cmd)
		}
		c.send(v.Name(), lines(cmds...))
	}))
}
