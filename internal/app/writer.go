package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/luksan/rss-im-sweep/internal/instrument"
	"github.com/luksan/rss-im-sweep/internal/logging"
)

// command is one line of a batch. A command carrying a calgroup loads that
// calibration group and is only sent when the group is in the analyzer's
// calibration pool.
type command struct {
	text     string
	calgroup string
}

func lines(texts ...string) []command {
	cmds := make([]command, len(texts))
	for i, t := range texts {
		cmds[i] = command{text: t}
	}
	return cmds
}

func loadCal(ch int, group string) command {
	return command{text: fmt.Sprintf("MMEM:LOAD:CORR %d,'%s'", ch, group), calgroup: group}
}

// job is a named batch of commands executed in order. A failed write
// abandons the rest of the batch. query, when set, runs after the commands.
type job struct {
	name  string
	cmds  []command
	query func(ctx context.Context, inst instrument.Instrument)
}

// commandWriter serialises all instrument I/O after connect onto one
// goroutine so the owner loop never blocks on the network.
type commandWriter struct {
	inst    instrument.Instrument
	jobs    chan job
	errs    chan<- string
	timeout time.Duration
	logger  logging.Logger
	done    chan struct{}
}

func newCommandWriter(inst instrument.Instrument, size int, timeout time.Duration, errs chan<- string, logger logging.Logger) *commandWriter {
	w := &commandWriter{
		inst:    inst,
		jobs:    make(chan job, size),
		errs:    errs,
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// enqueue never blocks. It reports false when the queue is full.
func (w *commandWriter) enqueue(j job) bool {
	select {
	case w.jobs <- j:
		return true
	default:
		commandsDropped.WithLabelValues(j.name).Inc()
		w.logger.Warn("command queue full, dropping batch",
			logging.Field{Key: "job", Value: j.name},
			logging.Field{Key: "commands", Value: len(j.cmds)})
		return false
	}
}

// stop executes the queued batches and waits for the goroutine to exit.
func (w *commandWriter) stop() {
	close(w.jobs)
	<-w.done
}

func (w *commandWriter) run() {
	defer close(w.done)
	for j := range w.jobs {
		w.execute(j)
	}
}

func (w *commandWriter) execute(j job) {
	// The pool is read lazily so a store earlier in the batch is seen.
	var pool []string
	var missing map[string]bool
	poolRead := false
	for _, cmd := range j.cmds {
		if cmd.calgroup != "" {
			if !poolRead {
				var err error
				pool, err = w.calPool()
				if err != nil {
					w.logger.Warn("cal pool query failed", logging.Field{Key: "job", Value: j.name}, logging.Field{Key: "error", Value: err})
				}
				poolRead = true
			}
			if !containsGroup(pool, cmd.calgroup) {
				if missing == nil {
					missing = make(map[string]bool)
				}
				if !missing[cmd.calgroup] {
					missing[cmd.calgroup] = true
					w.logger.Error("no calibration in the cal pool",
						logging.Field{Key: "job", Value: j.name},
						logging.Field{Key: "calgroup", Value: cmd.calgroup})
					w.report(fmt.Sprintf("%s: no calibration named %s in the cal pool", j.name, cmd.calgroup))
				}
				continue
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.inst.Write(ctx, cmd.text)
		cancel()
		if err != nil {
			commandErrors.Inc()
			w.logger.Error("command failed",
				logging.Field{Key: "job", Value: j.name},
				logging.Field{Key: "command", Value: cmd.text},
				logging.Field{Key: "error", Value: err})
			w.report(cmd.text + ": " + err.Error())
			w.runQuery(j)
			return
		}
		commandsSent.Inc()
	}
	w.runQuery(j)
	if len(j.cmds) > 0 {
		w.checkErrorQueue(j.name)
	}
}

// runQuery calls j.query exactly once so callers waiting on it return.
func (w *commandWriter) runQuery(j job) {
	if j.query == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	j.query(ctx, w.inst)
}

// calPoolQuery lists the analyzer's calibration data directory.
const calPoolQuery = `MMEM:CAT? 'C:\Rohde&Schwarz\Nwa\Calibration\Data'`

func (w *commandWriter) calPool() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	return queryCalPool(ctx, w.inst)
}

func queryCalPool(ctx context.Context, inst instrument.Instrument) ([]string, error) {
	resp, err := inst.Query(ctx, calPoolQuery)
	if err != nil {
		return nil, fmt.Errorf("cal pool: %w", err)
	}
	return parseCalPool(resp), nil
}

// parseCalPool extracts the calibration group names from a catalog
// response of the form used,free,'name,,size',...
func parseCalPool(resp string) []string {
	var groups []string
	parts := strings.Split(resp, "'")
	for i := 1; i < len(parts); i += 2 {
		name, _, _ := strings.Cut(parts[i], ",")
		name = strings.TrimSpace(name)
		if strings.HasSuffix(strings.ToLower(name), ".cal") {
			groups = append(groups, name)
		}
	}
	sort.Strings(groups)
	return groups
}

func containsGroup(pool []string, group string) bool {
	for _, g := range pool {
		if strings.EqualFold(g, group) {
			return true
		}
	}
	return false
}

// checkErrorQueue reads one entry of the analyzer's error queue.
func (w *commandWriter) checkErrorQueue(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	resp, err := w.inst.Query(ctx, "SYST:ERR?")
	if err != nil {
		w.logger.Warn("error queue query failed", logging.Field{Key: "error", Value: err})
		return
	}
	if code, _, _ := strings.Cut(resp, ","); strings.TrimSpace(code) != "0" {
		commandErrors.Inc()
		w.report(name + ": " + resp)
	}
}

func (w *commandWriter) report(msg string) {
	select {
	case w.errs <- msg:
	default:
		w.logger.Warn("instrument error backlog full", logging.Field{Key: "message", Value: msg})
	}
}
