// Package sched runs the threads of a VM instance cooperatively: it
// resumes suspended threads round-robin and runs the class initializers
// they wait for.
package sched

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/jvmcore/classes"
	"github.com/chazu/jvmcore/rt"
	"github.com/chazu/jvmcore/vm"
)

// ErrDeadlock is returned when every live thread is suspended and a whole
// round made no progress.
var ErrDeadlock = errors.New("all threads are blocked")

// Task is one guest thread run by the scheduler.
type Task struct {
	Thread *vm.Thread
	Method *classes.Method

	// Outcome is the final outcome once Done.
	Outcome vm.Outcome
	// Snapshot is taken when the task ends other than by completing.
	Snapshot *vm.Snapshot

	done  bool
	inits []*classes.Class // initializers running on the thread, innermost last

	// entry holds the arguments while a synchronized entry method waits
	// for its class monitor.
	entry   []vm.Value
	blocked bool
}

// Done reports whether the task has finished.
func (t *Task) Done() bool { return t.done }

func (t *Task) String() string {
	return fmt.Sprintf("task %d (%s)", t.Thread.ID(), t.Method.Key())
}

// Stats counts scheduling events.
type Stats struct {
	Rounds       int
	Resumes      int
	Initializers int
}

// Scheduler runs the tasks of one runtime.
type Scheduler struct {
	rt    *rt.Runtime
	tasks []*Task
	stats Stats
	log   commonlog.Logger
}

// New creates a scheduler for r.
func New(r *rt.Runtime) *Scheduler {
	return &Scheduler{rt: r, log: commonlog.GetLogger("jvmcore.sched")}
}

// Runtime returns the runtime the scheduler drives.
func (s *Scheduler) Runtime() *rt.Runtime { return s.rt }

// Tasks returns every task spawned so far.
func (s *Scheduler) Tasks() []*Task { return s.tasks }

// Stats returns the scheduling counters.
func (s *Scheduler) Stats() Stats { return s.stats }

// Spawn creates a thread that will run the static method m with args.
func (s *Scheduler) Spawn(m *classes.Method, args ...vm.Value) (*Task, error) {
	if !m.IsStatic() {
		return nil, errors.Errorf("cannot spawn %s: not static", m.Key())
	}
	t, err := s.rt.NewThread()
	if err != nil {
		return nil, err
	}
	task := &Task{Thread: t, Method: m}
	if err := t.Prepare(m, vm.Null, args...); err != nil {
		var blocked *vm.BlockedError
		if !errors.As(err, &blocked) {
			return nil, errors.Wrapf(err, "spawning %s", m.Key())
		}
		task.entry, task.blocked = args, true
		s.log.Debugf("%s waits for the monitor of %s", task, m.Class().Name())
	}
	s.tasks = append(s.tasks, task)
	s.log.Debugf("spawned %s", task)
	return task, nil
}

// Run steps every unfinished task until all are done. Cancelling ctx
// shuts the runtime down and stops the remaining tasks.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			s.rt.Shutdown()
			s.stopAll()
			return errors.Wrap(err, "scheduler cancelled")
		}

		live, progress := 0, false
		for _, task := range s.tasks {
			if task.done {
				continue
			}
			if s.step(task) {
				progress = true
			}
			if !task.done {
				live++
			}
		}
		s.stats.Rounds++

		if live == 0 {
			return nil
		}
		if !progress {
			s.log.Errorf("deadlock: %d threads blocked", live)
			s.stopAll()
			return ErrDeadlock
		}
		if s.rt.VM().Aborted() {
			s.stopAll()
			return errors.New("vm aborted")
		}
	}
}

// step runs task until it yields and reports whether it made progress.
func (s *Scheduler) step(task *Task) bool {
	t := task.Thread
	loader := s.rt.Loader()
	started := false

	if task.blocked {
		err := t.Prepare(task.Method, vm.Null, task.entry...)
		var blocked *vm.BlockedError
		switch {
		case errors.As(err, &blocked):
			if blocked.Suspension == vm.Stopping {
				s.finish(task, vm.Outcome{Status: vm.Stopped})
				return true
			}
			return false
		case err != nil:
			s.finish(task, failure(err))
			return true
		}
		task.entry, task.blocked = nil, false
		started = true
	}

	if c, ok := loader.TakePendingInit(t); ok && c.BeginInit(t) {
		if err := t.Prepare(c.Initializer(), vm.Null); err != nil {
			c.FinishInit(false)
			s.finish(task, failure(err))
			return true
		}
		task.inits = append(task.inits, c)
		s.stats.Initializers++
		s.log.Debugf("thread %d runs %s.<clinit>", t.ID(), c.Name())
		started = true
	}

	fp, sp, pc := t.FP(), t.SP(), t.PC()
	activity := s.rt.Activity(t)
	s.stats.Resumes++
	out := vm.Interpret(t)

	switch out.Status {
	case vm.Completed:
		if n := len(task.inits); n > 0 {
			task.inits[n-1].FinishInit(true)
			task.inits = task.inits[:n-1]
			return true
		}
		s.finish(task, out)
		return true
	case vm.Suspended:
		if started || loader.HasPendingInit(t) {
			return true
		}
		return t.FP() != fp || t.SP() != sp || t.PC() != pc || s.rt.Activity(t) != activity
	default:
		s.finish(task, out)
		return true
	}
}

func failure(err error) vm.Outcome {
	if g, ok := vm.AsGuestError(err); ok {
		return vm.Outcome{Status: vm.Threw, Err: g}
	}
	return vm.Outcome{Status: vm.Faulted, Err: err}
}

// finish records the task's outcome and releases what its thread holds.
// Initializers still running on the thread fail.
func (s *Scheduler) finish(task *Task, out vm.Outcome) {
	t := task.Thread
	task.done = true
	task.Outcome = out
	for i := len(task.inits) - 1; i >= 0; i-- {
		task.inits[i].FinishInit(false)
	}
	task.inits = nil

	if out.Status != vm.Completed {
		task.Snapshot = t.Snapshot()
	}
	s.rt.Loader().AbandonInit(t)
	if !s.rt.VM().Aborted() {
		t.Reset()
	}
	if n := s.rt.ReleaseAll(t); n > 0 {
		s.log.Warningf("thread %d ended holding %d monitors", t.ID(), n)
	}
	t.Stop()
	s.log.Debugf("%s: %s", task, out)
}

func (s *Scheduler) stopAll() {
	for _, task := range s.tasks {
		if !task.done {
			s.finish(task, vm.Outcome{Status: vm.Stopped})
		}
	}
}

// RunAll runs independent schedulers in parallel and returns the first
// error. Each scheduler must own a distinct VM.
func RunAll(ctx context.Context, schedulers ...*Scheduler) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range schedulers {
		s := s
		g.Go(func() error {
			return s.Run(gctx)
		})
	}
	return g.Wait()
}
