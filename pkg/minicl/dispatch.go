package minicl

import (
	"maps"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// DispatchRecord describes one completed (or failed) dispatch.
type DispatchRecord struct {
	ContextID  string
	Seq        uint64
	Kernel     string
	Backend    string
	Device     string
	GlobalSize int
	LocalSize  int
	Start      time.Time
	Duration   time.Duration
	Err        string
}

// ProfileSink receives a record for every dispatch that reached the device.
// A failing sink is logged and never fails the dispatch.
type ProfileSink interface {
	RecordDispatch(rec DispatchRecord) error
}

func checkPartitioning(globalSize, localSize int) error {
	if globalSize <= 0 || localSize <= 0 {
		return errors.Wrapf(ErrInvalidPartitioning, "global=%d local=%d: sizes must be positive", globalSize, localSize)
	}
	if globalSize%localSize != 0 {
		return errors.Wrapf(ErrInvalidPartitioning, "global=%d is not a multiple of local=%d", globalSize, localSize)
	}
	return nil
}

// Dispatch runs kernel k over globalSize work items in groups of localSize and
// blocks until the device has finished.
//
// Every argument the kernel declares must be bound. When the driver cannot report
// the declared count, indices 0 through the highest bound index must be bound.
func (c *Context) Dispatch(k KernelID, globalSize, localSize int) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	e, err := c.kernel(k)
	if err != nil {
		return err
	}
	if err := checkPartitioning(globalSize, localSize); err != nil {
		return err
	}
	return c.dispatch(e, globalSize, localSize)
}

// BindAllAndDispatch replaces every binding of kernel k with args (bound at indices
// 0..len(args)-1) and dispatches it. Nothing is bound unless every argument is
// valid and the partitioning is legal.
func (c *Context) BindAllAndDispatch(k KernelID, globalSize, localSize int, args ...Arg) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	e, err := c.kernel(k)
	if err != nil {
		return err
	}
	if err := checkPartitioning(globalSize, localSize); err != nil {
		return err
	}
	for i, a := range args {
		if err := checkIndex(e, i, a); err != nil {
			return err
		}
		if err := a.check(c); err != nil {
			return errors.Wrapf(err, "kernel %q argument %d", string(e.id), i)
		}
	}

	if e.numArgs > 0 && len(args) < e.numArgs {
		return &UnboundArgumentError{Kernel: e.id, Index: len(args)}
	}

	prev := maps.Clone(e.bound)
	clear(e.bound)
	for i, a := range args {
		if err := c.bind(e, i, a); err != nil {
			return multierr.Append(err, c.restoreBindings(e, prev))
		}
	}
	return c.dispatch(e, globalSize, localSize)
}

// restoreBindings puts back the bindings a failed BindAllAndDispatch replaced.
func (c *Context) restoreBindings(e *kernelEntry, prev map[int]Arg) error {
	clear(e.bound)
	var errs error
	for i, a := range prev {
		if err := a.bind(c, e.k, i); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "minicl: restore kernel %q argument %d", string(e.id), i))
			continue
		}
		e.bound[i] = a
	}
	return errs
}

func (c *Context) dispatch(e *kernelEntry, globalSize, localSize int) error {
	required := e.numArgs
	if required == 0 {
		for i := range e.bound {
			required = max(required, i+1)
		}
	}
	for i := 0; i < required; i++ {
		if _, ok := e.bound[i]; !ok {
			return &UnboundArgumentError{Kernel: e.id, Index: i}
		}
	}

	// Buffers may have been mapped or released since they were bound.
	indices := make([]int, 0, len(e.bound))
	for i := range e.bound {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		if err := e.bound[i].check(c); err != nil {
			return errors.Wrapf(err, "kernel %q argument %d", string(e.id), i)
		}
	}

	start := time.Now()
	if err := c.dev.Enqueue(e.k, globalSize, localSize); err != nil {
		return errors.Wrapf(err, "minicl: enqueue kernel %q", string(e.id))
	}
	err := c.dev.Finish()
	elapsed := time.Since(start)
	if err != nil {
		err = errors.Wrapf(err, "minicl: kernel %q", string(e.id))
	}

	c.record(e, globalSize, localSize, start, elapsed, err)
	return err
}

func (c *Context) record(e *kernelEntry, globalSize, localSize int, start time.Time, elapsed time.Duration, err error) {
	if err == nil {
		e.stats.Dispatches++
		e.stats.WorkItems += uint64(globalSize)
		e.stats.Total += elapsed
		e.stats.Last = elapsed
		c.dispatches++
	}
	klog.V(3).Infof("minicl: dispatched %q global=%d local=%d in %s", string(e.id), globalSize, localSize, elapsed)

	if c.sink == nil {
		return
	}
	c.seq++
	rec := DispatchRecord{
		ContextID:  c.ID(),
		Seq:        c.seq,
		Kernel:     string(e.id),
		Backend:    c.info.Backend,
		Device:     c.info.Name,
		GlobalSize: globalSize,
		LocalSize:  localSize,
		Start:      start,
		Duration:   elapsed,
	}
	if err != nil {
		rec.Err = err.Error()
	}
	if sinkErr := c.sink.RecordDispatch(rec); sinkErr != nil {
		klog.Warningf("minicl: profile sink: %v", sinkErr)
	}
}
