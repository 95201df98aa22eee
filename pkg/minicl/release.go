package minicl

import (
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// Close releases every resource of the context in dependency order: pending work,
// buffers, kernels, then the command queue, program, device and context handles.
//
// A failing step is logged and the walk continues; all failures are returned
// together. Close runs once; later calls return nil.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	runtime.SetFinalizer(c, nil)

	var errs error
	step := func(what string, err error) {
		if err == nil {
			return
		}
		klog.Warningf("minicl: context %s: releasing %s: %v", c.id, what, err)
		errs = multierr.Append(errs, errors.Wrapf(err, "release %s", what))
	}

	step("pending work", c.dev.Finish())

	var records []*bufferRecord
	c.buffers.each(func(rec *bufferRecord) { records = append(records, rec) })
	for _, rec := range records {
		step(rec.id.String(), c.releaseRecord(rec))
	}

	for _, id := range c.kernelOrder {
		step("kernel "+string(id), c.dev.ReleaseKernel(c.kernels[id].k))
	}
	c.kernels = nil
	c.kernelOrder = nil

	step("command queue", c.dev.ReleaseQueue())
	step("program", c.dev.ReleaseProgram())
	step("device", c.dev.ReleaseDevice())
	step("context", c.dev.ReleaseContext())

	klog.V(1).Infof("minicl: context %s closed (%d buffer(s) reclaimed, %d dispatch(es))",
		c.id, len(records), c.dispatches)
	return errs
}
