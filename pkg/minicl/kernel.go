package minicl

import (
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/orneryd/minicl/pkg/gpu/driver"
)

// KernelID names a registered kernel.
type KernelID string

// KernelStats accumulates the dispatches of one kernel.
type KernelStats struct {
	Dispatches uint64
	WorkItems  uint64
	Total      time.Duration
	Last       time.Duration
}

type kernelEntry struct {
	id      KernelID
	k       driver.Kernel
	numArgs int
	bound   map[int]Arg
	stats   KernelStats
}

// RegisterKernel creates the program's entry point name and adds it to the registry.
func (c *Context) RegisterKernel(name string) (KernelID, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	id := KernelID(name)
	if _, exists := c.kernels[id]; exists {
		return "", errors.Wrapf(ErrDuplicateKernel, "%q", name)
	}
	if name == "" {
		return "", errors.Wrap(ErrUnknownKernelName, "empty name")
	}

	k, err := c.dev.CreateKernel(name)
	if err != nil {
		if errors.Is(err, driver.ErrUnknownKernel) {
			return "", errors.Wrapf(ErrUnknownKernelName, "%q: %v", name, err)
		}
		return "", errors.Wrapf(err, "minicl: create kernel %q", name)
	}

	c.kernels[id] = &kernelEntry{
		id:      id,
		k:       k,
		numArgs: k.NumArgs(),
		bound:   make(map[int]Arg),
	}
	c.kernelOrder = append(c.kernelOrder, id)
	klog.V(2).Infof("minicl: registered kernel %q (%d args)", name, k.NumArgs())
	return id, nil
}

func (c *Context) kernel(k KernelID) (*kernelEntry, error) {
	e, ok := c.kernels[k]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKernel, "%q", string(k))
	}
	return e, nil
}

// BindArgument sets argument index of kernel k. A buffer must be DeviceOwned.
// Binding an index again replaces the previous value.
func (c *Context) BindArgument(k KernelID, index int, value Arg) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	e, err := c.kernel(k)
	if err != nil {
		return err
	}
	if err := checkIndex(e, index, value); err != nil {
		return err
	}
	if err := value.check(c); err != nil {
		return err
	}
	return c.bind(e, index, value)
}

func checkIndex(e *kernelEntry, index int, value Arg) error {
	if value == nil {
		return errors.Wrapf(ErrInvalidArgument, "kernel %q argument %d: nil", string(e.id), index)
	}
	if index < 0 || (e.numArgs > 0 && index >= e.numArgs) {
		return errors.Wrapf(ErrInvalidArgument, "kernel %q has no argument %d (declares %d)", string(e.id), index, e.numArgs)
	}
	return nil
}

func (c *Context) bind(e *kernelEntry, index int, value Arg) error {
	if err := value.bind(c, e.k, index); err != nil {
		return errors.Wrapf(err, "minicl: bind kernel %q argument %d to %s", string(e.id), index, value)
	}
	e.bound[index] = value
	return nil
}

// KernelStats returns the dispatch statistics of kernel k.
func (c *Context) KernelStats(k KernelID) (KernelStats, error) {
	e, err := c.kernel(k)
	if err != nil {
		return KernelStats{}, err
	}
	return e.stats, nil
}
