package device

import (
	"bytes"
	"io"
	"sort"

	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/irq"
	"github.com/southwarridev/kewveOs/kernel/kfmt"
)

// Stats holds per-driver interrupt counters.
type Stats struct {
	Interrupts uint64
	Errors     uint64
}

// Manager runs the probe pass and owns the active driver set. Each active
// driver's handler is installed on its declared vector wrapped with the
// per-driver counters.
type Manager struct {
	dispatcher *irq.Dispatcher

	active []Driver
	stats  map[string]*Stats

	strBuf bytes.Buffer
}

// NewManager returns a driver manager that installs handlers through
// dispatcher.
func NewManager(dispatcher *irq.Dispatcher) *Manager {
	return &Manager{
		dispatcher: dispatcher,
		stats:      make(map[string]*Stats),
	}
}

// Probe scans the registered drivers in detection order and initializes
// every piece of hardware that is present, binding its interrupt handler.
func (m *Manager) Probe(list DriverInfoList) {
	sort.Sort(list)

	w := kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}

	for _, info := range list {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		m.strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&m.strBuf, "[device] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = m.strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		if err := m.bind(drv); err != nil {
			kfmt.Fprintf(&w, "vector binding failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		m.active = append(m.active, drv)
	}
}

// bind installs the driver's handler on its declared vector, wrapped with
// the per-driver counters.
func (m *Manager) bind(drv Driver) *kernel.Error {
	reg := drv.Registration()
	if reg.Handler == nil {
		return nil
	}

	stats := &Stats{}
	m.stats[drv.DriverName()] = stats

	handler := func(ctx *hal.Context) irq.Disposition {
		stats.Interrupts++
		disposition := reg.Handler(ctx)
		if disposition != irq.Resume {
			stats.Errors++
		}
		return disposition
	}

	return m.dispatcher.Register(reg.Vector, handler)
}

// Active returns the initialized driver set.
func (m *Manager) Active() []Driver {
	return m.active
}

// Stats returns the interrupt counters for the named driver.
func (m *Manager) Stats(name string) Stats {
	if s := m.stats[name]; s != nil {
		return *s
	}
	return Stats{}
}

// DumpTo writes the active driver inventory and counters to w.
func (m *Manager) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "[device] %d active drivers\n", len(m.active))
	for _, drv := range m.active {
		s := m.Stats(drv.DriverName())
		kfmt.Fprintf(w, "[device]   %s: %d interrupts, %d errors\n", drv.DriverName(), s.Interrupts, s.Errors)
	}
}
