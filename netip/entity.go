package netip

import (
	"net"
	"sync"
)

// entityCore is the contract the concrete entity kinds (TCP acceptor, TCP
// connector, UDP entity) present to their handles.
type entityCore interface {
	start(stateChg StateChangeFunc, errFn ErrorFunc, shutFn ShutdownFunc) error
	stop() error
	isStarted() bool
	localAddr() net.Addr
}

// entityCell is the shared ref cell behind Entity handles. The owning NetIP
// nils it at release, after which every handle operation fails with
// ErrWeakReferenceExpired. Handles never extend the entity's lifetime.
type entityCell struct {
	mu  sync.RWMutex
	ent entityCore
}

func newEntityCell(ent entityCore) *entityCell {
	return &entityCell{ent: ent}
}

func (c *entityCell) resolve() (entityCore, error) {
	if c == nil {
		return nil, ErrWeakReferenceExpired
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ent == nil {
		return nil, ErrWeakReferenceExpired
	}
	return c.ent, nil
}

func (c *entityCell) release() {
	c.mu.Lock()
	c.ent = nil
	c.mu.Unlock()
}

// Entity is the application's handle to one network endpoint. It is a value
// type carrying a weak reference: every method resolves the reference
// first, and operations on an expired handle fail with
// ErrWeakReferenceExpired and have no side effects.
type Entity struct {
	cell *entityCell
}

// Start transitions the entity to started and installs the callbacks.
// Exactly one concurrent caller wins; losers get ErrEntityAlreadyStarted
// and their callbacks are never invoked. By default the exactly-once
// terminal shutdown notification is delivered through errFn; install a
// dedicated ShutdownFunc with WithShutdownNotify.
func (e Entity) Start(stateChg StateChangeFunc, errFn ErrorFunc, opt ...StartOption) error {
	ent, err := e.cell.resolve()
	if err != nil {
		return err
	}
	var opts startOptions
	for _, o := range opt {
		o(&opts)
	}
	shutFn := opts.shutdownFn
	if shutFn == nil {
		shutFn = func(io IOInterface, err error, remaining int) {
			if errFn == nil {
				return
			}
			if err == nil {
				err = ErrConnectionClosedLocally
			}
			errFn(io, err)
		}
	}
	return ent.start(stateChg, errFn, shutFn)
}

// Stop transitions the entity to stopped, tears down all of its I/O
// handlers (each delivers its close state-change), and delivers the
// shutdown notification before returning. Stop must not be called from
// within one of the entity's own callbacks; a message handler stops its
// handler by returning false.
func (e Entity) Stop() error {
	ent, err := e.cell.resolve()
	if err != nil {
		return err
	}
	return ent.stop()
}

// IsStarted reports whether the entity is started.
func (e Entity) IsStarted() (bool, error) {
	ent, err := e.cell.resolve()
	if err != nil {
		return false, err
	}
	return ent.isStarted(), nil
}

// LocalAddr reports the entity's bound local endpoint: the listen address
// for a started acceptor, the socket address for a started UDP entity, the
// current connection's local address for a connected connector. It is nil
// when no socket is open.
func (e Entity) LocalAddr() (net.Addr, error) {
	ent, err := e.cell.resolve()
	if err != nil {
		return nil, err
	}
	return ent.localAddr(), nil
}
