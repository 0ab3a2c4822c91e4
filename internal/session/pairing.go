package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

var ErrNoPairing = errors.New("no pairing task for tenant")

type State string

const (
	StateRunning   State = "running"
	StatePaired    State = "paired"
	StateExpired   State = "expired"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) Final() bool {
	return s != StateRunning
}

// Capture is one observation of the automation session's login screen.
type Capture struct {
	Paired bool
	QRCode []byte
}

// Connector talks to the automation runner on behalf of a session.
type Connector interface {
	CapturePairingCode(ctx context.Context, ref Ref) (Capture, error)
}

type Status struct {
	OwnerID    int64     `json:"ownerId"`
	Session    string    `json:"session"`
	State      State     `json:"state"`
	Attempt    int       `json:"attempt"`
	QRPath     string    `json:"qrPath,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

type PairingConfig struct {
	Attempts int
	Interval time.Duration
	QRDir    string
}

type pairingTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	status Status
}

// Pairing runs at most one pairing task per tenant. A task holds the
// tenant's session lock while it polls the connector for a QR code.
type Pairing struct {
	conn  Connector
	ns    *Namespace
	locks *Locks
	cfg   PairingConfig
	log   *zap.Logger
	now   func() time.Time

	mu    sync.Mutex
	tasks map[int64]*pairingTask
	wg    sync.WaitGroup
}

func NewPairing(conn Connector, ns *Namespace, locks *Locks, cfg PairingConfig, log *zap.Logger) (*Pairing, error) {
	if conn == nil {
		return nil, errors.New("connector must not be nil")
	}
	if cfg.Attempts <= 0 {
		return nil, errors.New("pairing attempts must be > 0")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("pairing interval must be > 0")
	}
	return &Pairing{
		conn:  conn,
		ns:    ns,
		locks: locks,
		cfg:   cfg,
		log:   log.Named("pairing"),
		now:   time.Now,
		tasks: make(map[int64]*pairingTask),
	}, nil
}

// QRPath is where the latest QR code of a tenant is written.
func (p *Pairing) QRPath(ownerID int64) string {
	return filepath.Join(p.cfg.QRDir, fmt.Sprintf("qrcode_%d.png", ownerID))
}

// Start launches a pairing task. It returns false, with the current status,
// when a task for the tenant is still running.
func (p *Pairing) Start(ownerID int64) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.tasks[ownerID]; ok && !t.status.State.Final() {
		return t.status, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &pairingTask{
		cancel: cancel,
		done:   make(chan struct{}),
		status: Status{
			OwnerID:   ownerID,
			Session:   p.ns.Resolve(ownerID).Name,
			State:     StateRunning,
			StartedAt: p.now(),
		},
	}
	p.tasks[ownerID] = t

	p.wg.Add(1)
	go p.run(ctx, ownerID, t)

	return t.status, true
}

func (p *Pairing) Status(ownerID int64) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tasks[ownerID]
	if !ok {
		return Status{}, false
	}
	return t.status, true
}

// Cancel stops a running task. It reports whether there was one to stop.
func (p *Pairing) Cancel(ownerID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.tasks[ownerID]
	if !ok || t.status.State.Final() {
		return false
	}
	t.cancel()
	return true
}

// Wait blocks until the tenant's task reaches a final state or ctx is done.
func (p *Pairing) Wait(ctx context.Context, ownerID int64) (Status, error) {
	p.mu.Lock()
	t, ok := p.tasks[ownerID]
	p.mu.Unlock()
	if !ok {
		return Status{}, ErrNoPairing
	}

	select {
	case <-t.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return t.status, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Reset stops any running pairing of the tenant and wipes its profile while
// holding the session lock, so no delivery runs against a half-removed profile.
func (p *Pairing) Reset(ctx context.Context, ownerID int64) (Ref, error) {
	p.mu.Lock()
	t, ok := p.tasks[ownerID]
	if ok {
		t.cancel()
	}
	p.mu.Unlock()

	if ok {
		select {
		case <-t.done:
		case <-ctx.Done():
			return Ref{}, ctx.Err()
		}
	}

	ref := p.ns.Resolve(ownerID)
	release, err := p.locks.Acquire(ctx, ref.Name)
	if err != nil {
		return ref, err
	}
	defer release()

	ref, err = p.ns.Reset(ownerID)
	if err != nil {
		return ref, err
	}
	p.log.Info("session reset", zap.Int64("tenant_id", ownerID), zap.String("session", ref.Name))
	return ref, nil
}

// Close cancels every running task and waits for them to finish.
func (p *Pairing) Close() {
	p.mu.Lock()
	for _, t := range p.tasks {
		t.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pairing) run(ctx context.Context, ownerID int64, t *pairingTask) {
	defer p.wg.Done()
	defer close(t.done)
	defer t.cancel()

	log := p.log.With(zap.Int64("tenant_id", ownerID))
	ref := p.ns.Resolve(ownerID)

	if err := p.ns.Ensure(ref); err != nil {
		p.finish(t, StateFailed, err)
		return
	}
	if err := os.MkdirAll(p.cfg.QRDir, 0o750); err != nil {
		p.finish(t, StateFailed, errors.Wrap(err, "create qr dir"))
		return
	}

	release, err := p.locks.Acquire(ctx, ref.Name)
	if err != nil {
		p.finish(t, StateCancelled, nil)
		return
	}
	defer release()

	log.Info("pairing started", zap.String("session", ref.Name), zap.Int("attempts", p.cfg.Attempts))

	var lastErr error
	failures := 0
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		p.setAttempt(t, attempt)

		capture, err := p.conn.CapturePairingCode(ctx, ref)
		switch {
		case ctx.Err() != nil:
			p.finish(t, StateCancelled, nil)
			log.Info("pairing cancelled", zap.Int("attempt", attempt))
			return
		case err != nil:
			failures++
			lastErr = err
			log.Warn("pairing capture failed", zap.Int("attempt", attempt), zap.Error(err))
		case capture.Paired:
			p.finish(t, StatePaired, nil)
			log.Info("session paired", zap.Int("attempt", attempt))
			return
		case len(capture.QRCode) > 0:
			if err := p.writeQR(t, capture.QRCode); err != nil {
				log.Warn("write qr code failed", zap.Error(err))
			}
		}

		if attempt == p.cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			p.finish(t, StateCancelled, nil)
			log.Info("pairing cancelled", zap.Int("attempt", attempt))
			return
		case <-time.After(p.cfg.Interval):
		}
	}

	if failures == p.cfg.Attempts {
		p.finish(t, StateFailed, lastErr)
		log.Warn("pairing failed", zap.Error(lastErr))
		return
	}
	p.finish(t, StateExpired, nil)
	log.Info("pairing expired without scan")
}

func (p *Pairing) writeQR(t *pairingTask, png []byte) error {
	path := p.QRPath(t.status.OwnerID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, png, 0o640); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	p.mu.Lock()
	t.status.QRPath = path
	p.mu.Unlock()
	return nil
}

func (p *Pairing) setAttempt(t *pairingTask, attempt int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t.status.Attempt = attempt
}

// finish records the final state. The QR image is only meaningful while the
// task runs, so it is removed here.
func (p *Pairing) finish(t *pairingTask, state State, err error) {
	_ = os.Remove(p.QRPath(t.status.OwnerID))

	p.mu.Lock()
	defer p.mu.Unlock()

	t.status.State = state
	t.status.FinishedAt = p.now()
	t.status.QRPath = ""
	if err != nil {
		t.status.Error = err.Error()
	}
}
