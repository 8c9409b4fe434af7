package sweep

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is the state of a session
type State int

const (
	// Idle is a session that has not started
	Idle State = iota
	// Running is a session sweeping amplitudes
	Running
	// Completed is a session that swept every amplitude
	Completed
	// Aborted is a session stopped by an operator abort
	Aborted
	// Failed is a session ended by a device or persistence error
	Failed
)

var stateNames = [...]string{"idle", "running", "completed", "aborted", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal is true for Completed, Aborted and Failed
func (s State) Terminal() bool {
	return s >= Completed
}

// SessionIDLayout formats the session start time into a session identifier
const SessionIDLayout = "20060102_150405"

// NewSessionID returns the session identifier for a session starting at t
func NewSessionID(t time.Time) string {
	return t.Format(SessionIDLayout)
}

// Status is a snapshot of a session
type Status struct {
	State     State   `json:"state"`
	Session   string  `json:"session"`
	Done      int     `json:"done"`
	Total     int     `json:"total"`
	Index     int     `json:"index"`
	Amplitude float64 `json:"amplitude"`
	LastFile  string  `json:"lastFile,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Summary is what Run returns about a finished session
type Summary struct {
	State   State
	Session string
	// Sweeps is the number of sweeps executed, including a failed one
	Sweeps int
	// Files are the archive paths in acquisition order
	Files []string
	Err   error
}

// Observer is notified of session progress.  Calls are made from the
// goroutine running the session.
type Observer interface {
	SweepStarted(index, total int, amp Amplitude)
	SweepRecorded(r Result, path string)
	SessionEnded(s Summary)
}

// Orchestrator drives a session: for each amplitude, execute a sweep and
// record it, stopping at the first abort or error.  An Orchestrator runs
// one session.
type Orchestrator struct {
	Device   Device
	Executor Executor
	Recorder Recorder
	Range    Range

	// Timeout is the device timeout for one sweep, in seconds
	Timeout int

	// SessionID names the session in file names; NewOrchestrator fills it
	SessionID string

	Log      logrus.FieldLogger
	Observer Observer

	mu          sync.Mutex
	status      Status
	ran         bool
	releaseOnce sync.Once
}

// NewOrchestrator returns an orchestrator for a session starting now
func NewOrchestrator(dev Device, rec Recorder, rng Range, exec Executor, timeoutSeconds int) *Orchestrator {
	id := NewSessionID(time.Now())
	return &Orchestrator{
		Device:    dev,
		Executor:  exec,
		Recorder:  rec,
		Range:     rng,
		Timeout:   timeoutSeconds,
		SessionID: id,
		Log:       logrus.StandardLogger(),
		status:    Status{State: Idle, Session: id},
	}
}

// Validate checks the session parameters without touching the device
func (o *Orchestrator) Validate() error {
	if err := o.Range.Validate(); err != nil {
		return err
	}
	if err := o.Executor.Validate(); err != nil {
		return err
	}
	if o.Timeout <= 0 {
		return &ConfigurationError{Field: "timeout", Reason: fmt.Sprintf("%d s is not > 0", o.Timeout)}
	}
	if o.Device == nil || o.Recorder == nil {
		return &ConfigurationError{Field: "session", Reason: "device and recorder are required"}
	}
	return nil
}

// Status returns a snapshot of the session.  It is safe to call from any goroutine.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) update(fn func(*Status)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.status)
}

func (o *Orchestrator) logger() logrus.FieldLogger {
	if o.Log == nil {
		return logrus.StandardLogger()
	}
	return o.Log
}

func (o *Orchestrator) release() {
	o.releaseOnce.Do(func() {
		if err := o.Device.Release(); err != nil {
			o.logger().WithField("session", o.SessionID).WithError(err).Warn("releasing device")
		}
	})
}

// Run executes the session.  It returns a nil error for Completed and
// Aborted, and the failure for Failed.  A ConfigurationError is returned
// before any device call and leaves the session Idle.  If the recorder
// cannot claim the session id the session fails without touching the device.
// SessionID may change when Run claims it.
//
// The device is released exactly once on every path out of Running.
func (o *Orchestrator) Run() (Summary, error) {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return Summary{State: o.Status().State, Session: o.SessionID}, errors.New("sweep: session already run")
	}
	o.ran = true
	if o.SessionID == "" {
		o.SessionID = NewSessionID(time.Now())
	}
	o.status.Session = o.SessionID
	o.mu.Unlock()

	sum := Summary{State: Idle, Session: o.SessionID}
	if err := o.Validate(); err != nil {
		sum.Err = err
		return sum, err
	}

	id, err := o.Recorder.Begin(o.SessionID)
	if err != nil {
		return o.fail(&sum, o.logger().WithField("session", o.SessionID), errors.Wrap(err, "starting session"))
	}
	o.mu.Lock()
	o.SessionID = id
	o.status.Session = id
	o.mu.Unlock()
	sum.Session = id

	log := o.logger().WithField("session", o.SessionID)
	total := o.Range.Len()
	o.update(func(s *Status) {
		s.State = Running
		s.Total = total
	})
	sum.State = Running
	log.WithField("amplitudes", total).Info("session started")

	defer func() {
		o.release()
		if o.Observer != nil {
			o.Observer.SessionEnded(sum)
		}
	}()

	if err := o.Device.Configure(o.Timeout); err != nil {
		fault := &CommunicationFault{Index: -1, Err: errors.Wrap(err, "configuring device timeout")}
		return o.fail(&sum, log, fault)
	}

	it := o.Range.Iter()
	for idx := 0; it.Next(); idx++ {
		amp := it.Amplitude()
		o.update(func(s *Status) {
			s.Index = idx
			s.Amplitude = float64(amp)
		})
		if o.Observer != nil {
			o.Observer.SweepStarted(idx, total, amp)
		}
		slog := log.WithFields(logrus.Fields{"index": idx, "amplitude": float64(amp)})
		slog.Debug("sweep started")

		res, err := o.Executor.Execute(o.Device, idx, amp)
		sum.Sweeps++
		if err != nil {
			if len(res.Points) > 0 {
				slog.WithField("points", res.Points).Error("partial data from failed sweep")
			}
			return o.fail(&sum, slog, err)
		}

		path, err := o.Recorder.Record(o.SessionID, res)
		if err != nil {
			// the result could not be written; the log is its only copy
			slog.WithFields(logrus.Fields{
				"aborted": res.Aborted,
				"points":  res.Points,
			}).Error("unrecorded sweep result")
			return o.fail(&sum, slog, errors.Wrapf(err, "recording sweep %d at %s", idx, amp))
		}
		sum.Files = append(sum.Files, path)
		o.update(func(s *Status) {
			s.Done++
			s.LastFile = path
		})
		slog.WithFields(logrus.Fields{
			"file":    path,
			"points":  len(res.Points),
			"aborted": res.Aborted,
		}).Info("sweep recorded")
		if o.Observer != nil {
			o.Observer.SweepRecorded(res, path)
		}

		if res.Aborted {
			sum.State = Aborted
			o.update(func(s *Status) { s.State = Aborted })
			log.WithField("index", idx).Warn("sweep stopped from the instrument, session aborted")
			return sum, nil
		}
	}

	sum.State = Completed
	o.update(func(s *Status) { s.State = Completed })
	log.WithField("sweeps", sum.Sweeps).Info("session completed")
	return sum, nil
}

func (o *Orchestrator) fail(sum *Summary, log logrus.FieldLogger, err error) (Summary, error) {
	sum.State = Failed
	sum.Err = err
	o.update(func(s *Status) {
		s.State = Failed
		s.Error = err.Error()
	})
	log.WithError(err).Error("session failed")
	return *sum, err
}
