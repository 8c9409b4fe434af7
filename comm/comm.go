/*Package comm provides the byte-level link to lab hardware.

Most usages of this package will boil down to:
	1.  create a RemoteDevice with NewRemoteDevice, choosing TCP or serial
	2.  Open it (connection attempts are retried with an exponential backoff)
	3.  Send, Recv or SendRecv terminated messages
	4.  Close it when the instrument is released

A RemoteDevice serializes every transaction with a mutex, so at most one
command is ever outstanding on the link.  Physical instruments interleave
nothing, and a second command mid-sweep would corrupt the first.

A minimal example for an instrument that answers "*IDN?":

	rd := comm.NewRemoteDevice("192.168.100.50:1234", false, nil, nil)
	if err := rd.Open(); err != nil {
		return err
	}
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("*IDN?"))
*/
package comm

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

const (
	// DefaultTimeout is used for connect, read and write when no timeout is set
	DefaultTimeout = 3 * time.Second
)

var (
	// ErrNoSerialConf is generated when a serial device has no serial.Config
	ErrNoSerialConf = errors.New("device is serial but has no serial configuration")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Terminators holds the transmit and receive termination bytes
type Terminators struct {
	Rx byte
	Tx byte
}

// deadliner is satisfied by net.Conn
type deadliner interface {
	SetDeadline(time.Time) error
}

/*RemoteDevice has an address and can Open, Send, Recv and Close.

The device is concurrent-safe; each Send, Recv and SendRecv holds the
link for its duration.
*/
type RemoteDevice struct {
	// Addr is a host:port for TCP or a device path for serial
	Addr string

	// IsSerial selects RS-232 over TCP
	IsSerial bool

	// Timeout bounds connect and every read or write.  Zero means DefaultTimeout
	Timeout time.Duration

	// Conn is the open connection, nil when closed
	Conn io.ReadWriteCloser

	term    Terminators
	serConf *serial.Config
	reader  *bufio.Reader
	mu      sync.Mutex
}

// NewRemoteDevice creates a new RemoteDevice instance.  If term is nil,
// carriage return is used for both directions.  serConf is only consulted
// when serial is true; its Name is replaced with addr.
func NewRemoteDevice(addr string, serial bool, term *Terminators, serConf *serial.Config) *RemoteDevice {
	if term == nil {
		term = &Terminators{Rx: '\r', Tx: '\r'}
	}
	if serConf != nil {
		conf := *serConf
		conf.Name = addr
		serConf = &conf
	}
	return &RemoteDevice{
		Addr:     addr,
		IsSerial: serial,
		term:     *term,
		serConf:  serConf}
}

func (rd *RemoteDevice) timeout() time.Duration {
	if rd.Timeout <= 0 {
		return DefaultTimeout
	}
	return rd.Timeout
}

// Open the connection, setting the Conn variable.  Opening an already open
// device is a no-op.
func (rd *RemoteDevice) Open() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn != nil {
		return nil
	}
	// we use an exponential backoff, GPIB gateways and portservers
	// do not like being connection thrashed.  Refusals are retried too;
	// a gateway that was just power cycled refuses for a moment.
	attempts := 0
	op := func() error {
		attempts++
		return rd.open()
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      rd.timeout(),
		Clock:               backoff.SystemClock})
	if err != nil {
		return errors.Wrapf(err, "connecting to %s (%d attempts)", rd.Addr, attempts)
	}
	return nil
}

func (rd *RemoteDevice) open() error {
	var err error
	var conn io.ReadWriteCloser
	if rd.IsSerial {
		if rd.serConf == nil {
			return ErrNoSerialConf
		}
		conf := *rd.serConf
		if conf.ReadTimeout == 0 {
			conf.ReadTimeout = rd.timeout()
		}
		conn, err = serial.OpenPort(&conf)
	} else {
		conn, err = TCPSetup(rd.Addr, rd.timeout())
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.reader = bufio.NewReader(conn)
	return nil
}

// Close the connection, nil-ing the Conn variable.  Closing a closed device
// is a no-op.
func (rd *RemoteDevice) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.reader = nil
	return err
}

// Attach uses an already open connection, for example a net.Pipe in tests
// or a link opened by another library.
func (rd *RemoteDevice) Attach(conn io.ReadWriteCloser) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	rd.Conn = conn
	rd.reader = bufio.NewReader(conn)
}

// TxTerminator returns the transmission termination byte
func (rd *RemoteDevice) TxTerminator() byte {
	return rd.term.Tx
}

// RxTerminator returns the receipt termination byte
func (rd *RemoteDevice) RxTerminator() byte {
	return rd.term.Rx
}

func (rd *RemoteDevice) arm() {
	if d, ok := rd.Conn.(deadliner); ok {
		d.SetDeadline(time.Now().Add(rd.timeout()))
	}
}

// Send writes data to the remote after appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.send(b)
}

func (rd *RemoteDevice) send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	rd.arm()
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, rd.TxTerminator())
	_, err := rd.Conn.Write(buf)
	return err
}

// Recv recieves data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.recv()
}

func (rd *RemoteDevice) recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	rd.arm()
	term := rd.RxTerminator()
	buf, err := rd.reader.ReadBytes(term)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	buf = bytes.TrimSuffix(buf, []byte{term})
	// instruments terminating with CRLF leave a stray CR when Rx is LF
	return bytes.TrimSuffix(buf, []byte{'\r'}), nil
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped.
// No other transaction can interleave between the two halves.
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if err := rd.send(b); err != nil {
		return nil, err
	}
	return rd.recv()
}

// Txn is a view of a RemoteDevice inside Transact.  Its methods do not lock.
type Txn struct {
	rd *RemoteDevice
}

// Send is RemoteDevice.Send without locking
func (t Txn) Send(b []byte) error {
	return t.rd.send(b)
}

// Recv is RemoteDevice.Recv without locking
func (t Txn) Recv() ([]byte, error) {
	return t.rd.recv()
}

// Transact holds the link for the duration of fn, so a multi-message
// exchange (address, command, read request) is never split by another caller.
func (rd *RemoteDevice) Transact(fn func(Txn) error) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return fn(Txn{rd})
}

// String implements fmt.Stringer
func (rd *RemoteDevice) String() string {
	kind := "tcp"
	if rd.IsSerial {
		kind = "serial"
	}
	return fmt.Sprintf("%s://%s", kind, rd.Addr)
}

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}
