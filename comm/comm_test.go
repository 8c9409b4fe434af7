package comm_test

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nasa-jpl/ivsweep/comm"
)

func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen, echo test aborted")
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }() // use goroutines to handle multiple connections
		}
	}()
	return ln.Addr().String()
}

func TestSendRecvEchoStripsTerminator(t *testing.T) {
	addr := tcpEchoServer(t)
	rd := comm.NewRemoteDevice(addr, false, &comm.Terminators{Rx: '\n', Tx: '\n'}, nil)
	rd.Timeout = time.Second
	if err := rd.Open(); err != nil {
		t.Fatalf("could not open: %v", err)
	}
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("*IDN?"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "*IDN?" {
		t.Errorf("expected echo of *IDN?, got %q", resp)
	}
}

func TestConcurrentSendRecvDoNotInterleave(t *testing.T) {
	addr := tcpEchoServer(t)
	rd := comm.NewRemoteDevice(addr, false, &comm.Terminators{Rx: '\n', Tx: '\n'}, nil)
	rd.Timeout = time.Second
	if err := rd.Open(); err != nil {
		t.Fatalf("could not open: %v", err)
	}
	defer rd.Close()
	msgs := []string{"alpha", "bravo", "charlie", "delta"}
	var wg sync.WaitGroup
	for _, m := range msgs {
		wg.Add(1)
		go func(m string) {
			defer wg.Done()
			resp, err := rd.SendRecv([]byte(m))
			if err != nil {
				t.Error(err)
				return
			}
			if string(resp) != m {
				t.Errorf("sent %q got %q", m, resp)
			}
		}(m)
	}
	wg.Wait()
}

func TestTransactHoldsLink(t *testing.T) {
	addr := tcpEchoServer(t)
	rd := comm.NewRemoteDevice(addr, false, &comm.Terminators{Rx: '\n', Tx: '\n'}, nil)
	rd.Timeout = time.Second
	if err := rd.Open(); err != nil {
		t.Fatalf("could not open: %v", err)
	}
	defer rd.Close()
	err := rd.Transact(func(tx comm.Txn) error {
		if err := tx.Send([]byte("one")); err != nil {
			return err
		}
		if err := tx.Send([]byte("two")); err != nil {
			return err
		}
		for _, want := range []string{"one", "two"} {
			got, err := tx.Recv()
			if err != nil {
				return err
			}
			if string(got) != want {
				t.Errorf("expected %q got %q", want, got)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSendWithoutOpenIsNotConnected(t *testing.T) {
	rd := comm.NewRemoteDevice("127.0.0.1:1", false, nil, nil)
	if err := rd.Send([]byte("x")); err != comm.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestOpenFailsAfterBackoff(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing listens there anymore

	rd := comm.NewRemoteDevice(addr, false, nil, nil)
	rd.Timeout = 200 * time.Millisecond
	start := time.Now()
	if err := rd.Open(); err == nil {
		t.Fatal("expected an error opening a closed port")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("open did not give up within its timeout")
	}
}

func TestSerialWithoutConfig(t *testing.T) {
	rd := comm.NewRemoteDevice("/dev/ttyUSB0", true, nil, nil)
	rd.Timeout = 50 * time.Millisecond
	if err := rd.Open(); err == nil {
		t.Fatal("expected an error for serial device with no config")
	}
}
