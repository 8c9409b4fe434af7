package gpib

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nasa-jpl/ivsweep/comm"
)

type fakeConn struct {
	out bytes.Buffer
	in  *strings.Reader
}

func (f *fakeConn) Write(b []byte) (int, error) { return f.out.Write(b) }
func (f *fakeConn) Read(b []byte) (int, error)  { return f.in.Read(b) }
func (f *fakeConn) Close() error                { return nil }

func newFake(t *testing.T, replies string, addr int) (*Controller, *fakeConn) {
	t.Helper()
	conn := &fakeConn{in: strings.NewReader(replies)}
	link := NewLink("gateway:1234", false)
	link.Attach(conn)
	c, err := NewController(link, addr)
	if err != nil {
		t.Fatal(err)
	}
	return c, conn
}

func TestOpenConfiguresGateway(t *testing.T) {
	c, conn := newFake(t, "", 18)
	if err := c.Open(); err != nil {
		t.Fatal(err)
	}
	expected := "++mode 1\n++auto 0\n++eoi 1\n++eos 2\n"
	if conn.out.String() != expected {
		t.Errorf("expected setup %q, got %q", expected, conn.out.String())
	}
	conn.out.Reset()
	if err := c.Open(); err != nil {
		t.Fatal(err)
	}
	if conn.out.Len() != 0 {
		t.Errorf("second Open repeated the setup: %q", conn.out.String())
	}
}

func TestQueryAddressesAndReads(t *testing.T) {
	c, conn := newFake(t, "1.5E-13,2.0E-13\r\n", 18)
	resp, err := c.Query(":DATA? 'I'")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "1.5E-13,2.0E-13" {
		t.Errorf("unexpected response %q", resp)
	}
	expected := "++addr 18\n:DATA? 'I'\n++read eoi\n"
	if conn.out.String() != expected {
		t.Errorf("expected %q on the wire, got %q", expected, conn.out.String())
	}
}

func TestWriteEscapesGatewayCharacters(t *testing.T) {
	c, conn := newFake(t, "", 7)
	if err := c.Write("A+B"); err != nil {
		t.Fatal(err)
	}
	expected := "++addr 7\nA\x1b+B\n"
	if conn.out.String() != expected {
		t.Errorf("expected %q got %q", expected, conn.out.String())
	}
}

func TestLocal(t *testing.T) {
	c, conn := newFake(t, "", 3)
	if err := c.Local(); err != nil {
		t.Fatal(err)
	}
	if conn.out.String() != "++addr 3\n++loc\n" {
		t.Errorf("unexpected go-to-local sequence %q", conn.out.String())
	}
}

func TestNewControllerRejectsAddress(t *testing.T) {
	if _, err := NewController(comm.NewRemoteDevice("x", false, nil, nil), 31); err == nil {
		t.Error("expected address 31 to be rejected")
	}
}

func TestParseResource(t *testing.T) {
	tests := []struct {
		in    string
		board int
		addr  int
		err   bool
	}{
		{"GPIB0::18::INSTR", 0, 18, false},
		{"GPIB1::7::INSTR", 1, 7, false},
		{"gpib::7", 0, 7, false},
		{"12", 0, 12, false},
		{"TCPIP::1.2.3.4::INSTR", 0, 0, true},
		{"GPIB0::x::INSTR", 0, 0, true},
	}
	for _, tt := range tests {
		board, addr, err := ParseResource(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("%s: expected err=%v got %v", tt.in, tt.err, err)
			continue
		}
		if board != tt.board || addr != tt.addr {
			t.Errorf("%s: expected (%d,%d) got (%d,%d)", tt.in, tt.board, tt.addr, board, addr)
		}
	}
}
