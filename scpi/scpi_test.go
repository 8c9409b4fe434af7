package scpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedBus struct {
	writes  []string
	replies map[string][]string
}

func (b *scriptedBus) Write(s string) error {
	b.writes = append(b.writes, s)
	return nil
}

func (b *scriptedBus) Query(s string) (string, error) {
	b.writes = append(b.writes, s)
	q := b.replies[s]
	if len(q) == 0 {
		return "", nil
	}
	b.replies[s] = q[1:]
	return q[0], nil
}

func TestWriteJoinsWithSemicolon(t *testing.T) {
	bus := &scriptedBus{}
	s := SCPI{Bus: bus}
	require.NoError(t, s.Write(":PAGE:CHAN:MODE SWE", ":PAGE:CHAN:ALL:DIS"))
	assert.Equal(t, []string{":PAGE:CHAN:MODE SWE;:PAGE:CHAN:ALL:DIS"}, bus.writes)
}

func TestHandshakingSurfacesDeviceError(t *testing.T) {
	bus := &scriptedBus{replies: map[string][]string{
		":SYSTem:ERRor?": {`-113,"Undefined header"`, `+0,"No error"`},
	}}
	s := SCPI{Bus: bus, Handshaking: true}
	err := s.Write("BOGUS")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined header")
	require.NoError(t, s.Write("FINE"))
}

func TestReadFloats(t *testing.T) {
	bus := &scriptedBus{replies: map[string][]string{
		":DATA? 'I'": {" 1.0E-13, 1.7E-13,-2.5E-12\n"},
	}}
	s := SCPI{Bus: bus}
	fs, err := s.ReadFloats(":DATA? 'I'")
	require.NoError(t, err)
	assert.Equal(t, []float64{1e-13, 1.7e-13, -2.5e-12}, fs)
}

func TestReadFloatsEmptyAndMalformed(t *testing.T) {
	fs, err := ParseFloats("")
	require.NoError(t, err)
	assert.Empty(t, fs)

	_, err = ParseFloats("1,abc,3")
	assert.Error(t, err)
}

func TestReadIntAcceptsExponentForm(t *testing.T) {
	bus := &scriptedBus{replies: map[string][]string{
		"*ESR?": {"+1.000000E+00"},
		"*STB?": {"+32"},
	}}
	s := SCPI{Bus: bus}
	i, err := s.ReadInt("*ESR?")
	require.NoError(t, err)
	assert.Equal(t, 1, i)
	i, err = s.ReadInt("*STB?")
	require.NoError(t, err)
	assert.Equal(t, 32, i)
}

func TestAllErrorsString(t *testing.T) {
	bus := &scriptedBus{replies: map[string][]string{
		":SYSTem:ERRor?": {`-222,"Data out of range"`, `-113,"Undefined header"`, `0,"No error"`},
	}}
	s := SCPI{Bus: bus}
	str, err := s.AllErrorsString()
	require.Error(t, err)
	assert.Contains(t, str, "Data out of range")
	assert.Contains(t, str, "Undefined header")
}
