package record

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/ivsweep/sweep"
)

// Encode renders points as a header row followed by one "x,i" row per point.
// Values use the shortest representation that parses back to the same float64.
func Encode(header string, pts []sweep.Point) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(header)+1+len(pts)*24))
	buf.WriteString(header)
	buf.WriteByte('\n')
	var scratch [32]byte
	for _, p := range pts {
		buf.Write(strconv.AppendFloat(scratch[:0], p.X, 'g', -1, 64))
		buf.WriteByte(',')
		buf.Write(strconv.AppendFloat(scratch[:0], p.I, 'g', -1, 64))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Decode reads a file written by Encode, returning its header and points in
// file order
func Decode(r io.Reader) (string, []sweep.Point, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.ReuseRecord = true
	rec, err := cr.Read()
	if err == io.EOF {
		return "", nil, errors.New("record: empty file, no header")
	}
	if err != nil {
		return "", nil, errors.Wrap(err, "record: reading header")
	}
	header := strings.Join(rec, ",")
	pts := []sweep.Point{}
	for line := 2; ; line++ {
		rec, err = cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return header, pts, errors.Wrapf(err, "record: line %d", line)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return header, pts, errors.Wrapf(err, "record: line %d column 1", line)
		}
		i, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return header, pts, errors.Wrapf(err, "record: line %d column 2", line)
		}
		pts = append(pts, sweep.Point{X: x, I: i})
	}
	return header, pts, nil
}
