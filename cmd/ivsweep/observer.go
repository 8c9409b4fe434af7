package main

import (
	"fmt"
	"io"
	"time"

	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/ivsweep/sweep"
)

// spinnerObserver shows session progress on a terminal
type spinnerObserver struct {
	sp *yacspin.Spinner
}

func newSpinnerObserver(w io.Writer) (*spinnerObserver, error) {
	cfg := yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " ",
		SuffixAutoColon:   true,
		Message:           "configuring analyzer",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	}
	sp, err := yacspin.New(cfg)
	if err != nil {
		return nil, err
	}
	return &spinnerObserver{sp: sp}, nil
}

func (s *spinnerObserver) SweepStarted(index, total int, amp sweep.Amplitude) {
	if index == 0 {
		s.sp.Start()
	}
	s.sp.Message(fmt.Sprintf("sweep %d of %d at %s", index+1, total, amp))
}

func (s *spinnerObserver) SweepRecorded(r sweep.Result, path string) {
	if r.Aborted {
		s.sp.Message(fmt.Sprintf("sweep %d stopped at the instrument", r.Index+1))
	}
}

func (s *spinnerObserver) SessionEnded(sum sweep.Summary) {
	switch sum.State {
	case sweep.Completed, sweep.Aborted:
		s.sp.StopMessage(fmt.Sprintf("%s, %d sweeps", sum.State, sum.Sweeps))
		s.sp.Stop()
	default:
		s.sp.StopFailMessage(fmt.Sprintf("%s after %d sweeps", sum.State, sum.Sweeps))
		s.sp.StopFail()
	}
}
