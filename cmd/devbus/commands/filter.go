package commands

import (
	"fmt"

	"github.com/devbus/devbus-go/pkg/log"
)

// RunFilter appends the selected events of the capture at path to the
// capture at output and returns how many were written.
func RunFilter(path, output string, filter log.Filter) (int, error) {
	r, err := log.OpenCapture(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open capture: %w", err)
	}
	defer r.Close()

	out, err := log.CreateCapture(output)
	if err != nil {
		return 0, err
	}
	n := 0
	err = r.Each(func(e log.Event) error {
		out.Log(e)
		n++
		return nil
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && out.Dropped() > 0 {
		err = fmt.Errorf("%d events could not be written to %s", out.Dropped(), output)
	}
	return n, err
}
