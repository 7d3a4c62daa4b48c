package harness

import (
	"io"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// WriteReport prints a human-readable summary of r.
func WriteReport(w io.Writer, r *Result) error {
	p := message.NewPrinter(language.English)
	rw := &reportWriter{w: w, p: p}

	rw.printf("run %s\n", r.RunID)
	rw.printf("  backend:    %s\n", r.Backend)
	rw.printf("  isolation:  %s\n", r.Level)
	rw.printf("  policy:     %s\n", r.Policy)
	rw.printf("  mode:       %s\n", r.Mode)
	rw.printf("  workers:    %d x %d iterations\n", r.Workers, r.Iterations)
	rw.printf("  expected:   %d\n", r.Expected)
	rw.printf("  final:      %d\n", r.Final)
	rw.printf("  attempts:   %d (%d conflicts, %.1f%%)\n", r.Attempts, r.Conflicts, 100*r.ConflictRate())
	if len(r.Samples) > 0 {
		rw.printf("  samples:    %d\n", len(r.Samples))
	}
	rw.printf("  took:       %s\n", r.Elapsed.Round(time.Millisecond))

	for _, s := range r.States {
		rw.printf("  worker %d: %d committed, %d attempts, %d conflicts\n",
			s.ID, s.Completed, s.Attempts, s.Conflicts)
	}

	switch {
	case r.Pass:
		rw.printf("PASS\n")
	case r.Error != "":
		rw.printf("FAIL: %s\n", r.Error)
	default:
		rw.printf("FAIL\n")
	}
	return rw.err
}

// WriteSuiteReport prints one line per run and a totals line.
func WriteSuiteReport(w io.Writer, r *SuiteResult) error {
	p := message.NewPrinter(language.English)
	rw := &reportWriter{w: w, p: p}

	rw.printf("suite %s\n", r.Name)
	for _, o := range r.Outcomes {
		status := "ok"
		if !o.Met {
			status = "UNEXPECTED"
		}
		rw.printf("  %-10s %-24s %-18s expect=%-12s final=%d/%d conflicts=%d took=%s\n",
			status, o.Run, o.Level, o.Expect, o.Result.Final, o.Result.Expected,
			o.Result.Conflicts, o.Result.Elapsed.Round(time.Millisecond))
		if !o.Met && o.Result.Error != "" {
			rw.printf("             %s\n", o.Result.Error)
		}
	}
	rw.printf("%d runs, %d met expectations, %d unexpected\n",
		len(r.Outcomes), len(r.Outcomes)-r.Unexpected(), r.Unexpected())
	return rw.err
}

// reportWriter keeps the first write error.
type reportWriter struct {
	w   io.Writer
	p   *message.Printer
	err error
}

func (rw *reportWriter) printf(format string, args ...any) {
	if rw.err != nil {
		return
	}
	_, rw.err = rw.p.Fprintf(rw.w, format, args...)
}
