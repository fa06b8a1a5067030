package asyncnet

import (
	"log"
	"os"
)

// Logger is the ambient logging seam used by the reader to report
// non-fatal accept errors to its "external collaborator" (spec.md §4.F,
// §7). Grounded on the teacher's exclusive use of the stdlib log
// package (xtaci/kcptun never imports a structured logging library);
// kept as a one-method interface so a caller may still plug in their
// own logger without this module depending on one.
type Logger interface {
	Printf(format string, args ...any)
}

// defaultLogger wraps the stdlib *log.Logger writing to stderr, mirroring
// kcptun's default log.Println/log.Printf call sites.
func defaultLogger() Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}
