// Package monitoring holds the diagnostic logger shared by the library
// packages. Binaries keep using the standard log package directly.
package monitoring

import "log"

// Logf writes one diagnostic line. It is log.Printf unless replaced.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger installs f as Logf and returns the logger it replaced. A nil f
// discards all output.
func SetLogger(f func(format string, v ...interface{})) (previous func(format string, v ...interface{})) {
	previous = Logf
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
	return previous
}
