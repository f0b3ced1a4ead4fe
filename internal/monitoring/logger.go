package monitoring

import "log"

// Logf is the diagnostic logger shared by the segmentation, matching and
// pipeline packages. It defaults to log.Printf; SetLogger redirects or mutes
// it (the CLI mutes it under -quiet).
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
