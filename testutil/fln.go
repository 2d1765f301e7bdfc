package testutil

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// FileLineNumber is where a step of a table driven test was declared, so that
// failures can point at the step rather than at the loop running it.
type FileLineNumber struct {
	File string
	Line int
}

func (fln FileLineNumber) String() string {
	if fln.File == "" || fln.Line == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d: ", filepath.Base(fln.File), fln.Line)
}

// Fln returns the location of its caller.
func Fln() FileLineNumber {
	_, fn, ln, ok := runtime.Caller(1)
	if !ok {
		return FileLineNumber{}
	}
	return FileLineNumber{fn, ln}
}
