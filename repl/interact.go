package repl

import (
	"fmt"
	"io"
	"os"

	"github.com/peterh/liner"
)

const (
	lstoreHistory = ".lstore_history"
)

type lineReader struct {
	line *liner.State
}

func (lr lineReader) ReadLine() (string, error) {
	s, err := lr.line.Prompt("lstore: ")
	if err == liner.ErrPromptAborted {
		return "", io.EOF
	} else if err != nil {
		return "", err
	}
	lr.line.AppendHistory(s)
	return s, nil
}

// Interact returns a LineReader for the console with line editing; the history is
// kept in a file in the current directory. Call the returned function when done.
func Interact() (LineReader, func()) {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(lstoreHistory); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	return lineReader{line: line}, func() {
		if f, err := os.Create(lstoreHistory); err != nil {
			fmt.Fprintf(os.Stderr, "lstore: error writing history file, %s: %s\n",
				lstoreHistory, err)
		} else {
			line.WriteHistory(f)
			f.Close()
		}
		line.Close()
	}
}
