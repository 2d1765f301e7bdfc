package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leftmike/lstore/repl"
)

var (
	replCmd = &cobra.Command{
		Use:   "repl [file ...]",
		Short: "Run commands against the database, interactively or from files",
		RunE:  replRun,
	}

	cmdArgs = []string{}
)

func init() {
	replCmd.Flags().StringSliceVarP(&cmdArgs, "command", "c", cmdArgs,
		"`command` to run; multiple allowed")

	lstoreCmd.AddCommand(replCmd)
}

func replRun(cmd *cobra.Command, args []string) (err error) {
	d, err := openDatabase()
	if err != nil {
		return err
	}
	defer func() {
		cerr := d.Close()
		if err == nil && cerr != nil {
			err = fmt.Errorf("lstore: %s", cerr)
		}
	}()

	w := cmd.OutOrStdout()
	if len(cmdArgs) > 0 {
		err = repl.Run(d, repl.Lines(strings.NewReader(strings.Join(cmdArgs, "\n"))), w)
		if err != nil {
			return err
		}
	}

	for _, arg := range args {
		f, err := os.Open(arg)
		if err != nil {
			return fmt.Errorf("lstore: %s", err)
		}
		err = repl.Run(d, repl.Lines(f), w)
		f.Close()
		if err != nil {
			return fmt.Errorf("lstore: %s: %s", arg, err)
		}
	}

	if len(args) == 0 && len(cmdArgs) == 0 {
		lr, done := repl.Interact()
		defer done()
		return repl.Run(d, lr, w)
	}
	return nil
}
