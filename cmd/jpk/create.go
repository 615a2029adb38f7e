package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/go-compile/jpk"
)

func runCreate(args []string) error {
	fs := pflag.NewFlagSet("create", pflag.ContinueOnError)
	key := fs.StringP("encryption-key", "k", "", "user key used to derive the cipher key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: jpk create [-k key] <archive>")
	}

	a, err := jpk.Open(fs.Arg(0), true, jpk.WithUserKey([]byte(*key)))
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println(fs.Arg(0))
	return nil
}
