package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/go-compile/jpk"
)

func runListHeaders(args []string) error {
	fs := pflag.NewFlagSet("list-headers", pflag.ContinueOnError)
	key := fs.StringP("encryption-key", "k", "", "user key used to derive the cipher key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: jpk list-headers [flags] <archive>")
	}

	a, err := jpk.Open(fs.Arg(0), false, jpk.WithUserKey([]byte(*key)))
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Load(false); err != nil {
		return err
	}

	for _, h := range a.Headers() {
		fmt.Printf("%s\t%v\n", h.Key, h.Value)
	}
	return nil
}
