package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/go-compile/jpk"
)

func runExtract(args []string) error {
	fs := pflag.NewFlagSet("extract", pflag.ContinueOnError)
	key := fs.StringP("encryption-key", "k", "", "user key used to derive the cipher key")
	verify := fs.BoolP("verify", "V", false, "verify per-entry HMACs while extracting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: jpk extract [flags] <archive> <target-dir>")
	}

	a, err := jpk.Open(fs.Arg(0), false, jpk.WithUserKey([]byte(*key)))
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Load(false); err != nil {
		return err
	}

	return a.Extract(fs.Arg(1), jpk.ExtractOptions{VerifyFileHmac: *verify})
}
