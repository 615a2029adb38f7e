package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/go-compile/jpk"
)

func runAdd(args []string) error {
	fs := pflag.NewFlagSet("add", pflag.ContinueOnError)
	gzip := fs.BoolP("gzip", "z", false, "gzip-compress added entries")
	encrypt := fs.BoolP("encrypt", "e", false, "AES-256-CTR encrypt added entries")
	hmacFlag := fs.BoolP("hmac", "H", false, "append a per-entry HMAC-SHA256")
	metaHmac := fs.BoolP("meta-hmac", "M", false, "add the global meta HMAC after adding (fails if the archive already has one)")
	key := fs.StringP("encryption-key", "k", "", "user key used to derive the cipher key")
	prefix := fs.String("prefix", "", "key prefix for every added source")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: jpk add [flags] <archive> <path>...")
	}

	a, err := jpk.Open(fs.Arg(0), false, jpk.WithUserKey([]byte(*key)))
	if err != nil {
		return err
	}
	defer a.Close()

	sources := make([]jpk.AddSource, 0, fs.NArg()-1)
	for _, path := range fs.Args()[1:] {
		sources = append(sources, jpk.AddSource{Path: path})
	}

	opts := jpk.AddOptions{
		Prefix:     *prefix,
		Gzip:       *gzip,
		Encryption: *encrypt,
		Hmac:       *hmacFlag,
	}
	if err := a.Add(sources, opts); err != nil {
		return err
	}

	if *metaHmac {
		if err := a.AddMetaHmac(); err != nil {
			return err
		}
	}

	return nil
}
