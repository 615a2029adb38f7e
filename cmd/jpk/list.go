package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/go-compile/jpk"
)

func runList(args []string) error {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	key := fs.StringP("encryption-key", "k", "", "user key used to derive the cipher key")
	directories := fs.Bool("directories", false, "list directory entries instead of files")
	fs.BoolVar(directories, "dir", false, "alias for --directories")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: jpk list [flags] <archive>")
	}

	a, err := jpk.Open(fs.Arg(0), false, jpk.WithUserKey([]byte(*key)))
	if err != nil {
		return err
	}
	defer a.Close()

	if *directories {
		keys, err := a.DirectoryKeys()
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	}

	keys, err := a.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		meta, err := a.GetMeta(k)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%d\n", meta.Key, meta.Size)
	}
	return nil
}
