// Command jpk is a thin CLI wrapper over the jpk package: create, add,
// extract, list, and list-headers. All archive semantics live in the
// library; this command only parses flags and calls into it.
package main

import (
	"fmt"
	"os"
)

type subcommand struct {
	names []string
	run   func(args []string) error
}

var subcommands = []subcommand{
	{names: []string{"create", "c"}, run: runCreate},
	{names: []string{"add", "a"}, run: runAdd},
	{names: []string{"extract", "x"}, run: runExtract},
	{names: []string{"list", "l"}, run: runList},
	{names: []string{"list-headers", "lh"}, run: runListHeaders},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "jpk: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing subcommand (create|add|extract|list|list-headers)")
	}

	name, rest := args[0], args[1:]
	for _, sub := range subcommands {
		for _, n := range sub.names {
			if n == name {
				return sub.run(rest)
			}
		}
	}
	return fmt.Errorf("unknown subcommand %q", name)
}
