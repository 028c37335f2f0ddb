package main

import (
	"flag"
	"fmt"
	"io"
)

func runEventsCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cursor := fs.Uint64("cursor", 0, "Return events with sequence greater than this value")
	limit := fs.Int("limit", 0, "Maximum events per page (daemon caps apply)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "Unexpected argument: %s\n", fs.Arg(0))
		return 1
	}

	params := map[string]interface{}{"cursor": *cursor}
	if *limit > 0 {
		params["limit"] = *limit
	}
	return dispatchRPC("events_since", params, false, stdout, stderr)
}
