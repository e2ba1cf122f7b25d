package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/GoCodeAlone/topology/platform"
)

func runRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	stateLoc := fs.String("state", "", "State store: a SQLite file path or a postgres:// URL")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	output := fs.String("output", "text", "Output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: topoctl runs [options] <topology-name>\n\nList recorded applies of a topology, most recent first.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("topology name is required")
	}
	if *stateLoc == "" {
		return fmt.Errorf("-state is required: runs are only kept by persistent stores")
	}

	ctx := context.Background()
	store, err := openStore(ctx, *stateLoc)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}
	recorder, ok := store.(platform.RunRecorder)
	if !ok {
		return fmt.Errorf("state store %s does not record runs", *stateLoc)
	}
	runs, err := recorder.ListRuns(ctx, fs.Arg(0), *limit)
	if err != nil {
		return err
	}
	if *output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	writeRuns(os.Stdout, runs)
	return nil
}

func writeRuns(w io.Writer, runs []*platform.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPROVIDER\tSTATUS\tCREATED\tREUSED\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		var dur string
		if !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.ID, r.Provider, r.Status, r.Created, r.Reused,
			r.StartedAt.Format(time.RFC3339), dur, r.Error)
	}
	tw.Flush()
}
