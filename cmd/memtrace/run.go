/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/cloudwego/memmgr/internal/trace"
	"github.com/cloudwego/memmgr/memory/diag"
)

var (
	runJSON   bool
	runStrict bool
	runDump   bool
)

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <trace>...",
		Short: "Replay traces",
		Long: `The run command replays traces and prints one row per step.
Several traces are replayed concurrently, each on its own buffer, and
reported in the order given. It fails if a step didn't return the code
given by its expect field, or, with --strict, at the first diagnostic error.

Example:
  memtrace run testdata/stack.yaml
  memtrace run testdata/stack.yaml --dump
  memtrace run testdata/*.yaml --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraces(cmd.OutOrStdout(), cmd.ErrOrStderr(), args)
		},
	}
	cmd.Flags().BoolVar(&runJSON, "json", false, "Output the reports in JSON format")
	cmd.Flags().BoolVar(&runStrict, "strict", false, "Stop at the first diagnostic error")
	cmd.Flags().BoolVar(&runDump, "dump", false, "Print the stack header chain after the run")
	return cmd
}

func runTraces(out, errOut io.Writer, paths []string) error {
	log := newLogger(errOut)
	reports := make([]*trace.Report, len(paths))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() (err error) {
			reports[i], err = replay(path, log.With().Str("trace", filepath.Base(path)).Logger())
			return err
		})
	}
	err := g.Wait()

	if runJSON {
		var v interface{} = reports
		if len(reports) == 1 {
			v = reports[0]
		}
		if jerr := printJSON(out, v); jerr != nil {
			return jerr
		}
		return err
	}
	for i, rep := range reports {
		if len(paths) > 1 {
			fmt.Fprintf(out, "== %s\n", paths[i])
		}
		if rep != nil {
			printReport(out, rep, runDump)
		}
		if len(paths) > 1 && i < len(paths)-1 {
			fmt.Fprintln(out)
		}
	}
	return err
}

// replay runs one trace. The report is returned as long as the trace could
// be loaded.
func replay(path string, log zerolog.Logger) (*trace.Report, error) {
	tr, err := trace.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load trace: %w", err)
	}
	tr.Strict = tr.Strict || runStrict

	rep, err := tr.Run(diag.New(log, false), log)
	if err != nil {
		return rep, fmt.Errorf("%s: %w", path, err)
	}
	if rep.Mismatches > 0 {
		return rep, fmt.Errorf("%s: %d step(s) did not return the expected code", path, rep.Mismatches)
	}
	log.Info().
		Str("manager", rep.Manager).
		Int("steps", len(rep.Steps)).
		Uint64("peak", rep.Peak).
		Int("diagnostics", rep.Diagnostics).
		Msg("trace replayed")
	return rep, nil
}

var printer = message.NewPrinter(language.English)

func printReport(w io.Writer, rep *trace.Report, dump bool) {
	printer.Fprintf(w, "manager: %s  backing: %s  capacity: %d\n\n", rep.Manager, rep.Backing, rep.Capacity)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Op", "ID", "Code", "Offset", "Size", "Used", "Note"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, s := range rep.Steps {
		code, offset, size := "", "", ""
		if s.Code != nil {
			code = s.Code.String()
		}
		if s.Offset >= 0 {
			offset = strconv.FormatInt(s.Offset, 10)
			size = strconv.FormatUint(s.Size, 10)
		}
		note := ""
		switch {
		case s.Skipped:
			note = "skipped, alloc failed"
		case s.Mismatch:
			note = "expected " + s.Expected.String()
		}
		table.Append([]string{strconv.Itoa(s.Index), s.Op, s.ID, code, offset, size, strconv.FormatUint(s.Used, 10), note})
	}
	table.Render()

	summary := paint(color.FgGreen)
	switch {
	case rep.Mismatches > 0:
		summary = paint(color.FgRed)
	case rep.Diagnostics > 0:
		summary = paint(color.FgYellow)
	}
	summary.Fprint(w, printer.Sprintf("\nused: %d  peak: %d  available: %d  diagnostics: %d  mismatches: %d\n",
		rep.Used, rep.Peak, rep.Capacity-rep.Used, rep.Diagnostics, rep.Mismatches))

	if !dump || len(rep.Headers) == 0 {
		return
	}
	fmt.Fprintln(w)
	headers := tablewriter.NewWriter(w)
	headers.SetHeader([]string{"Offset", "Size", "Kind"})
	headers.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, h := range rep.Headers {
		kind := "live"
		if h.Sentry {
			kind = "sentry"
		}
		headers.Append([]string{strconv.FormatUint(h.Offset, 10), strconv.FormatUint(uint64(h.Size), 10), kind})
	}
	headers.Render()
}
