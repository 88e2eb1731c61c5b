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
	"os"
	"time"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	// Global flags
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "memtrace",
	Short: "Replay allocation traces against fixed-buffer memory managers",
	Long: `memtrace runs scripted sequences of alloc, realloc and free calls
against a stack or bump manager bound to a fixed, pooled or mmap'd buffer,
and prints the result code, offset and usage after every step. Traces are
YAML, or TOML when the file name ends in .toml.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every step")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored log output")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger returns a console logger, debug level with --verbose.
// It is safe for concurrent use.
func newLogger(w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	cw := zerolog.ConsoleWriter{Out: w, NoColor: !isTerminal(w), TimeFormat: time.Kitchen}
	return zerolog.New(zerolog.SyncWriter(cw)).Level(level).With().Timestamp().Logger()
}

// isTerminal reports whether colored output should go to w.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return !noColor && ok && term.IsTerminal(int(f.Fd()))
}

// paint returns a color honoring --no-color.
func paint(attr color.Attribute) *color.Color {
	c := color.New(attr)
	if noColor {
		c.DisableColor()
	}
	return c
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// printJSON outputs data as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
