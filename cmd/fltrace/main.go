// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Command fltrace replays an allocation trace against a free list heap
// and prints what the heap looks like at the end.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/docopt/docopt-go"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"github.com/intuitivelabs/mallocs/flmalloc"
	"github.com/intuitivelabs/mallocs/internal/trace"
	"github.com/intuitivelabs/mallocs/rawmem"
)

const usage = `Free list allocator trace replayer.
Usage:
  fltrace -h | --help
  fltrace [--heap=SIZE] [--source=SRC] [--checks] [--debug] [--json] [<trace>]
Options:
  -h --help        Show this screen.
  --heap=SIZE      Heap size, e.g. 4096, 64KiB or 1MB [default: 1MiB].
  --source=SRC     Heap buffer source: go, mmap or offheap [default: go].
  --checks         Panic on double frees and foreign pointers.
  --debug          Verify the whole heap after every operation.
  --json           Print the report as JSON.
Without <trace> the trace is read from the standard input. Extra options
can be passed in the FLMALLOC_OPTIONS environment variable.`

type config struct {
	heapSize uint64
	source   string
	options  flmalloc.Options
	json     bool
	trace    string
}

// result is what gets printed.
type result struct {
	trace.Report
	HeapSize      uint64  `json:"heap_size"`
	Capacity      uint64  `json:"capacity"`
	Used          uint64  `json:"used"`
	RealUsed      uint64  `json:"real_used"`
	MaxRealUsed   uint64  `json:"max_real_used"`
	FreeBlocks    int     `json:"free_blocks"`
	LargestFree   uint64  `json:"largest_free"`
	Fragmentation float64 `json:"fragmentation"`
}

var errHelp = errors.New("help requested")

func parseArgs(argv []string, stdout io.Writer) (config, error) {
	var cfg config
	if argv == nil {
		// docopt falls back to os.Args on nil
		argv = []string{}
	}
	helped := false
	var msg string
	p := &docopt.Parser{
		HelpHandler: func(err error, usage string) {
			if err != nil {
				msg = usage
				return
			}
			fmt.Fprintln(stdout, usage)
			helped = true
		},
	}
	opts, err := p.ParseArgs(usage, argv, "")
	if err != nil {
		if msg == "" {
			msg = err.Error()
		}
		return cfg, fmt.Errorf("bad arguments %q:\n%s", argv, msg)
	}
	if helped {
		return cfg, errHelp
	}

	heap, _ := opts.String("--heap")
	if cfg.heapSize, err = humanize.ParseBytes(heap); err != nil {
		return cfg, fmt.Errorf("bad heap size %q: %w", heap, err)
	}
	cfg.source, _ = opts.String("--source")
	cfg.json, _ = opts.Bool("--json")
	cfg.options = flmalloc.OptionsFromEnv(flmalloc.FLDefaultOptions)
	if b, _ := opts.Bool("--checks"); b {
		cfg.options |= flmalloc.FLChecks
	}
	if b, _ := opts.Bool("--debug"); b {
		cfg.options |= flmalloc.FLDebug
	}
	if s, ok := opts["<trace>"].(string); ok {
		cfg.trace = s
	}
	return cfg, nil
}

func replay(cfg config, in io.Reader) (res result, err error) {
	ops, err := trace.Parse(in)
	if err != nil {
		return res, err
	}
	src, err := rawmem.ByName(cfg.source)
	if err != nil {
		return res, err
	}
	fl, err := flmalloc.NewFrom(src, cfg.heapSize, cfg.options)
	if err != nil {
		return res, err
	}
	defer func() {
		if derr := fl.Destroy(); derr != nil && err == nil {
			err = derr
		}
	}()

	res.Report, err = trace.Replay(fl, ops)
	if err != nil {
		return res, err
	}
	mu := fl.MUsage()
	res.HeapSize = cfg.heapSize
	res.Capacity = fl.Capacity()
	res.Used = mu.Used
	res.RealUsed = mu.RealUsed
	res.MaxRealUsed = mu.MaxRealUsed
	res.FreeBlocks = len(fl.FreeBlocks())
	res.LargestFree = fl.LargestFree()
	res.Fragmentation = fl.Fragmentation()
	return res, nil
}

func printText(w io.Writer, r result) {
	fmt.Fprintf(w, "heap:          %s (capacity %s)\n",
		humanize.IBytes(r.HeapSize), humanize.IBytes(r.Capacity))
	fmt.Fprintf(w, "allocs:        %s (%s failed)\n",
		humanize.Comma(int64(r.Allocs)), humanize.Comma(int64(r.FailedAllocs)))
	fmt.Fprintf(w, "frees:         %s\n", humanize.Comma(int64(r.Frees)))
	fmt.Fprintf(w, "checks:        %s\n", humanize.Comma(int64(r.Checks)))
	fmt.Fprintf(w, "live:          %d blocks, %s requested, %s in blocks\n",
		r.LiveBlocks, humanize.IBytes(r.LiveBytes), humanize.IBytes(r.BlockBytes))
	fmt.Fprintf(w, "peak live:     %s\n", humanize.IBytes(r.PeakLiveBytes))
	fmt.Fprintf(w, "used:          %s (real %s, max real %s)\n",
		humanize.IBytes(r.Used), humanize.IBytes(r.RealUsed),
		humanize.IBytes(r.MaxRealUsed))
	fmt.Fprintf(w, "free blocks:   %d, largest %s\n",
		r.FreeBlocks, humanize.IBytes(r.LargestFree))
	fmt.Fprintf(w, "fragmentation: %.2f%%\n", r.Fragmentation*100)
}

func run(argv []string, stdin io.Reader, stdout io.Writer) error {
	cfg, err := parseArgs(argv, stdout)
	if err != nil {
		if errors.Is(err, errHelp) {
			return nil
		}
		return err
	}

	in := stdin
	if cfg.trace != "" {
		f, err := os.Open(cfg.trace)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	res, err := replay(cfg, in)
	if err != nil {
		return err
	}
	if cfg.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printText(stdout, res)
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
