// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/graphdrive/base/file"
)

func Rm(ctx context.Context, out io.Writer, args []string) error {
	var (
		flags         flag.FlagSet
		verboseFlag   = flags.Bool("v", false, "Enable verbose logging")
		recursiveFlag = flags.Bool("R", false, "Recursive remove")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	args = expandGlobs(ctx, flags.Args())
	g, ctx := errgroup.WithContext(ctx)
	for _, path := range args {
		path := path
		g.Go(func() error {
			if *verboseFlag {
				fmt.Fprintf(os.Stderr, "%s\n", path) // nolint: errcheck
			}
			if *recursiveFlag {
				return file.RemoveAll(ctx, path)
			}
			return file.Remove(ctx, path)
		})
	}
	return g.Wait()
}
