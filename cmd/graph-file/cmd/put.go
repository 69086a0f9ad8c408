// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/graphdrive/base/errors"
	"github.com/graphdrive/base/file"
)

func Put(ctx context.Context, out io.Writer, args []string) (err error) {
	var (
		flags      flag.FlagSet
		appendFlag = flags.Bool("a", false, "Append to the file instead of replacing it")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("put requires a single path")
	}
	arg := flags.Arg(0)
	f, err := file.Create(ctx, arg, file.Opts{Append: *appendFlag})
	if err != nil {
		return errors.E(err, "put", arg)
	}
	defer file.CloseAndReport(ctx, f, &err)
	if _, err = io.Copy(f.Writer(ctx), os.Stdin); err != nil {
		return errors.E(err, "put", arg)
	}
	return nil
}
