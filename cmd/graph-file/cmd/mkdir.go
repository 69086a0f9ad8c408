// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"flag"
	"io"

	"github.com/graphdrive/base/errors"
	"github.com/graphdrive/base/file"
)

func Mkdir(ctx context.Context, out io.Writer, args []string) error {
	var (
		flags       flag.FlagSet
		parentsFlag = flags.Bool("p", false, "Create missing parent directories; existing directories are not an error")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return errors.New("mkdir requires at least one path")
	}
	for _, path := range flags.Args() {
		if err := file.Mkdir(ctx, path, *parentsFlag, *parentsFlag); err != nil {
			return errors.E(err, "mkdir", path)
		}
	}
	return nil
}
