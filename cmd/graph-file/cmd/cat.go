// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"io"

	"github.com/graphdrive/base/errors"
	"github.com/graphdrive/base/file"
)

func Cat(ctx context.Context, out io.Writer, args []string) (err error) {
	for _, arg := range expandGlobs(ctx, args) {
		var f file.File
		if f, err = file.Open(ctx, arg); err != nil {
			return errors.E(err, "cat", arg)
		}
		defer file.CloseAndReport(ctx, f, &err)
		if _, err = io.Copy(out, f.Reader(ctx)); err != nil {
			return errors.E(err, "cat", arg)
		}
	}
	return nil
}
