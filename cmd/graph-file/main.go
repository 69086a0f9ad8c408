// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// graph-file is a command-line tool for accessing a remote drive exposed
// through an item-metadata service. Remote paths use the "shpt://" scheme;
// plain paths refer to the local file system. The drive endpoint and the
// bearer token come from the GRAPH_DRIVE_URL and GRAPH_TOKEN environment
// variables.
package main

import (
	"context"
	"flag"
	"os"

	"golang.org/x/oauth2"

	"github.com/graphdrive/base/cmd/graph-file/cmd"
	"github.com/graphdrive/base/file"
	"github.com/graphdrive/base/file/msgraphfs"
	"github.com/graphdrive/base/log"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	log.AddFlags()
	flag.Parse()
	file.RegisterImplementation("shpt", func() file.Implementation {
		impl, err := msgraphfs.NewImplementation(msgraphfs.Options{
			DriveURL: os.Getenv("GRAPH_DRIVE_URL"),
			TokenSource: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: os.Getenv("GRAPH_TOKEN"),
			}),
		})
		if err != nil {
			log.Fatal(err)
		}
		return impl
	})
	err := cmd.Run(context.Background(), flag.Args())
	if err != nil {
		log.Fatal(err)
	}
}
