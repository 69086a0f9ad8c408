// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package msgraphfs implements the file.Implementation interface on top of
// a REST item-metadata service that exposes a remote drive, such as a
// SharePoint document library. Objects are addressed either by opaque item
// ID or by drive-relative path; the package resolves between the two and
// keeps the addressing syntax out of every error a caller sees.
//
// All requests go through a resilient transport that retries transient
// upstream failures (HTTP 500, 502, 503, 504 and network errors) with
// exponential backoff. Writes above one block are staged through resumable
// upload sessions whose chunks must be aligned to 320 KiB; smaller files
// are sent in a single request. Directory listings are cached with a TTL
// and invalidated when a mutation changes what a listing would return.
package msgraphfs

import (
	"context"
	"net/http"
	pathpkg "path"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/graphdrive/base/errors"
	"github.com/graphdrive/base/file"
	"github.com/graphdrive/base/retry"
	"github.com/graphdrive/base/ttlcache"
)

const (
	// uploadAlignment is the chunk granularity the upload service accepts.
	// Every non-final chunk of an upload session must be a multiple of it.
	uploadAlignment = 320 << 10

	// defaultBlockSize is the transfer unit used when Opts.BlockSize is not
	// set. It is a multiple of uploadAlignment.
	defaultBlockSize = 10 << 20

	defaultRetries  = 5
	defaultCacheTTL = 5 * time.Minute

	backoffInitial = 100 * time.Millisecond
	backoffMax     = 15 * time.Second
	backoffFactor  = 1.7
)

// Options configures an Implementation instance.
type Options struct {
	// DriveURL is the service endpoint of the drive, e.g.
	// "https://graph.microsoft.com/v1.0/drives/<drive-id>". Required.
	DriveURL string

	// TokenSource supplies bearer tokens for every request. Ignored when
	// Client is set.
	TokenSource oauth2.TokenSource

	// Client is a prebuilt HTTP client, typically from oauth2.NewClient.
	// One of Client or TokenSource must be set.
	Client *http.Client

	// Retries bounds the total number of attempts per request, first try
	// included. Zero means the default of 5.
	Retries int

	// BlockSize is the default transfer unit, in bytes. It must be a
	// multiple of 320 KiB. Zero means 10 MiB. Opts.BlockSize overrides it
	// per handle.
	BlockSize int

	// CacheTTL bounds the age of cached directory listings. Zero means the
	// default of 5 minutes; negative disables the cache.
	CacheTTL time.Duration
}

type graphImpl struct {
	driveURL  string
	client    *http.Client
	retries   int
	policy    retry.Policy
	blockSize int
	dircache  *ttlcache.Cache[string, []file.Info]
}

// NewImplementation creates an Implementation that accesses the drive
// described by opts. Register it with file.RegisterImplementation to make
// the package-level file functions route scheme-prefixed paths to it.
func NewImplementation(opts Options) (file.Implementation, error) {
	if opts.DriveURL == "" {
		return nil, errors.E(errors.Invalid, "msgraphfs: DriveURL must be set")
	}
	client := opts.Client
	if client == nil {
		if opts.TokenSource == nil {
			return nil, errors.E(errors.Invalid, "msgraphfs: one of Client or TokenSource must be set")
		}
		client = oauth2.NewClient(context.Background(), opts.TokenSource)
	}
	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = defaultBlockSize
	}
	if err := validateBlockSize(blockSize); err != nil {
		return nil, err
	}
	retries := opts.Retries
	if retries == 0 {
		retries = defaultRetries
	}
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	impl := &graphImpl{
		driveURL:  strings.TrimSuffix(opts.DriveURL, "/"),
		client:    client,
		retries:   retries,
		policy:    retry.Backoff(backoffInitial, backoffMax, backoffFactor),
		blockSize: blockSize,
	}
	if ttl > 0 {
		impl.dircache = ttlcache.New[string, []file.Info](ttl)
	}
	return impl, nil
}

// String implements file.Implementation.
func (impl *graphImpl) String() string { return "msgraph" }

func validateBlockSize(n int) error {
	if n <= 0 || n%uploadAlignment != 0 {
		return errors.E(errors.Invalid,
			"block size must be a positive multiple of 320 KiB")
	}
	return nil
}

// parsePath splits a scheme-prefixed path into the scheme and the
// drive-relative path. The drive path is cleaned and rooted: "/dir/obj" for
// an object, "" for the drive root.
func parsePath(p string) (scheme, drivePath string, err error) {
	scheme, suffix, err := file.ParsePath(p)
	if err != nil {
		return "", "", err
	}
	if scheme == "" {
		return "", "", errors.E(errors.Invalid, p, "not a remote drive path")
	}
	drivePath = pathpkg.Clean("/" + suffix)
	if drivePath == "/" {
		drivePath = ""
	}
	return scheme, drivePath, nil
}

// extPath is the inverse of parsePath: it renders a drive-relative path in
// the caller-visible scheme-prefixed form.
func extPath(scheme, drivePath string) string {
	return scheme + "://" + strings.TrimPrefix(drivePath, "/")
}

// split separates a drive path into its parent directory and base name.
// The parent of a top-level entry is "" (the drive root).
func split(drivePath string) (parent, name string) {
	i := strings.LastIndexByte(drivePath, '/')
	if i < 0 {
		return "", drivePath
	}
	return drivePath[:i], drivePath[i+1:]
}

func (impl *graphImpl) mergeOpts(opts []file.Opts) (file.Opts, error) {
	var o file.Opts
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.BlockSize == 0 {
		o.BlockSize = impl.blockSize
	}
	if err := validateBlockSize(o.BlockSize); err != nil {
		return file.Opts{}, err
	}
	return o, nil
}
