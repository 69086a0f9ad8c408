// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package msgraphfs

import (
	"strings"

	"github.com/graphdrive/base/file"
)

// Cache keys are drive paths; the drive root is keyed as "/".
func cacheKey(drivePath string) string {
	if drivePath == "" {
		return "/"
	}
	return drivePath
}

func (impl *graphImpl) cachedListing(drivePath string) ([]file.Info, bool) {
	if impl.dircache == nil {
		return nil, false
	}
	return impl.dircache.Get(cacheKey(drivePath))
}

func (impl *graphImpl) storeListing(drivePath string, infos []file.Info) {
	if impl.dircache == nil {
		return
	}
	impl.dircache.Set(cacheKey(drivePath), infos)
}

// invalidateListings drops the cached listings a mutation of drivePath may
// have made stale: the listing of the path itself, the listing of its
// parent, and the listing of any higher ancestor whose cached contents do
// not account for the chain of directories leading down to drivePath. An
// ancestor that already lists the next directory on the chain keeps its
// entry: creating or removing something deeper down does not change what
// that listing returns.
func (impl *graphImpl) invalidateListings(drivePath string) {
	if impl.dircache == nil {
		return
	}
	impl.dircache.Delete(cacheKey(drivePath))
	parent, _ := split(drivePath)
	impl.dircache.Delete(cacheKey(parent))

	segs := strings.Split(strings.TrimPrefix(drivePath, "/"), "/")
	ancestor := ""
	for _, seg := range segs {
		child := ancestor + "/" + seg
		if infos, ok := impl.dircache.Get(cacheKey(ancestor)); ok {
			found := false
			for _, info := range infos {
				if stripScheme(info.Path()) == child {
					found = true
					break
				}
			}
			if !found {
				impl.dircache.Delete(cacheKey(ancestor))
			}
		}
		ancestor = child
	}
}

// stripScheme converts a caller-visible path back to its drive-relative
// form for cache bookkeeping.
func stripScheme(p string) string {
	if _, suffix, err := file.ParsePath(p); err == nil {
		return "/" + strings.TrimPrefix(suffix, "/")
	}
	return p
}
