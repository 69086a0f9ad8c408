// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package file

import (
	"context"
	"fmt"
	"sync"
)

// Implementation implements operations for a file-system type.
// Thread safe.
type Implementation interface {
	// String returns a diagnostic string.
	String() string

	// Open opens a file for reading. The pathname given to file.Open() is
	// passed here unchanged. Thus, it contains the URL prefix such as "shpt://".
	//
	// Open returns an error of kind errors.NotExist if there is
	// no file at the provided path.
	Open(ctx context.Context, path string, opts ...Opts) (File, error)

	// Create opens a file for writing. If "path" already exists, the old
	// contents will be destroyed unless Opts.Append is set. If "path" does not
	// exist already, the file will be newly created. The pathname given to
	// file.Create() is passed here unchanged.
	Create(ctx context.Context, path string, opts ...Opts) (File, error)

	// List finds files and directories. If "path" points to a regular file,
	// the lister will return information about the file itself and finish.
	//
	// If "path" is a directory and "recursive" is false, List finds files and
	// directories one level below path. With "recursive" set, List descends
	// into subdirectories and yields every regular file below path.
	List(ctx context.Context, path string, recursive bool) Lister

	// Stat returns the file metadata.
	//
	// Stat returns an error of kind errors.NotExist if there is
	// no object at the provided path.
	Stat(ctx context.Context, path string, opts ...Opts) (Info, error)

	// Remove removes the object at path. Removing a non-empty directory
	// returns an error of kind errors.NotEmpty.
	Remove(ctx context.Context, path string) error

	// Mkdir creates the directory at path. With createParents set, missing
	// ancestor directories are created too. Without existOK, an existing
	// directory at path causes an error of kind errors.Exists.
	Mkdir(ctx context.Context, path string, createParents, existOK bool) error

	// Touch creates an empty file at path if none exists. For an existing
	// file it truncates the contents when truncate is set, else it only
	// bumps the modification time.
	Touch(ctx context.Context, path string, truncate bool) error
}

// Lister lists files in a directory tree. Not thread safe.
type Lister interface {
	// Scan advances the lister to the next entry.  It returns
	// false either when the scan stops because we have reached the end of the
	// input or else because there was an error.  After Scan returns, the Err
	// method returns any error that occurred during scanning.
	Scan() bool

	// Err returns the first error that occurred while scanning.
	Err() error

	// Path returns the last path that was scanned. The path always starts
	// with the directory path given to the List method.
	//
	// REQUIRES: Last call to Scan returned true.
	Path() string

	// IsDir() returns true if Path() refers to a directory.
	//
	// REQUIRES: Last call to Scan returned true.
	IsDir() bool

	// Info returns metadata of the file that was scanned.
	//
	// REQUIRES: Last call to Scan returned true.
	Info() Info
}

// Opts controls file access requests, such as Open and Create.
type Opts struct {
	// Append opens an existing file for appending: the write position starts
	// at the current end of the file. Honored by Create.
	Append bool

	// BlockSize overrides the implementation's transfer chunk size, in
	// bytes. Backends with chunk alignment requirements validate the value
	// before any network call. Zero means the implementation default.
	BlockSize int

	// DisableAutocommit leaves data written through the handle staged but
	// uncommitted when the handle is closed. The caller must then finalize
	// or discard through a backend-specific interface. Honored by Create.
	DisableAutocommit bool

	// SizeHint, when positive, supplies the file's size so that a read-mode
	// open can skip the existence/size probe.
	SizeHint int64
}

type implementationFactory func() Implementation

var (
	mu                sync.RWMutex
	implFactories     = make(map[string]implementationFactory)
	impls             = make(map[string]Implementation)
	localImplInstance = NewLocalImplementation()
)

// RegisterImplementation arranges so that ParsePath(scheme + "://anystring")
// will return (impl, "anystring", nil) in the future. Scheme is a string such
// as "shpt", "http".
//
// RegisterImplementation() should generally be called when the process
// starts. implFactory will be invoked exactly once, upon the first request to
// this scheme; this allows registering a factory that is not yet fully
// configured (e.g., it requires parsing command line flags) as long as it
// will be configured before the first request.
//
// REQUIRES: This function has not been called with the same scheme before.
func RegisterImplementation(scheme string, implFactory func() Implementation) {
	if implFactory == nil {
		panic("file.RegisterImplementation: nil factory")
	}
	mu.Lock()
	defer mu.Unlock()
	if scheme == "" {
		panic("file.RegisterImplementation: empty scheme")
	}
	if _, ok := implFactories[scheme]; ok {
		panic(fmt.Sprintf("register %s: file scheme already registered", scheme))
	}
	implFactories[scheme] = implFactory
}

// FindImplementation returns an Implementation object registered for the
// given scheme.  It returns nil if the scheme is not registered.
func FindImplementation(scheme string) Implementation {
	if scheme == "" {
		return localImplInstance
	}
	mu.RLock()
	if impl, ok := impls[scheme]; ok {
		mu.RUnlock()
		return impl
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if impl, ok := impls[scheme]; ok {
		// Someone else created the implementation while we upgraded to the
		// write lock.
		return impl
	}
	if implFactory, ok := implFactories[scheme]; ok {
		impl := implFactory()
		impls[scheme] = impl
		return impl
	}
	return nil
}

func findImpl(path string) (Implementation, error) {
	scheme, _, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	impl := FindImplementation(scheme)
	if impl == nil {
		return nil, fmt.Errorf("parsepath %s: no implementation registered for scheme %s", path, scheme)
	}
	return impl, nil
}

// Open opens the given file readonly.  It is a shortcut for calling
// ParsePath(), then FindImplementation, then Implementation.Open.
//
// Open returns an error of kind errors.NotExist if the file at the
// provided path does not exist.
func Open(ctx context.Context, path string, opts ...Opts) (File, error) {
	impl, err := findImpl(path)
	if err != nil {
		return nil, err
	}
	return impl.Open(ctx, path, opts...)
}

// Create opens the given file writeonly. It is a shortcut for calling
// ParsePath(), then FindImplementation, then Implementation.Create.
func Create(ctx context.Context, path string, opts ...Opts) (File, error) {
	impl, err := findImpl(path)
	if err != nil {
		return nil, err
	}
	return impl.Create(ctx, path, opts...)
}

// Stat returns the given file's metadata. It is a shortcut for calling
// ParsePath(), then FindImplementation, then Implementation.Stat.
//
// Stat returns an error of kind errors.NotExist if the file at the
// provided path does not exist.
func Stat(ctx context.Context, path string, opts ...Opts) (Info, error) {
	impl, err := findImpl(path)
	if err != nil {
		return nil, err
	}
	return impl.Stat(ctx, path, opts...)
}

type errorLister struct{ err error }

// Scan implements Lister.Scan.
func (e *errorLister) Scan() bool { return false }

// Path implements Lister.Path.
func (e *errorLister) Path() string { panic("errorLister.Path: " + e.err.Error()) }

// Info implements Lister.Info.
func (e *errorLister) Info() Info { panic("errorLister.Info: " + e.err.Error()) }

// IsDir implements Lister.IsDir.
func (e *errorLister) IsDir() bool { panic("errorLister.IsDir: " + e.err.Error()) }

// Err returns the Lister.Err.
func (e *errorLister) Err() error { return e.err }

// List finds all files under "prefix". All the files returned by the lister
// will have pathnames of form prefix/something.
//
// Example: file.List(ctx, "shpt://documents/foo", true)
func List(ctx context.Context, prefix string, recursive bool) Lister {
	impl, err := findImpl(prefix)
	if err != nil {
		return &errorLister{err: err}
	}
	return impl.List(ctx, prefix, recursive)
}

// Remove is a shortcut for calling ParsePath(), then calling
// Implementation.Remove method.
func Remove(ctx context.Context, path string) error {
	impl, err := findImpl(path)
	if err != nil {
		return err
	}
	return impl.Remove(ctx, path)
}

// Mkdir is a shortcut for calling ParsePath(), then calling
// Implementation.Mkdir method.
func Mkdir(ctx context.Context, path string, createParents, existOK bool) error {
	impl, err := findImpl(path)
	if err != nil {
		return err
	}
	return impl.Mkdir(ctx, path, createParents, existOK)
}

// Touch is a shortcut for calling ParsePath(), then calling
// Implementation.Touch method.
func Touch(ctx context.Context, path string, truncate bool) error {
	impl, err := findImpl(path)
	if err != nil {
		return err
	}
	return impl.Touch(ctx, path, truncate)
}
