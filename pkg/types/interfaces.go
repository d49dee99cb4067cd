// Package types defines the shared interfaces used across autorthanc
// packages.
package types

import (
	"io/fs"
)

// FS abstracts the filesystem operations the engine performs, so the
// staging pipeline can run against a real tree in production and an
// in-memory one in tests.
type FS interface {
	// File operations
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm fs.FileMode) error

	// Directory operations
	MkdirAll(path string, perm fs.FileMode) error
	ReadDir(name string) ([]fs.DirEntry, error)

	// Mutation operations
	Rename(oldpath, newpath string) error
	Remove(name string) error
	RemoveAll(path string) error

	// Ownership; implementations may treat uid/gid of -1 as "leave
	// unchanged", mirroring chown(2)
	Chown(name string, uid, gid int) error
}
