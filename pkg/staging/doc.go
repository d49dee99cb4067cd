// Package staging performs the idempotent, crash-safe export of a
// resource's stored objects into a destination directory tree. Objects
// are written under a transient working directory and promoted into the
// final directory with a merge-move, so the final directory becomes
// visible only once it is fully populated.
package staging
