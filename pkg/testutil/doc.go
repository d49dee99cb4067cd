// Package testutil provides shared helpers for autorthanc tests,
// including an in-memory fake of the archive client.
package testutil
