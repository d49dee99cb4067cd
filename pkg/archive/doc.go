// Package archive is the boundary to the imaging archive that hosts the
// DICOM resources. It exposes the small Client contract the automation
// engine needs (metadata lookup, instance bytes, remote store, changes
// feed) and a REST implementation of it for Orthanc-compatible archives.
package archive
