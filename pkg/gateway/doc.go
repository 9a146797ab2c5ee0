// Package gateway mediates client uploads and downloads between an object
// store holding file content and a relational store holding ownership
// metadata.
//
// An upload is a three stage pipeline: a key is generated, the content is
// written to the ObjectStore, and a FileRecord is inserted inside a single
// Repository transaction. Validation runs before the object write so a
// malformed request never leaves anything behind. When the metadata insert
// fails after the write succeeded the object is left in place and the failure
// is reported as an OrphanedObjectError.
//
// Downloads resolve a file key to its object and expose the content as a lazy,
// single-use sequence of chunks (see Download.Chunks).
//
// Implementations of ObjectStore live under storage/ (S3, MinIO, memory) and
// implementations of Repository under repo/ (Postgres, memory).
package gateway
