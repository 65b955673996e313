package repository

import "errors"

// ErrNotFound is returned when a requested record is not found in the repository.
// This abstracts away the underlying storage implementation (SQL, NoSQL, etc.)
// from the service layer.
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict is returned when a document kept changing between read and
// write and the retry budget ran out.
var ErrVersionConflict = errors.New("document changed concurrently")

// ErrAlreadyExists is returned when creating a document whose id is taken.
var ErrAlreadyExists = errors.New("record already exists")
