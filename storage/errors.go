/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package storage

import "fmt"

// ErrorKind classifies a GraphError for programmatic handling and for the
// wire protocol error codes.
type ErrorKind int

const (
	ErrNodeNotFound ErrorKind = iota
	ErrEdgeNotFound
	ErrIo
	ErrSerialization
	ErrInvalidFormat
	ErrCompaction
	ErrDeltaLogOverflow
	ErrDatabaseExists
	ErrDatabaseNotFound
	ErrDatabaseInUse
	ErrNoDatabaseSelected
	ErrReadOnlyMode
	ErrInvalidDatabaseName
)

// GraphError is the single error type of the storage engine.
type GraphError struct {
	Kind ErrorKind
	Msg  string
	Err  error // wrapped cause, may be nil
}

func (e *GraphError) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

// Code returns the wire protocol error code for this error kind.
func (e *GraphError) Code() string {
	switch e.Kind {
	case ErrDatabaseExists:
		return "DATABASE_EXISTS"
	case ErrDatabaseNotFound:
		return "DATABASE_NOT_FOUND"
	case ErrDatabaseInUse:
		return "DATABASE_IN_USE"
	case ErrNoDatabaseSelected:
		return "NO_DATABASE_SELECTED"
	case ErrReadOnlyMode:
		return "READ_ONLY_MODE"
	case ErrInvalidDatabaseName:
		return "INVALID_DATABASE_NAME"
	default:
		return "INTERNAL_ERROR"
	}
}

// IsKind reports whether err is a *GraphError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	ge, ok := err.(*GraphError)
	return ok && ge.Kind == kind
}

func errNodeNotFound(id NodeID) *GraphError {
	return &GraphError{Kind: ErrNodeNotFound, Msg: fmt.Sprintf("node not found: %v", id)}
}

// ErrEdgeNotFoundAt builds the error for edge-targeted operations on
// an absent edge.
func ErrEdgeNotFoundAt(src, dst NodeID) *GraphError {
	return &GraphError{Kind: ErrEdgeNotFound, Msg: fmt.Sprintf("edge not found: %v -> %v", src, dst)}
}

func errIo(op string, err error) *GraphError {
	return &GraphError{Kind: ErrIo, Msg: "io error during " + op, Err: err}
}

func errSerialization(what string, err error) *GraphError {
	return &GraphError{Kind: ErrSerialization, Msg: "serialization of " + what + " failed", Err: err}
}

func errInvalidFormat(reason string) *GraphError {
	return &GraphError{Kind: ErrInvalidFormat, Msg: reason}
}

func errCompaction(reason string) *GraphError {
	return &GraphError{Kind: ErrCompaction, Msg: reason}
}
