package models

import (
	"fmt"
)

// ErrorKind classifies per-request engine failures.
type ErrorKind int

const (
	UnmatchedDataTypeInDatabase ErrorKind = iota + 1
	UniqueValueDuplicated
	UnknownDatabaseWriteError
	UnknownDatabaseDeleteError
	UnknownDatabaseFindError
	UnknownDatabaseFindUniqueError
	UnknownDatabaseCountError
	ObjectNotFound
	ObjectIsNotSaved
	InvalidQueryInput
	InvalidKey
	UnsupportedFieldType
)

var errorKindNames = map[ErrorKind]string{
	UnmatchedDataTypeInDatabase:    "unmatched_data_type_in_database",
	UniqueValueDuplicated:          "unique_value_duplicated",
	UnknownDatabaseWriteError:      "unknown_database_write_error",
	UnknownDatabaseDeleteError:     "unknown_database_delete_error",
	UnknownDatabaseFindError:       "unknown_database_find_error",
	UnknownDatabaseFindUniqueError: "unknown_database_find_unique_error",
	UnknownDatabaseCountError:      "unknown_database_count_error",
	ObjectNotFound:                 "object_not_found",
	ObjectIsNotSaved:               "object_is_not_saved",
	InvalidQueryInput:              "invalid_query_input",
	InvalidKey:                     "invalid_key",
	UnsupportedFieldType:           "unsupported_field_type",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ActionError is returned by every engine operation that fails on behalf of a request.
type ActionError struct {
	Kind    ErrorKind
	Field   string // offending field, when one is known
	Path    string // key path inside the query, for input errors
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s (at %s)", msg, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Is matches any ActionError of the same kind, so the sentinels below work with errors.Is.
func (e *ActionError) Is(target error) bool {
	t, ok := target.(*ActionError)
	return ok && t.Kind == e.Kind
}

var (
	ErrObjectNotFound                 = &ActionError{Kind: ObjectNotFound, Message: "object not found"}
	ErrObjectIsNotSaved               = &ActionError{Kind: ObjectIsNotSaved, Message: "object is not saved thus can't be deleted"}
	ErrUnknownDatabaseWriteError      = &ActionError{Kind: UnknownDatabaseWriteError, Message: "unknown database write error"}
	ErrUnknownDatabaseDeleteError     = &ActionError{Kind: UnknownDatabaseDeleteError, Message: "unknown database delete error"}
	ErrUnknownDatabaseFindError       = &ActionError{Kind: UnknownDatabaseFindError, Message: "unknown database find error"}
	ErrUnknownDatabaseFindUniqueError = &ActionError{Kind: UnknownDatabaseFindUniqueError, Message: "unknown database find unique error"}
	ErrUnknownDatabaseCountError      = &ActionError{Kind: UnknownDatabaseCountError, Message: "unknown database count error"}
	ErrUnmatchedDataType              = &ActionError{Kind: UnmatchedDataTypeInDatabase, Message: "unmatched data type in database"}
	ErrUniqueValueDuplicated          = &ActionError{Kind: UniqueValueDuplicated, Message: "unique value duplicated"}
	ErrInvalidQueryInput              = &ActionError{Kind: InvalidQueryInput, Message: "invalid query input"}
	ErrInvalidKey                     = &ActionError{Kind: InvalidKey, Message: "invalid key"}
	ErrUnsupportedFieldType           = &ActionError{Kind: UnsupportedFieldType, Message: "unsupported field type"}
)

func NewUnmatchedDataTypeError(field string) *ActionError {
	return &ActionError{Kind: UnmatchedDataTypeInDatabase, Field: field,
		Message: fmt.Sprintf("unmatched data type in database for field '%s'", field)}
}

func NewUniqueValueDuplicatedError(field string) *ActionError {
	return &ActionError{Kind: UniqueValueDuplicated, Field: field,
		Message: fmt.Sprintf("value of '%s' is duplicated", field)}
}

func NewUnsupportedFieldTypeError(field string, t FieldType) *ActionError {
	return &ActionError{Kind: UnsupportedFieldType, Field: field,
		Message: fmt.Sprintf("field type %s is not supported by the MongoDB connector yet, contact maintainers", t)}
}

func NewInvalidQueryInputError(path, format string, args ...any) *ActionError {
	return &ActionError{Kind: InvalidQueryInput, Path: path, Message: fmt.Sprintf(format, args...)}
}

func NewInvalidKeyError(model, key string) *ActionError {
	return &ActionError{Kind: InvalidKey, Field: key,
		Message: fmt.Sprintf("'%s' is not a field of model '%s'", key, model)}
}

// WrapBackendError attaches the underlying driver error to one of the generic sentinels.
func WrapBackendError(sentinel *ActionError, err error) *ActionError {
	return &ActionError{Kind: sentinel.Kind, Message: sentinel.Message, Err: err}
}
