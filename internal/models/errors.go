package models

import "errors"

// Sentinel errors raised by the persistence layers. Callers match them with
// errors.Is; producers wrap them with context.
var (
	// ErrInvalidObjectData is returned when record data is empty or malformed
	// where a real object was expected (not found or access denied upstream).
	ErrInvalidObjectData = errors.New("invalid object data")

	// ErrUnknownObject is returned when an object or identifier cannot be resolved
	// where resolution is required.
	ErrUnknownObject = errors.New("unknown object")

	// ErrInvalidQuery is returned when a constraint does not fit the property schema
	// or its operand has the wrong type.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInvalidNumberOfConstraints is returned when a boolean combinator gets no constraints.
	ErrInvalidNumberOfConstraints = errors.New("invalid number of constraints")

	// ErrMissingBackend is returned when a persistence manager has no backend.
	ErrMissingBackend = errors.New("missing backend")

	// ErrInvalidArgument is returned for out-of-range arguments such as a zero limit.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPersistence is the generic persistence fault.
	ErrPersistence = errors.New("persistence error")

	// ErrSerializationUnsupported is returned when a lazy container is serialized.
	ErrSerializationUnsupported = errors.New("serialization not supported")

	// ErrObjectNotAllowed is returned when a whitelisted commit meets an object
	// that was not allowed.
	ErrObjectNotAllowed = errors.New("object not allowed")

	// ErrUnknownClass is returned by schema providers for unregistered classes.
	ErrUnknownClass = errors.New("unknown class")
)
