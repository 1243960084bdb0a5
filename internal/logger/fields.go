package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard tracing fields propagated through the call chain via context.
const (
	// FieldRunID identifies one scheduler run.
	FieldRunID = "run_id"

	// FieldBookUID identifies the book a pipeline is working on.
	FieldBookUID = "book_uid"

	// FieldComponent is the component/module name.
	FieldComponent = "component"

	// FieldCategory is the catalog category of the current book.
	FieldCategory = "category"

	// FieldRequestID identifies one HTTP request.
	FieldRequestID = "request_id"
)

// Standard metric fields used on individual entries.
const (
	// FieldAttempt is the 1-based attempt number of a pipeline pass.
	FieldAttempt = "attempt"

	// FieldBytes is a byte count (downloaded, extracted, etc.).
	FieldBytes = "bytes"

	// FieldDurationMs is the execution duration in milliseconds.
	FieldDurationMs = "duration_ms"

	// FieldStatus is the record status after an operation.
	FieldStatus = "status"
)
