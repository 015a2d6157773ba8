package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	FieldRequestID = "request_id"
	FieldPlanID    = "plan_id"
	FieldComponent = "component"
	FieldUserID    = "user_id"

	FieldTaskID    = "task_id"
	FieldAccountID = "account_id"
	FieldSessionID = "session_id"
	FieldTargetID  = "target_id"
	FieldSlotID    = "slot_id"
)

// Metric fields, attached per entry for aggregation and alerting.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
	FieldReason     = "reason"
)
