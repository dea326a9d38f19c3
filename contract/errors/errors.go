package errors

// Error codes for the sdk bus contracts. Keep stable; used across adapters and the bus.
const (
	ErrCodeEnqueueFailed       = "sdkbus.enqueue_failed"
	ErrCodeCorrelationTimeout  = "sdkbus.correlation_timeout"
	ErrCodeShutdownInProgress  = "sdkbus.shutdown_in_progress"
	ErrCodeWaiterCancelled     = "sdkbus.waiter_cancelled"
	ErrCodeWaiterExists        = "sdkbus.waiter_exists"
	ErrCodeWaiterNotFound      = "sdkbus.waiter_not_found"
	ErrCodeDuplicateDelivery   = "sdkbus.duplicate_delivery"
	ErrCodeMalformedEvent      = "sdkbus.malformed_event"
	ErrCodeHandlerFailed       = "sdkbus.handler_failed"
	ErrCodeRemoteError         = "sdkbus.remote_error"
	ErrCodeUnknownQueueKind    = "sdkbus.unknown_queue_kind"
	ErrCodeSerializationFailed = "sdkbus.serialization_failed"
	ErrCodePublishFailed       = "sdkbus.publish_failed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	// ErrEnqueueFailed reports an exhausted retry budget or a shutdown observed mid-retry.
	ErrEnqueueFailed = Code(ErrCodeEnqueueFailed)
	// ErrCorrelationTimeout reports that no matching event arrived within the wait window.
	ErrCorrelationTimeout = Code(ErrCodeCorrelationTimeout)
	// ErrShutdownInProgress rejects new waits and enqueues once the shutdown flag is set.
	ErrShutdownInProgress = Code(ErrCodeShutdownInProgress)
	// ErrWaiterCancelled is returned to a waiting caller when its consumer loop stops.
	ErrWaiterCancelled = Code(ErrCodeWaiterCancelled)
	ErrWaiterExists    = Code(ErrCodeWaiterExists)
	ErrWaiterNotFound  = Code(ErrCodeWaiterNotFound)
	// ErrDuplicateDelivery marks a second delivery for an already fulfilled or expired waiter.
	ErrDuplicateDelivery   = Code(ErrCodeDuplicateDelivery)
	ErrMalformedEvent      = Code(ErrCodeMalformedEvent)
	ErrHandlerFailed       = Code(ErrCodeHandlerFailed)
	ErrRemoteError         = Code(ErrCodeRemoteError)
	ErrUnknownQueueKind    = Code(ErrCodeUnknownQueueKind)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
	ErrPublishFailed       = Code(ErrCodePublishFailed)
)
