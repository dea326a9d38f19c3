package errors_test

import (
	"errors"
	"fmt"
	"testing"

	berr "github.com/next-trace/scg-sdk-bus/contract/errors"
)

func TestCodeAndVars(t *testing.T) {
	e := berr.Code(berr.ErrCodeEnqueueFailed)
	if e.Error() != berr.ErrCodeEnqueueFailed {
		t.Fatalf("unexpected error string: %s", e.Error())
	}

	// exported variables must carry their codes
	tests := []struct {
		err  error
		code string
	}{
		{berr.ErrEnqueueFailed, berr.ErrCodeEnqueueFailed},
		{berr.ErrCorrelationTimeout, berr.ErrCodeCorrelationTimeout},
		{berr.ErrShutdownInProgress, berr.ErrCodeShutdownInProgress},
		{berr.ErrWaiterCancelled, berr.ErrCodeWaiterCancelled},
		{berr.ErrWaiterExists, berr.ErrCodeWaiterExists},
		{berr.ErrWaiterNotFound, berr.ErrCodeWaiterNotFound},
		{berr.ErrDuplicateDelivery, berr.ErrCodeDuplicateDelivery},
		{berr.ErrMalformedEvent, berr.ErrCodeMalformedEvent},
		{berr.ErrHandlerFailed, berr.ErrCodeHandlerFailed},
		{berr.ErrRemoteError, berr.ErrCodeRemoteError},
		{berr.ErrUnknownQueueKind, berr.ErrCodeUnknownQueueKind},
		{berr.ErrSerializationFailed, berr.ErrCodeSerializationFailed},
		{berr.ErrPublishFailed, berr.ErrCodePublishFailed},
	}

	for _, tc := range tests {
		if !errors.Is(tc.err, berr.Code(tc.code)) {
			t.Fatalf("expected %s to be %s", tc.err, tc.code)
		}
	}
}

func TestJoinedClassesStayDistinguishable(t *testing.T) {
	err := fmt.Errorf("put: %w", errors.Join(berr.ErrEnqueueFailed, berr.ErrShutdownInProgress))

	if !errors.Is(err, berr.ErrEnqueueFailed) || !errors.Is(err, berr.ErrShutdownInProgress) {
		t.Fatalf("joined error lost a class: %v", err)
	}

	if errors.Is(err, berr.ErrCorrelationTimeout) {
		t.Fatalf("unexpected class match: %v", err)
	}
}
