package runtime

import (
	"context"
	"testing"
)

func TestContextMetadataFromEnvironment(t *testing.T) {
	t.Setenv("AWS_LAMBDA_LOG_GROUP_NAME", "/aws/lambda/empty-bucket")
	t.Setenv("AWS_LAMBDA_LOG_STREAM_NAME", "2024/05/01/[$LATEST]abc")
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "empty-bucket")
	t.Setenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE", "128")
	t.Setenv("AWS_REGION", "us-east-1")

	rc := &RequestContext{}
	rc.PopulateFromEnvironment()

	if rc.LogGroupName != "/aws/lambda/empty-bucket" {
		t.Errorf("expected log group '/aws/lambda/empty-bucket', got '%s'", rc.LogGroupName)
	}
	if rc.LogStreamName != "2024/05/01/[$LATEST]abc" {
		t.Errorf("expected log stream '2024/05/01/[$LATEST]abc', got '%s'", rc.LogStreamName)
	}
	if rc.FunctionName != "empty-bucket" {
		t.Errorf("expected function name 'empty-bucket', got '%s'", rc.FunctionName)
	}
	if rc.MemoryLimitInMB != 128 {
		t.Errorf("expected memory limit 128, got %d", rc.MemoryLimitInMB)
	}
	if rc.AWSRegion != "us-east-1" {
		t.Errorf("expected region 'us-east-1', got '%s'", rc.AWSRegion)
	}
}

func TestRequestContextRoundtrip(t *testing.T) {
	original := &RequestContext{
		AwsRequestID: "test-request-123",
		TraceID:      "trace-456",
	}

	retrieved, ok := FromContext(NewContext(context.Background(), original))
	if !ok {
		t.Fatal("request context should be retrievable after storing")
	}
	if retrieved.AwsRequestID != original.AwsRequestID {
		t.Errorf("request ID not preserved: expected '%s', got '%s'", original.AwsRequestID, retrieved.AwsRequestID)
	}
	if retrieved.TraceID != original.TraceID {
		t.Errorf("trace ID not preserved: expected '%s', got '%s'", original.TraceID, retrieved.TraceID)
	}
}

func TestFromContextWithoutRequestContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("should report no request context when none is stored")
	}
	if _, ok := FromContext(NewContext(context.Background(), nil)); ok {
		t.Error("a nil request context must not be reported as present")
	}
}

func TestWithRequestContextCreatesCopy(t *testing.T) {
	original := RequestContext{AwsRequestID: "original-123"}
	ctx := WithRequestContext(context.Background(), original)

	original.AwsRequestID = "modified-456"

	retrieved, ok := FromContext(ctx)
	if !ok {
		t.Fatal("request context should be available")
	}
	if retrieved.AwsRequestID != "original-123" {
		t.Errorf("context should contain the original value, got '%s'", retrieved.AwsRequestID)
	}
}
