package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer abc ,x-tenant=presale,,broken, =skip")
	if len(headers) != 2 {
		t.Fatalf("unexpected headers %v", headers)
	}
	if headers["authorization"] != "Bearer abc" || headers["x-tenant"] != "presale" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestInitWithoutExporters(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected service name error")
	}
	shutdown, err := Init(context.Background(), Config{ServiceName: "presaled"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if Tracer("presaled") == nil {
		t.Fatalf("expected tracer")
	}
}
