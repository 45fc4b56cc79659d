package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	assert.Equal(t, "unknown", RequestID(context.Background()))
	assert.Equal(t, "req-1", RequestID(WithContext(context.Background(), "req-1")))

	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "unknown", RequestID(c))

	c.Request = httptest.NewRequest("GET", "/", nil).WithContext(WithContext(context.Background(), "from-request"))
	assert.Equal(t, "from-request", RequestID(c))

	c.Set(RequestIDKey, "from-gin")
	assert.Equal(t, "from-gin", RequestID(c))
}

func TestInitializeWithWriter_TeesJSON(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	var buf bytes.Buffer
	InitializeWithWriter("production", &buf)
	Info(WithContext(context.Background(), "abc"), "order placed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "order placed", entry["msg"])
	assert.Equal(t, "abc", entry["request_id"])
}
