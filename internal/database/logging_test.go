package database

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/redbco/redb-storage/internal/metrics"
	"github.com/redbco/redb-storage/pkg/logger"
)

func TestDatabaseLogger(t *testing.T) {
	var buf bytes.Buffer
	console := false
	l := logger.NewWithOptions("storage", "test", logger.Options{Level: "debug", Output: &buf, Console: &console})
	dl := NewDatabaseLogger(l, "mongodb", "localhost:27017")

	dl.LogConnectionAttempt()
	dl.LogConnectionFailure(errors.New("refused"))
	dl.LogListenerEvent("sensors", "stopped", nil)

	out := buf.String()
	assert.Contains(t, out, "Attempting connection to MONGODB at localhost:27017")
	assert.Contains(t, out, "Connection failed to MONGODB at localhost:27017: refused")
	assert.Contains(t, out, `"collection":"sensors"`)
}

func TestDatabaseLoggerObserveOperation(t *testing.T) {
	dl := NewDatabaseLogger(logger.Nop(), "test-db", "")
	cause := errors.New("boom")

	before := testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues("test-db", "count", "error"))
	err := dl.ObserveOperation("sensors", "count", time.Now(), cause)

	assert.Same(t, cause, err)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.OperationsTotal.WithLabelValues("test-db", "count", "error")))
}

func TestDatabaseLoggerNil(t *testing.T) {
	var dl *DatabaseLogger
	assert.NotPanics(t, func() {
		dl.LogConnectionSuccess()
		dl.LogDisconnection(nil)
	})
}
