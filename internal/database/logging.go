// Package database holds helpers shared by the storage drivers.
package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/redbco/redb-storage/internal/metrics"
	"github.com/redbco/redb-storage/pkg/logger"
)

// DatabaseLogContext provides structured context for database logging
type DatabaseLogContext struct {
	DatabaseType string
	Address      string
	Collection   string
	Operation    string
}

func (c DatabaseLogContext) fields() map[string]string {
	f := map[string]string{"db_type": c.DatabaseType}
	if c.Address != "" {
		f["address"] = c.Address
	}
	if c.Collection != "" {
		f["collection"] = c.Collection
	}
	if c.Operation != "" {
		f["operation"] = c.Operation
	}
	return f
}

// DatabaseLogger provides unified logging for all driver operations
type DatabaseLogger struct {
	logger *logger.Logger
	dbType string
	addr   string
}

// NewDatabaseLogger creates a logger bound to one driver instance.
func NewDatabaseLogger(l *logger.Logger, dbType, address string) *DatabaseLogger {
	return &DatabaseLogger{
		logger: l,
		dbType: dbType,
		addr:   address,
	}
}

func (dl *DatabaseLogger) context(collection, operation string) DatabaseLogContext {
	return DatabaseLogContext{
		DatabaseType: dl.dbType,
		Address:      dl.addr,
		Collection:   collection,
		Operation:    operation,
	}
}

// LogConnectionAttempt logs when a connection attempt is starting
func (dl *DatabaseLogger) LogConnectionAttempt() {
	if dl == nil || dl.logger == nil {
		return
	}
	dl.logger.WithFields(dl.context("", "connect").fields()).Info("%s", dl.formatConnectionMessage("Attempting connection"))
}

// LogConnectionSuccess logs successful database connections
func (dl *DatabaseLogger) LogConnectionSuccess() {
	if dl == nil || dl.logger == nil {
		return
	}
	dl.logger.WithFields(dl.context("", "connect").fields()).Info("%s", dl.formatConnectionMessage("Connection established"))
}

// LogConnectionFailure logs connection failures
func (dl *DatabaseLogger) LogConnectionFailure(err error) {
	if dl == nil || dl.logger == nil {
		return
	}
	dl.logger.WithFields(dl.context("", "connect").fields()).Error("%s: %v", dl.formatConnectionMessage("Connection failed"), err)
}

// LogDisconnection logs the outcome of closing the native client
func (dl *DatabaseLogger) LogDisconnection(err error) {
	if dl == nil || dl.logger == nil {
		return
	}
	ctx := dl.logger.WithFields(dl.context("", "close").fields())
	if err != nil {
		// The process continues, so a failed close is only a warning.
		ctx.Warn("%s: %v", dl.formatConnectionMessage("Disconnection failed"), err)
		return
	}
	ctx.Info("%s", dl.formatConnectionMessage("Disconnection completed"))
}

// ObserveOperation records metrics for an operation and logs failures.
// It returns err unchanged so it can wrap a return statement.
func (dl *DatabaseLogger) ObserveOperation(collection, operation string, start time.Time, err error) error {
	if dl == nil {
		return err
	}
	metrics.ObserveOperation(dl.dbType, operation, start, err)
	if dl.logger == nil {
		return err
	}
	ctx := dl.logger.WithFields(dl.context(collection, operation).fields())
	if err != nil {
		ctx.Debug("%s failed after %s: %v", operation, time.Since(start).Round(time.Microsecond), err)
	}
	return err
}

// LogListenerEvent logs lifecycle events of native change listeners
func (dl *DatabaseLogger) LogListenerEvent(collection, event string, err error) {
	if dl == nil || dl.logger == nil {
		return
	}
	ctx := dl.logger.WithFields(dl.context(collection, "subscribe").fields())
	if err != nil {
		ctx.Warn("Listener %s: %v", event, err)
		return
	}
	ctx.Debug("Listener %s", event)
}

func (dl *DatabaseLogger) formatConnectionMessage(action string) string {
	var parts []string
	parts = append(parts, action)
	parts = append(parts, fmt.Sprintf("to %s", strings.ToUpper(dl.dbType)))
	if dl.addr != "" {
		parts = append(parts, fmt.Sprintf("at %s", dl.addr))
	}
	return strings.Join(parts, " ")
}
