// Package adapter defines the contract every storage driver implements.
//
// # Architecture
//
//   - DatabaseAdapter: creates Drivers for one database technology
//   - Driver: backend-neutral insert, query, count, update, delete and
//     subscribe operations over query.FilterSet and query.Spec
//   - RawQuerier: optional escape hatch for drivers that accept statements
//   - Registry: maps database types to adapters
//   - Notification: the single shape every native change listener produces
//
// # Usage
//
//	registry := adapter.NewRegistry()
//	registry.Register(relational.NewAdapter())
//
//	driver, err := registry.Connect(ctx, adapter.ConnectionConfig{
//	    ConnectionType:   "sqlite",
//	    ConnectionString: "file:app.db",
//	})
//	if err != nil {
//	    return err
//	}
//	defer driver.Close()
//
//	rows, err := driver.QueryMany(ctx, "sensors", query.Spec{
//	    Filter: query.Where(map[string]any{"site": "north"}),
//	    Limit:  10,
//	})
//
// # Capabilities
//
// Optional operations fail deterministically. A driver without native
// change notifications embeds UnsupportedSubscriber, so Subscribe returns an
// *UnsupportedOperationError rather than a listener that never fires:
//
//	if _, err := driver.Subscribe(ctx, "sensors", query.FilterSet{}, sink); adapter.IsUnsupported(err) {
//	    // fall back to polling
//	}
//
// # Errors
//
// All drivers classify failures with the typed errors in this package:
// ConnectionError, ValidationError, UnsupportedOperationError,
// ConfigurationError, ReplicationError and DatabaseError. Use the Is*
// helpers or errors.Is with the exported sentinels.
package adapter
