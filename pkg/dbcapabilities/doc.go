// Package dbcapabilities describes the databases the storage layer can talk
// to and the deployment modes that combine them.
//
// Drivers report their Capability so the façade can decide, without knowing
// the driver, whether subscriptions or raw statements are available:
//
//	if !dbcapabilities.SupportsPush(driver.Type()) {
//	    // subscribe will fail with an unsupported-operation error
//	}
//
// Mode is the single deployment selector read from configuration:
//
//	mode, err := dbcapabilities.ParseMode("hybrid-relational-mongodb")
//	primary := mode.Primary()          // relational
//	secondary, ok := mode.Secondary() // mongodb, true
//
// ParseConnectionString extracts host, port and database information from
// connection URLs and SQLite DSNs for logging and error reporting.
package dbcapabilities
