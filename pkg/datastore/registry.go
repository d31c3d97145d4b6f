package datastore

import (
	"github.com/redbco/redb-storage/internal/database/firestore"
	"github.com/redbco/redb-storage/internal/database/mongodb"
	"github.com/redbco/redb-storage/internal/database/relational"
	"github.com/redbco/redb-storage/pkg/adapter"
)

// DefaultRegistry returns a registry with every built-in driver.
func DefaultRegistry() *adapter.Registry {
	r := adapter.NewRegistry()
	r.Register(relational.NewPostgresAdapter())
	r.Register(relational.NewSQLiteAdapter())
	r.Register(mongodb.NewAdapter())
	r.Register(firestore.NewAdapter())
	return r
}
