package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/redbco/redb-storage/internal/database"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
)

// Adapter implements adapter.DatabaseAdapter for MongoDB.
type Adapter struct{}

// NewAdapter creates a new MongoDB adapter.
func NewAdapter() adapter.DatabaseAdapter {
	return &Adapter{}
}

// Type returns the database type identifier.
func (a *Adapter) Type() dbcapabilities.DatabaseType {
	return dbcapabilities.MongoDB
}

// Capabilities returns the capabilities metadata.
func (a *Adapter) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(dbcapabilities.MongoDB)
}

// Connect creates a client from the connection URI and pings the primary.
func (a *Adapter) Connect(ctx context.Context, config adapter.ConnectionConfig) (adapter.Driver, error) {
	if config.ConnectionString == "" {
		return nil, adapter.NewConfigurationError(dbcapabilities.MongoDB, "uri", "a connection URI is required")
	}
	dbName := config.DatabaseName
	if dbName == "" {
		if details, err := dbcapabilities.ParseConnectionString(config.ConnectionString); err == nil {
			dbName = details.DatabaseName
		}
	}
	if dbName == "" {
		return nil, adapter.NewConfigurationError(dbcapabilities.MongoDB, "database", "a database name is required")
	}

	log := database.NewDatabaseLogger(config.Logger, string(dbcapabilities.MongoDB), config.Address())
	log.LogConnectionAttempt()

	timeout := config.GetConnectTimeout()
	clientOptions := options.Client().
		ApplyURI(config.ConnectionString).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)

	// In v2, Connect only builds the client; the ping proves reachability.
	client, err := mongo.Connect(clientOptions)
	if err != nil {
		log.LogConnectionFailure(err)
		return nil, adapter.NewConnectionError(dbcapabilities.MongoDB, config.Address(), err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		log.LogConnectionFailure(err)
		return nil, adapter.NewConnectionError(dbcapabilities.MongoDB, config.Address(), err)
	}
	log.LogConnectionSuccess()

	return &Driver{
		client:  client,
		db:      client.Database(dbName),
		address: config.Address(),
		log:     log,
	}, nil
}
