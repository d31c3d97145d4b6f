package firestore

import (
	"context"
	"os"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/redbco/redb-storage/internal/database"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
)

// Adapter implements adapter.DatabaseAdapter for Cloud Firestore.
type Adapter struct{}

// NewAdapter creates a new Firestore adapter.
func NewAdapter() adapter.DatabaseAdapter {
	return &Adapter{}
}

// Type returns the database type identifier.
func (a *Adapter) Type() dbcapabilities.DatabaseType {
	return dbcapabilities.Firestore
}

// Capabilities returns the capabilities metadata.
func (a *Adapter) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(dbcapabilities.Firestore)
}

// emulatorCredentials authenticates against the local emulator, which
// accepts any bearer token.
type emulatorCredentials struct{}

func (emulatorCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer owner"}, nil
}

func (emulatorCredentials) RequireTransportSecurity() bool { return false }

// Connect creates a client and lists one root collection to prove the
// project is reachable with the given credentials.
func (a *Adapter) Connect(ctx context.Context, config adapter.ConnectionConfig) (adapter.Driver, error) {
	if config.ProjectID == "" {
		return nil, adapter.NewConfigurationError(dbcapabilities.Firestore, "projectId", "a project id is required")
	}

	log := database.NewDatabaseLogger(config.Logger, string(dbcapabilities.Firestore), config.Address())
	log.LogConnectionAttempt()

	var opts []option.ClientOption
	switch {
	case config.EmulatorHost != "" && os.Getenv("FIRESTORE_EMULATOR_HOST") == "":
		conn, err := grpc.NewClient(config.EmulatorHost,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithPerRPCCredentials(emulatorCredentials{}))
		if err != nil {
			log.LogConnectionFailure(err)
			return nil, adapter.NewConnectionError(dbcapabilities.Firestore, config.EmulatorHost, err)
		}
		opts = append(opts, option.WithGRPCConn(conn))
	case config.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	case config.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(config.CredentialsJSON)))
	}

	var (
		client *firestore.Client
		err    error
	)
	if config.DatabaseID != "" && config.DatabaseID != firestore.DefaultDatabaseID {
		client, err = firestore.NewClientWithDatabase(ctx, config.ProjectID, config.DatabaseID, opts...)
	} else {
		client, err = firestore.NewClient(ctx, config.ProjectID, opts...)
	}
	if err != nil {
		log.LogConnectionFailure(err)
		return nil, adapter.NewConnectionError(dbcapabilities.Firestore, config.Address(), err)
	}

	d := &Driver{client: client, address: config.Address(), log: log}

	pingCtx, cancel := context.WithTimeout(ctx, config.GetConnectTimeout())
	defer cancel()
	if err := d.ping(pingCtx); err != nil {
		_ = client.Close()
		log.LogConnectionFailure(err)
		return nil, adapter.NewConnectionError(dbcapabilities.Firestore, config.Address(), err)
	}
	log.LogConnectionSuccess()
	return d, nil
}

func (d *Driver) ping(ctx context.Context) error {
	it := d.client.Collections(ctx)
	_, err := it.Next()
	if err != nil && err != iterator.Done {
		return err
	}
	return nil
}
