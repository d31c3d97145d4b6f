// Package datastore is the entry point of the storage layer. A Store owns
// the configured drivers, the hybrid coordinator, the subscription manager
// and the encryption codec, and exposes backend-neutral operations that
// never return a raw driver fault: every call yields a Response.
//
// One Store is built per process with New and passed to whoever needs it.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/redbco/redb-storage/internal/hybrid"
	"github.com/redbco/redb-storage/internal/metrics"
	"github.com/redbco/redb-storage/internal/subscription"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/config"
	"github.com/redbco/redb-storage/pkg/database"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/encryption"
	"github.com/redbco/redb-storage/pkg/health"
	"github.com/redbco/redb-storage/pkg/logger"
)

// Version is reported in logs.
var Version = "dev"

// Store is the storage façade.
type Store struct {
	cfg  *config.Config
	mode dbcapabilities.Mode
	log  *logger.Logger

	primary   adapter.Driver
	secondary adapter.Driver
	coord     *hybrid.Coordinator
	subs      *subscription.Manager
	codec     *encryption.Codec
	checker   *health.Checker
	journal   *database.Redis

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	registry *adapter.Registry
	log      *logger.Logger
	recorder hybrid.FailureRecorder
}

// Option customizes New.
type Option func(*options)

// WithRegistry replaces the driver registry.
func WithRegistry(r *adapter.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithFailureRecorder replaces the replication failure journal.
func WithFailureRecorder(r hybrid.FailureRecorder) Option {
	return func(o *options) { o.recorder = r }
}

// New connects the backends named by cfg. Unreachable backends fail with
// a *adapter.ConnectionError; nothing is left open on error.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Store, err error) {
	if cfg == nil {
		return nil, adapter.NewConfigurationError("", "", "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	if o.log == nil {
		o.log = logger.NewWithOptions("redb-storage", Version, logger.Options{Level: cfg.Logging.Level})
	}

	s := &Store{
		cfg:     cfg,
		mode:    cfg.ParsedMode(),
		log:     o.log,
		checker: health.NewChecker(),
	}
	defer func() {
		if err != nil {
			_ = s.closeResources()
		}
	}()

	if s.codec, err = newCodec(cfg, s.log); err != nil {
		return nil, err
	}

	s.log.Infof("Starting storage in %s mode", s.mode)
	s.primary, err = o.registry.Connect(ctx, cfg.ConnectionConfig(s.mode.Primary(), s.log.Named("primary")))
	if err != nil {
		return nil, fmt.Errorf("primary %s: %w", s.mode.Primary(), err)
	}

	if kind, ok := s.mode.Secondary(); ok {
		s.secondary, err = o.registry.Connect(ctx, cfg.ConnectionConfig(kind, s.log.Named("secondary")))
		if err != nil {
			return nil, fmt.Errorf("secondary %s: %w", kind, err)
		}
	}

	recorder := o.recorder
	if recorder == nil && s.secondary != nil {
		recorder = s.openJournal(ctx)
	}

	s.coord, err = hybrid.New(s.primary, s.secondary, hybrid.Options{
		Workers:       cfg.Replication.Workers,
		Timeout:       cfg.Replication.Timeout,
		ShutdownGrace: cfg.Replication.ShutdownGrace,
		Recorder:      recorder,
		Logger:        s.log.Named("hybrid"),
	})
	if err != nil {
		return nil, err
	}

	s.subs = subscription.NewManager(s.pushDriver(), s.codec, s.log.Named("subscriptions"))
	return s, nil
}

func newCodec(cfg *config.Config, log *logger.Logger) (*encryption.Codec, error) {
	if !cfg.Encryption.Enabled {
		return nil, nil
	}
	secret, err := cfg.EncryptionSecret()
	if err != nil {
		return nil, adapter.NewConfigurationError("", "encryption.key", err.Error())
	}
	policy, err := encryption.ParseDecryptFailurePolicy(cfg.Encryption.DecryptFailure)
	if err != nil {
		return nil, adapter.NewConfigurationError("", "encryption.decryptFailure", err.Error())
	}
	return encryption.NewCodec([]byte(secret),
		encryption.WithFields(encryption.FieldTable(cfg.Encryption.Fields)),
		encryption.WithPolicy(policy),
		encryption.WithLogger(log.Named("encryption")),
		encryption.WithObserver(func(string) { metrics.DecryptFailuresTotal.Inc() }),
	)
}

// openJournal connects the Redis failure journal when one is configured.
// An unreachable journal falls back to the in-memory ring.
func (s *Store) openJournal(ctx context.Context) hybrid.FailureRecorder {
	jc := s.cfg.Replication.Journal
	ring := hybrid.NewRing(s.cfg.Replication.RingSize)
	if jc.RedisAddr == "" {
		return ring
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	r, err := database.NewRedis(pctx, database.RedisFromJournalConfig(jc))
	if err != nil {
		s.log.Warnf("Replication journal unavailable, keeping failures in memory: %v", err)
		return ring
	}
	s.journal = r
	return hybrid.NewRedisJournal(r.Client(), jc.Stream, jc.MaxLen)
}

// pushDriver is the driver subscriptions attach to: the primary when it
// can push changes, otherwise a push capable secondary.
func (s *Store) pushDriver() adapter.Driver {
	if s.primary.Capabilities().SupportsPush || s.secondary == nil {
		return s.primary
	}
	if s.secondary.Capabilities().SupportsPush {
		return s.secondary
	}
	return s.primary
}

// ConfigView is the non-secret part of the active configuration.
type ConfigView struct {
	Mode             dbcapabilities.Mode        `json:"mode"`
	PrimaryKind      dbcapabilities.BackendKind `json:"primaryKind"`
	PrimaryType      string                     `json:"primaryType"`
	SecondaryKind    dbcapabilities.BackendKind `json:"secondaryKind,omitempty"`
	SecondaryType    string                     `json:"secondaryType,omitempty"`
	Encryption       bool                       `json:"encryption"`
	EncryptedFields  map[string][]string        `json:"encryptedFields,omitempty"`
	DecryptFailure   string                     `json:"decryptFailure,omitempty"`
	ReplicationState hybrid.State               `json:"replicationState"`
}

// GetConfig describes the running configuration.
func (s *Store) GetConfig() ConfigView {
	v := ConfigView{
		Mode:             s.mode,
		PrimaryKind:      s.mode.Primary(),
		PrimaryType:      string(s.primary.Type()),
		Encryption:       s.codec != nil,
		ReplicationState: s.coord.LastState(),
	}
	if kind, ok := s.mode.Secondary(); ok {
		v.SecondaryKind = kind
		v.SecondaryType = string(s.secondary.Type())
	}
	if s.codec != nil {
		v.EncryptedFields = s.codec.Fields()
		v.DecryptFailure = s.codec.Policy().String()
	}
	return v
}

// Coordinator exposes the hybrid coordinator, e.g. to inspect recorded
// replication failures.
func (s *Store) Coordinator() *hybrid.Coordinator { return s.coord }

// Close stops subscriptions, drains pending replications within the grace
// period and closes every backend. It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.closeResources()
		s.log.Info("Storage closed")
	})
	return s.closeErr
}

func (s *Store) closeResources() error {
	if s.subs != nil {
		s.subs.Close()
	}

	var errs []error
	if s.coord != nil {
		if err := s.coord.Close(); err != nil {
			s.log.Warnf("Replication shutdown: %v", err)
		}
	}

	var g errgroup.Group
	var mu sync.Mutex
	for _, d := range []adapter.Driver{s.primary, s.secondary} {
		if d == nil {
			continue
		}
		g.Go(func() error {
			if err := d.Close(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("close %s: %w", d.Type(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := s.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal: %w", err))
	}
	return errors.Join(errs...)
}
