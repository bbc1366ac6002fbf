package gateway

import (
	"context"
	"errors"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"civic-reporting/pkg/config"
	"civic-reporting/pkg/database"
	"civic-reporting/pkg/queue"
	"civic-reporting/pkg/storage"
)

// Backend is a Gateway together with the connections it was built on.
// Broker is nil when remote sync is off.
type Backend struct {
	*Gateway
	Broker *amqp.Connection

	closers []func() error
}

// Close releases the connections in reverse order of opening.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// Connect dials Postgres, RabbitMQ and, when configured, MinIO. Without
// both remote credentials it returns a disabled backend and no error.
func Connect(ctx context.Context, remote config.RemoteConfig, blobs config.StorageConfig, log *slog.Logger, opts ...Option) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}
	if !remote.Enabled() {
		log.Info("remote sync not configured, running local-only")
		return &Backend{Gateway: Disabled()}, nil
	}

	b := &Backend{}
	fail := func(err error) (*Backend, error) {
		_ = b.Close()
		return nil, err
	}

	db, err := database.ConnectPostgres(ctx, remote.DatabaseDSN)
	if err != nil {
		return fail(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fail(err)
	}
	b.closers = append(b.closers, sqlDB.Close)

	repo := NewPostgresRepository(db)
	if remote.AutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			return fail(err)
		}
	}

	conn, ch, err := queue.ConnectRabbitMQ(remote.BrokerURL)
	if err != nil {
		return fail(err)
	}
	b.closers = append(b.closers, conn.Close)
	b.Broker = conn
	if err := queue.DeclareFanout(ch, remote.Exchange); err != nil {
		ch.Close()
		return fail(err)
	}
	ch.Close()

	feed, err := NewAMQPChangeFeed(conn, remote.Exchange, log)
	if err != nil {
		return fail(err)
	}
	b.closers = append(b.closers, feed.Close)

	var store BlobStore
	if blobs.Enabled() {
		client, err := storage.ConnectMinio(ctx, storage.MinioConfig{
			Endpoint:  blobs.Endpoint,
			AccessKey: blobs.AccessKey,
			SecretKey: blobs.SecretKey,
			UseSSL:    blobs.UseSSL,
			Bucket:    blobs.Bucket,
		})
		if err != nil {
			log.Warn("media storage unavailable, reports will have no photos", "error", err)
		} else {
			store = NewMinioBlobStore(client, blobs.Bucket, blobs.PublicBaseURL)
		}
	}

	b.Gateway = New(repo, store, feed, append([]Option{WithLogger(log)}, opts...)...)
	log.Info("remote sync enabled", "exchange", remote.Exchange, "media", store != nil)
	return b, nil
}
