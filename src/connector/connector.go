package connector

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.uber.org/zap"

	"docgraph/src/metrics"
	"docgraph/src/models"
)

// MongoConnector executes compiled pipelines and object writes against one MongoDB
// database. It is safe for concurrent use; the objects passed to it are not.
type MongoConnector struct {
	client             *mongo.Client
	database           *mongo.Database
	graph              *models.Graph
	collections        map[string]*mongo.Collection
	logger             *zap.SugaredLogger
	recorder           *metrics.Recorder
	requestTimeout     time.Duration
	migrateConcurrency int
}

type Option func(*MongoConnector)

// WithRecorder reports every operation to r.
func WithRecorder(r *metrics.Recorder) Option {
	return func(c *MongoConnector) { c.recorder = r }
}

// WithRequestTimeout bounds each backend call. Zero leaves the caller's context alone.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *MongoConnector) { c.requestTimeout = d }
}

// WithMigrateConcurrency sets how many models reconcile their indices at once.
func WithMigrateConcurrency(n int) Option {
	return func(c *MongoConnector) {
		if n > 0 {
			c.migrateConcurrency = n
		}
	}
}

// Connect dials url and checks the server answers. The database is databaseName, or the
// one named in the url when databaseName is empty.
func Connect(ctx context.Context, url, databaseName string, graph *models.Graph, logger *zap.SugaredLogger, opts ...Option) (*MongoConnector, error) {
	cs, err := connstring.ParseAndValidate(url)
	if err != nil {
		return nil, fmt.Errorf("mongodb url is invalid: %w", err)
	}
	if databaseName == "" {
		databaseName = cs.Database
	}
	if databaseName == "" {
		return nil, fmt.Errorf("no database name found in mongodb url")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("mongodb client creating error: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("cannot connect to mongodb: %w", err)
	}
	logger.Infof("Connected to MongoDB database %s", databaseName)

	c := New(client.Database(databaseName), graph, logger, opts...)
	c.client = client
	return c, nil
}

// New wraps an existing database handle. One collection is bound per model, named by
// the model's table name.
func New(database *mongo.Database, graph *models.Graph, logger *zap.SugaredLogger, opts ...Option) *MongoConnector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c := &MongoConnector{
		database:           database,
		graph:              graph,
		collections:        make(map[string]*mongo.Collection),
		logger:             logger,
		migrateConcurrency: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, model := range graph.Models() {
		c.collections[model.Name()] = database.Collection(model.TableName())
	}
	return c
}

func (c *MongoConnector) Graph() *models.Graph { return c.graph }

// Disconnect closes the client opened by Connect. It is a no-op for connectors built by New.
func (c *MongoConnector) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Disconnect(ctx)
}

func (c *MongoConnector) collection(model *models.Model) (*mongo.Collection, error) {
	coll, ok := c.collections[model.Name()]
	if !ok {
		return nil, fmt.Errorf("model '%s' is not part of the connected graph", model.Name())
	}
	return coll, nil
}

func (c *MongoConnector) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// observe is deferred by every public operation with a pointer to its named error.
func (c *MongoConnector) observe(model *models.Model, operation string, start time.Time, err *error) {
	c.recorder.Observe(model.Name(), operation, start, *err)
}
