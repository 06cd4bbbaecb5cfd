package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"docgraph/src/connector"
	"docgraph/src/directors"
	"docgraph/src/engine"
	"docgraph/src/helpers"
	"docgraph/src/metrics"
	"docgraph/src/models"
	"docgraph/src/settings"
)

// cli carries what the persistent pre-run resolved, for the subcommands to share.
type cli struct {
	args     *settings.Arguments
	logger   *zap.SugaredLogger
	recorder *metrics.Recorder

	metricsServer *http.Server
	conn          *connector.MongoConnector
}

func newRootCmd(app *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "docgraph",
		Short:         "Query and migrate a MongoDB database through a declared model graph",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.setup(cmd)
		},
	}
	settings.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newMigrateCmd(app), newQueryCmd(app), newPipelineCmd(app))
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	args, err := settings.Load(cmd.Flags())
	if err != nil {
		return err
	}
	c.args = args

	logger, err := helpers.NewLogger(args.Debug)
	if err != nil {
		return err
	}
	c.logger = logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	c.recorder = metrics.NewRecorder(registry)

	if args.MetricsAddr != "" {
		return c.serveMetrics(registry)
	}
	return nil
}

func (c *cli) serveMetrics(registry *prometheus.Registry) error {
	listener, err := net.Listen("tcp", c.args.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.args.MetricsAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	c.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := c.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Errorf("Metrics server stopped: %v", err)
		}
	}()
	c.logger.Infof("Serving metrics on %s", listener.Addr())
	return nil
}

// close releases whatever setup and connect acquired. Safe to call after a failed run.
func (c *cli) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.conn != nil {
		directors.ResetServiceManager()
		if err := c.conn.Disconnect(ctx); err != nil {
			c.logger.Warnf("Error disconnecting from MongoDB: %v", err)
		}
	}
	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			c.logger.Warnf("Error stopping metrics server: %v", err)
		}
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func (c *cli) loadGraph() (*models.Graph, error) {
	if err := c.args.RequireSchema(); err != nil {
		return nil, err
	}
	if !helpers.FileExists(c.args.SchemaFile, c.logger) {
		return nil, fmt.Errorf("schema file %s does not exist", c.args.SchemaFile)
	}
	return models.LoadGraphFile(c.args.SchemaFile)
}

func (c *cli) connect(ctx context.Context) (*connector.MongoConnector, error) {
	if err := c.args.RequireBackend(); err != nil {
		return nil, err
	}
	graph, err := c.loadGraph()
	if err != nil {
		return nil, err
	}
	conn, err := connector.Connect(ctx, c.args.MongoURL, c.args.Database, graph, c.logger,
		connector.WithRecorder(c.recorder),
		connector.WithRequestTimeout(c.args.RequestTimeout),
		connector.WithMigrateConcurrency(c.args.MigrateConcurrency),
	)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func newMigrateCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create and reconcile the indices declared in the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := app.connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := conn.Migrate(cmd.Context(), app.args.ResetDatabase); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
}

func newQueryCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "query <model> <action> [input]",
		Short: "Run findUnique, findFirst, findMany, count, aggregate, groupBy, create, update or delete",
		Long: `Run one action against a model and print the result as JSON.

input is the JSON action body. Pass - to read it from stdin or @file to read a file.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := inputArg(cmd, args, 2)
			if err != nil {
				return err
			}
			conn, err := app.connect(cmd.Context())
			if err != nil {
				return err
			}
			directors.InitServiceManager(conn, app.logger)
			resp, err := directors.CommandDirector(cmd.Context(), nil, args[0], args[1], input, app.logger)
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
}

const (
	kindMany      = "many"
	kindUnique    = "unique"
	kindFirst     = "first"
	kindCount     = "count"
	kindAggregate = "aggregate"
	kindGroupBy   = "groupBy"
)

func newPipelineCmd(app *cli) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "pipeline <model> [input]",
		Short: "Print the aggregation pipeline a query compiles to, without connecting",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := inputArg(cmd, args, 1)
			if err != nil {
				return err
			}
			graph, err := app.loadGraph()
			if err != nil {
				return err
			}
			pipeline, err := compile(graph, args[0], kind, input)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), helpers.PipelineToJSON(pipeline))
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", kindMany, "Query kind: many, unique, first, count, aggregate or groupBy")
	return cmd
}

func compile(graph *models.Graph, modelName, kind string, input []byte) (mongo.Pipeline, error) {
	model, err := graph.Model(modelName)
	if err != nil {
		return nil, err
	}
	query, err := engine.ParseQuery(input)
	if err != nil {
		return nil, err
	}
	switch kind {
	case kindMany:
		return engine.BuildPipeline(graph, model, engine.QueryMany, false, query)
	case kindUnique:
		return engine.BuildPipeline(graph, model, engine.QueryUnique, false, query)
	case kindFirst:
		return engine.BuildPipeline(graph, model, engine.QueryFirst, false, query)
	case kindCount:
		return engine.BuildCountPipeline(graph, model, query)
	case kindAggregate:
		return engine.BuildAggregatePipeline(graph, model, query, false)
	case kindGroupBy:
		return engine.BuildAggregatePipeline(graph, model, query, true)
	}
	return nil, fmt.Errorf("unknown query kind %q", kind)
}

func inputArg(cmd *cobra.Command, args []string, i int) ([]byte, error) {
	if len(args) <= i {
		return nil, nil
	}
	return helpers.ReadInput(args[i], cmd.InOrStdin())
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
