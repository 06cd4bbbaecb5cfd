package connector

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"docgraph/src/models"
)

// liveIndex is one entry of listIndexes.
type liveIndex struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique bool   `bson:"unique"`
}

// Migrate reconciles the indices of every model with the backend. reset drops the whole
// database first. Models are reconciled concurrently; failures are collected per index.
func (c *MongoConnector) Migrate(ctx context.Context, reset bool) error {
	if reset {
		c.logger.Infof("Dropping database %s", c.database.Name())
		if err := c.database.Drop(ctx); err != nil {
			c.logger.Warnf("Dropping database %s failed: %v", c.database.Name(), err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.migrateConcurrency)
	for _, model := range c.graph.Models() {
		model := model
		g.Go(func() error {
			return c.reconcileIndices(ctx, model)
		})
	}
	return g.Wait()
}

func (c *MongoConnector) reconcileIndices(ctx context.Context, model *models.Model) error {
	coll, err := c.collection(model)
	if err != nil {
		return err
	}
	cursor, err := coll.Indexes().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list indices of %s: %w", coll.Name(), err)
	}
	var live []liveIndex
	if err := cursor.All(ctx, &live); err != nil {
		return fmt.Errorf("failed to read indices of %s: %w", coll.Name(), err)
	}

	var errs error
	reviewed := make(map[string]struct{}, len(live))
	for _, index := range live {
		if isIDIndex(index.Key) {
			continue
		}
		reviewed[index.Name] = struct{}{}
		declared := findIndex(model, index.Name)
		if declared == nil {
			c.logger.Infof("Dropping undeclared index %s on %s", index.Name, coll.Name())
			if _, err := coll.Indexes().DropOne(ctx, index.Name); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("drop index %s on %s: %w", index.Name, coll.Name(), err))
			}
			continue
		}
		if sameShape(model, declared, index) {
			continue
		}
		c.logger.Infof("Recreating changed index %s on %s", index.Name, coll.Name())
		if _, err := coll.Indexes().DropOne(ctx, index.Name); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("drop index %s on %s: %w", index.Name, coll.Name(), err))
			continue
		}
		if _, err := coll.Indexes().CreateOne(ctx, indexModel(model, declared)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("create index %s on %s: %w", index.Name, coll.Name(), err))
		}
	}

	for _, declared := range model.Indices() {
		if _, ok := reviewed[declared.Name]; ok {
			continue
		}
		// the backend keeps its own unique index on _id
		if len(declared.Items) == 1 && model.ColumnNameForFieldName(declared.Items[0].Field) == "_id" {
			continue
		}
		c.logger.Infof("Creating index %s on %s", declared.Name, coll.Name())
		if _, err := coll.Indexes().CreateOne(ctx, indexModel(model, declared)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("create index %s on %s: %w", declared.Name, coll.Name(), err))
		}
	}
	return errs
}

func isIDIndex(key bson.D) bool {
	return len(key) == 1 && key[0].Key == "_id"
}

func findIndex(model *models.Model, name string) *models.ModelIndex {
	for _, idx := range model.Indices() {
		if idx.Name == name {
			return idx
		}
	}
	return nil
}

// indexKeys is the key document of a declared index: columns in item order, 1 or -1.
func indexKeys(model *models.Model, index *models.ModelIndex) bson.D {
	keys := bson.D{}
	for _, item := range index.Items {
		keys = append(keys, bson.E{Key: model.ColumnNameForFieldName(item.Field), Value: int32(item.Sort.Direction())})
	}
	return keys
}

// indexModel builds the create request. Unique and primary indices are unique; every
// index is sparse so documents without the optional column are accepted.
func indexModel(model *models.Model, index *models.ModelIndex) mongo.IndexModel {
	return mongo.IndexModel{
		Keys: indexKeys(model, index),
		Options: options.Index().
			SetName(index.Name).
			SetUnique(index.Type.IsUnique()).
			SetSparse(true),
	}
}

// sameShape compares columns, directions and uniqueness of a live index with its declaration.
func sameShape(model *models.Model, declared *models.ModelIndex, live liveIndex) bool {
	if declared.Type.IsUnique() != live.Unique {
		return false
	}
	want := indexKeys(model, declared)
	if len(want) != len(live.Key) {
		return false
	}
	for i, e := range want {
		if live.Key[i].Key != e.Key || direction(live.Key[i].Value) != e.Value.(int32) {
			return false
		}
	}
	return true
}

// direction normalises the numeric forms a server reports for index key directions.
func direction(v any) int32 {
	var f float64
	switch n := v.(type) {
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	default:
		return 0
	}
	if f < 0 {
		return -1
	}
	return 1
}
