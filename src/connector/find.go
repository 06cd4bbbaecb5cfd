package connector

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"docgraph/src/engine"
	"docgraph/src/helpers"
	"docgraph/src/models"
)

// FindUnique returns the single record matching query or ErrObjectNotFound.
func (c *MongoConnector) FindUnique(ctx context.Context, model *models.Model, query map[string]any, mutationMode bool) (obj *models.Object, err error) {
	defer c.observe(model, "findUnique", time.Now(), &err)

	pipeline, err := engine.BuildPipeline(c.graph, model, engine.QueryUnique, mutationMode, query)
	if err != nil {
		return nil, err
	}
	docs, err := c.run(ctx, model, pipeline, models.ErrUnknownDatabaseFindUniqueError)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, models.ErrObjectNotFound
	}
	return c.materialize(model, docs[0], query)
}

// FindFirst runs query as a find-many limited to one record. A negative take keeps its
// sign so the last record in order is returned.
func (c *MongoConnector) FindFirst(ctx context.Context, model *models.Model, query map[string]any, mutationMode bool) (obj *models.Object, err error) {
	defer c.observe(model, "findFirst", time.Now(), &err)

	first := make(map[string]any, len(query)+1)
	for k, v := range query {
		first[k] = v
	}
	// a page keeps its own window, the first record of it is returned
	if _, paged := first["pageSize"]; !paged {
		if engine.HasNegativeTake(query) {
			first["take"] = int64(-1)
		} else {
			first["take"] = int64(1)
		}
	}
	objs, err := c.findMany(ctx, model, engine.QueryFirst, first, mutationMode)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, models.ErrObjectNotFound
	}
	return objs[0], nil
}

// FindMany returns every record matching query, in the order the query asked for.
func (c *MongoConnector) FindMany(ctx context.Context, model *models.Model, query map[string]any, mutationMode bool) (objs []*models.Object, err error) {
	defer c.observe(model, "findMany", time.Now(), &err)
	return c.findMany(ctx, model, engine.QueryMany, query, mutationMode)
}

func (c *MongoConnector) findMany(ctx context.Context, model *models.Model, kind engine.QueryKind, query map[string]any, mutationMode bool) ([]*models.Object, error) {
	pipeline, err := engine.BuildPipeline(c.graph, model, kind, mutationMode, query)
	if err != nil {
		return nil, err
	}
	docs, err := c.run(ctx, model, pipeline, models.ErrUnknownDatabaseFindError)
	if err != nil {
		return nil, err
	}

	// the pipeline sorted backwards for a negative take
	reverse := engine.HasNegativeTake(query)
	out := make([]*models.Object, len(docs))
	for i, doc := range docs {
		obj, err := c.materialize(model, doc, query)
		if err != nil {
			return nil, err
		}
		if reverse {
			out[len(docs)-1-i] = obj
		} else {
			out[i] = obj
		}
	}
	return out, nil
}

// Count returns how many records match the where clause of query.
func (c *MongoConnector) Count(ctx context.Context, model *models.Model, query map[string]any) (n int64, err error) {
	defer c.observe(model, "count", time.Now(), &err)

	pipeline, err := engine.BuildCountPipeline(c.graph, model, query)
	if err != nil {
		return 0, err
	}
	docs, err := c.run(ctx, model, pipeline, models.ErrUnknownDatabaseCountError)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	switch v := docs[0]["count"].(type) {
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	}
	return 0, models.NewUnmatchedDataTypeError("count")
}

// Aggregate computes the requested aggregates over the matching records. With no
// matching record every requested count is 0 and every other aggregate is null.
func (c *MongoConnector) Aggregate(ctx context.Context, model *models.Model, query map[string]any) (result models.Map, err error) {
	defer c.observe(model, "aggregate", time.Now(), &err)

	rows, err := c.aggregateRows(ctx, model, query, false)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return engine.EmptyAggregateResult(model, query)
	}
	return rows[0], nil
}

// GroupBy computes the requested aggregates per group. No matching record yields an
// empty list.
func (c *MongoConnector) GroupBy(ctx context.Context, model *models.Model, query map[string]any) (rows []models.Map, err error) {
	defer c.observe(model, "groupBy", time.Now(), &err)
	return c.aggregateRows(ctx, model, query, true)
}

func (c *MongoConnector) aggregateRows(ctx context.Context, model *models.Model, query map[string]any, groupBy bool) ([]models.Map, error) {
	pipeline, err := engine.BuildAggregatePipeline(c.graph, model, query, groupBy)
	if err != nil {
		return nil, err
	}
	docs, err := c.run(ctx, model, pipeline, models.ErrUnknownDatabaseFindError)
	if err != nil {
		return nil, err
	}
	rows, err := engine.ReshapeAggregateRows(model, docs)
	if err != nil {
		return nil, err
	}
	// groups were sorted backwards for a negative take
	if groupBy && engine.HasNegativeTake(query) {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	return rows, nil
}

// run executes pipeline on the model's collection and drains the cursor. Backend failures
// are wrapped in sentinel.
func (c *MongoConnector) run(ctx context.Context, model *models.Model, pipeline mongo.Pipeline, sentinel *models.ActionError) ([]bson.M, error) {
	coll, err := c.collection(model)
	if err != nil {
		return nil, err
	}
	c.logger.Debugf("Aggregating %s: %s", coll.Name(), helpers.PipelineToJSON(pipeline))

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		c.logger.Warnf("Aggregate on %s failed: %v", coll.Name(), err)
		return nil, models.WrapBackendError(sentinel, err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		c.logger.Warnf("Reading aggregate cursor on %s failed: %v", coll.Name(), err)
		return nil, models.WrapBackendError(sentinel, err)
	}
	return docs, nil
}

func (c *MongoConnector) materialize(model *models.Model, doc bson.M, query map[string]any) (*models.Object, error) {
	obj, err := c.graph.NewObject(model.Name())
	if err != nil {
		return nil, err
	}
	if err := engine.DocumentToObject(c.graph, doc, obj, query); err != nil {
		return nil, err
	}
	c.recorder.DocumentsRead(model.Name(), 1)
	return obj, nil
}
