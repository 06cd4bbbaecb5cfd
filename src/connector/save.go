package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docgraph/src/engine"
	"docgraph/src/models"
)

// SaveObject inserts a new object or writes the pending changes of a stored one.
func (c *MongoConnector) SaveObject(ctx context.Context, obj *models.Object) (err error) {
	if !obj.IsInitialized() {
		return errUninitializedObject()
	}
	if obj.IsNew() {
		defer c.observe(obj.Model(), "create", time.Now(), &err)
		return c.createObject(ctx, obj)
	}
	defer c.observe(obj.Model(), "update", time.Now(), &err)
	return c.updateObject(ctx, obj)
}

// createObject inserts every field holding a non-null value. The id the backend assigns
// is written back into the _id field, or the synthetic id when the model has none.
func (c *MongoConnector) createObject(ctx context.Context, obj *models.Object) error {
	model := obj.Model()
	coll, err := c.collection(model)
	if err != nil {
		return err
	}
	doc := bson.D{}
	for _, key := range obj.KeysForSave() {
		field := model.Field(key)
		wire, err := engine.EncodeBSON(field.Name, field.Type, obj.Get(key))
		if err != nil {
			return err
		}
		if wire == nil {
			continue
		}
		doc = append(doc, bson.E{Key: field.ColumnName, Value: wire})
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	result, err := coll.InsertOne(ctx, doc)
	if err != nil {
		c.logger.Warnf("Insert into %s failed: %v", coll.Name(), err)
		return writeError(model, err)
	}

	if field := model.FieldWithColumnName("_id"); field != nil {
		id, err := engine.DecodeBSON(field.Name, result.InsertedID, field.Type, field.Optional)
		if err != nil {
			return err
		}
		obj.LoadValue(field.Name, id)
	} else {
		obj.LoadValue(models.SyntheticIDKey, engine.SyntheticID(result.InsertedID))
	}
	obj.MarkSaved()
	return nil
}

// updateObject sends the changed fields as $set/$unset and pending atomic updates as
// $inc/$mul/$push. With any atomic update the stored document is returned and the
// affected fields are reloaded from it.
func (c *MongoConnector) updateObject(ctx context.Context, obj *models.Object) error {
	model := obj.Model()
	coll, err := c.collection(model)
	if err != nil {
		return err
	}
	update, atomicKeys, err := updateDocument(obj)
	if err != nil {
		return err
	}
	if len(update) == 0 {
		return nil
	}
	filter, err := identityFilter(obj)
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if len(atomicKeys) == 0 {
		result, err := coll.UpdateOne(ctx, filter, update)
		if err != nil {
			c.logger.Warnf("Update on %s failed: %v", coll.Name(), err)
			return writeError(model, err)
		}
		if result.MatchedCount == 0 {
			return models.ErrObjectNotFound
		}
		obj.MarkSaved()
		return nil
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var stored bson.M
	if err := coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.ErrObjectNotFound
		}
		c.logger.Warnf("Atomic update on %s failed: %v", coll.Name(), err)
		return writeError(model, err)
	}
	for _, key := range atomicKeys {
		field := model.Field(key)
		value, err := engine.DecodeBSON(field.Name, stored[field.ColumnName], field.Type, field.Optional)
		if err != nil {
			return err
		}
		obj.LoadValue(key, value)
	}
	obj.MarkSaved()
	return nil
}

// updateDocument splits the pending changes of obj into update operators. It returns the
// fields whose stored value changes atomically.
func updateDocument(obj *models.Object) (bson.D, []string, error) {
	model := obj.Model()
	set, unset := bson.D{}, bson.D{}
	inc, mul, push := bson.D{}, bson.D{}, bson.D{}

	for _, key := range obj.KeysForSave() {
		field := model.Field(key)
		column := field.ColumnName

		if u, ok := obj.AtomicUpdateFor(key); ok {
			switch u.Op {
			case models.AtomicIncrement, models.AtomicDecrement:
				operand := u.Operand
				if u.Op == models.AtomicDecrement {
					negated, err := models.Negate(operand)
					if err != nil {
						return nil, nil, models.NewInvalidQueryInputError(key, "%v", err)
					}
					operand = negated
				}
				wire, err := engine.EncodeBSON(key, field.Type, operand)
				if err != nil {
					return nil, nil, err
				}
				inc = append(inc, bson.E{Key: column, Value: wire})
			case models.AtomicMultiply:
				wire, err := engine.EncodeBSON(key, field.Type, u.Operand)
				if err != nil {
					return nil, nil, err
				}
				mul = append(mul, bson.E{Key: column, Value: wire})
			case models.AtomicDivide:
				// dividing is multiplying by the reciprocal, always sent as a double
				recip, err := models.Reciprocal(u.Operand)
				if err != nil {
					return nil, nil, models.NewInvalidQueryInputError(key, "%v", err)
				}
				f, _ := models.ToFloat64(recip)
				mul = append(mul, bson.E{Key: column, Value: f})
			case models.AtomicPush:
				if field.Type.Inner == nil {
					return nil, nil, models.NewUnsupportedFieldTypeError(key, field.Type)
				}
				wire, err := engine.EncodeBSON(key, *field.Type.Inner, u.Operand)
				if err != nil {
					return nil, nil, err
				}
				push = append(push, bson.E{Key: column, Value: wire})
			}
			continue
		}

		wire, err := engine.EncodeBSON(key, field.Type, obj.Get(key))
		if err != nil {
			return nil, nil, err
		}
		if wire == nil {
			unset = append(unset, bson.E{Key: column, Value: ""})
		} else {
			set = append(set, bson.E{Key: column, Value: wire})
		}
	}

	update := bson.D{}
	for _, op := range []struct {
		name string
		doc  bson.D
	}{{"$set", set}, {"$unset", unset}, {"$inc", inc}, {"$mul", mul}, {"$push", push}} {
		if len(op.doc) > 0 {
			update = append(update, bson.E{Key: op.name, Value: op.doc})
		}
	}
	return update, obj.AtomicKeys(), nil
}

// DeleteObject removes a stored object. Deleting an object that was never saved fails
// without contacting the backend.
func (c *MongoConnector) DeleteObject(ctx context.Context, obj *models.Object) (err error) {
	if !obj.IsInitialized() {
		return errUninitializedObject()
	}
	defer c.observe(obj.Model(), "delete", time.Now(), &err)

	if obj.IsNew() {
		return models.ErrObjectIsNotSaved
	}
	coll, err := c.collection(obj.Model())
	if err != nil {
		return err
	}
	filter, err := identityFilter(obj)
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := coll.DeleteOne(ctx, filter); err != nil {
		c.logger.Warnf("Delete on %s failed: %v", coll.Name(), err)
		return models.WrapBackendError(models.ErrUnknownDatabaseDeleteError, err)
	}
	return nil
}

func errUninitializedObject() error {
	return models.NewInvalidQueryInputError("", "object was neither created by Graph.NewObject nor loaded from storage")
}

// identityFilter selects the stored record of obj by the identity snapshot taken when it
// was loaded or last saved.
func identityFilter(obj *models.Object) (bson.D, error) {
	model := obj.Model()
	identity := obj.Identity()
	keys := model.PrimaryKeyFields()
	if len(keys) == 0 {
		id, ok := identity[models.SyntheticIDKey]
		if !ok {
			return nil, models.ErrObjectIsNotSaved
		}
		wire, err := syntheticWire(id)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "_id", Value: wire}}, nil
	}

	filter := bson.D{}
	for _, field := range keys {
		v, ok := identity[field.Name]
		if !ok || models.IsNull(v) {
			return nil, models.ErrObjectIsNotSaved
		}
		wire, err := engine.EncodeBSON(field.Name, field.Type, v)
		if err != nil {
			return nil, err
		}
		filter = append(filter, bson.E{Key: field.ColumnName, Value: wire})
	}
	return filter, nil
}

func syntheticWire(v models.Value) (any, error) {
	switch id := v.(type) {
	case models.ObjectID:
		oid, err := primitive.ObjectIDFromHex(string(id))
		if err != nil {
			return nil, fmt.Errorf("invalid synthetic id '%s': %w", id, err)
		}
		return oid, nil
	case models.String:
		return string(id), nil
	case models.I64:
		return int64(id), nil
	}
	return nil, fmt.Errorf("unsupported synthetic id of kind %s", v.Kind())
}
