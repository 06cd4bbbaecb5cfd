package directors

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"docgraph/src/engine"
	"docgraph/src/models"
)

// Store is the backend the services run against. *connector.MongoConnector implements it.
type Store interface {
	Graph() *models.Graph
	FindUnique(ctx context.Context, model *models.Model, query map[string]any, mutationMode bool) (*models.Object, error)
	FindFirst(ctx context.Context, model *models.Model, query map[string]any, mutationMode bool) (*models.Object, error)
	FindMany(ctx context.Context, model *models.Model, query map[string]any, mutationMode bool) ([]*models.Object, error)
	Count(ctx context.Context, model *models.Model, query map[string]any) (int64, error)
	Aggregate(ctx context.Context, model *models.Model, query map[string]any) (models.Map, error)
	GroupBy(ctx context.Context, model *models.Model, query map[string]any) ([]models.Map, error)
	SaveObject(ctx context.Context, obj *models.Object) error
	DeleteObject(ctx context.Context, obj *models.Object) error
}

// ObjectService applies create, update and delete input to objects and persists them.
type ObjectService struct {
	store  Store
	graph  *models.Graph
	logger *zap.SugaredLogger
}

func NewObjectService(store Store, logger *zap.SugaredLogger) *ObjectService {
	return &ObjectService{
		store:  store,
		graph:  store.Graph(),
		logger: logger,
	}
}

func (s *ObjectService) Model(name string) (*models.Model, error) {
	return s.graph.Model(name)
}

// Create builds a new object from data and inserts it.
func (s *ObjectService) Create(ctx context.Context, model *models.Model, data map[string]any) (*models.Object, error) {
	obj, err := s.graph.NewObject(model.Name())
	if err != nil {
		return nil, err
	}
	if err := s.applyData(obj, data, false); err != nil {
		return nil, err
	}
	if err := s.store.SaveObject(ctx, obj); err != nil {
		return nil, err
	}
	s.logger.Debugf("Created %s", model.Name())
	return obj, nil
}

// Update loads the record selected by where and writes data to it. A value of the form
// {"increment": 1} queues an atomic update instead of assigning.
func (s *ObjectService) Update(ctx context.Context, model *models.Model, where map[string]any, data map[string]any) (*models.Object, error) {
	obj, err := s.store.FindUnique(ctx, model, map[string]any{"where": where}, true)
	if err != nil {
		return nil, err
	}
	if err := s.applyData(obj, data, true); err != nil {
		return nil, err
	}
	if err := s.store.SaveObject(ctx, obj); err != nil {
		return nil, err
	}
	s.logger.Debugf("Updated %s", model.Name())
	return obj, nil
}

// Delete removes the record selected by where and returns it as it was stored.
func (s *ObjectService) Delete(ctx context.Context, model *models.Model, where map[string]any) (*models.Object, error) {
	obj, err := s.store.FindUnique(ctx, model, map[string]any{"where": where}, true)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteObject(ctx, obj); err != nil {
		return nil, err
	}
	s.logger.Debugf("Deleted %s", model.Name())
	return obj, nil
}

func (s *ObjectService) applyData(obj *models.Object, data map[string]any, allowAtomic bool) error {
	model := obj.Model()
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		field := model.Field(key)
		if field == nil {
			return models.NewInvalidKeyError(model.Name(), key)
		}
		path := "data." + key
		raw := data[key]

		if op, operand, ok := atomicInput(raw); ok {
			if !allowAtomic {
				return models.NewInvalidQueryInputError(path, "%s is only accepted by update", op)
			}
			operandType := field.Type
			if op == models.AtomicPush {
				if field.Type.Inner == nil {
					return models.NewUnsupportedFieldTypeError(key, field.Type)
				}
				operandType = *field.Type.Inner
			}
			value, err := engine.DecodeInput(s.graph, fmt.Sprintf("%s.%s", path, op), operand, operandType)
			if err != nil {
				return err
			}
			if err := obj.RequestAtomic(key, op, value); err != nil {
				return err
			}
			continue
		}

		value, err := engine.DecodeInput(s.graph, path, raw, field.Type)
		if err != nil {
			return err
		}
		if err := obj.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

// atomicInput recognises a single-key object naming an atomic operator.
func atomicInput(raw any) (models.AtomicOp, any, bool) {
	m, ok := raw.(map[string]any)
	if !ok || len(m) != 1 {
		return 0, nil, false
	}
	for name, operand := range m {
		if op, ok := models.ParseAtomicOp(name); ok {
			return op, operand, true
		}
	}
	return 0, nil, false
}
