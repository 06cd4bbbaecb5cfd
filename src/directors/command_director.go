package directors

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"docgraph/src/engine"
	"docgraph/src/helpers"
	"docgraph/src/models"
)

var ErrUnknownAction = errors.New("unknown action")
var ErrNoServiceManager = errors.New("service manager is not initialized")

// Actions accepted by CommandDirector.
const (
	ActionFindUnique = "findUnique"
	ActionFindFirst  = "findFirst"
	ActionFindMany   = "findMany"
	ActionCount      = "count"
	ActionAggregate  = "aggregate"
	ActionGroupBy    = "groupBy"
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
)

type CommandResponse struct {
	RequestID   string `json:"requestId"`
	ResultCount int    `json:"resultCount"`
	Result      any    `json:"result"`
}

// CommandDirector runs one action on a model. input is the JSON action body: a query for
// reads, {"data": ...} for create, {"where": ..., "data": ...} for update and
// {"where": ...} for delete. A nil serviceManager uses the one InitServiceManager built.
func CommandDirector(ctx context.Context, serviceManager *ServiceManager, modelName, action string, input []byte, logger *zap.SugaredLogger) (*CommandResponse, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if serviceManager == nil {
		if serviceManager = GetServiceManager(); serviceManager == nil {
			return nil, ErrNoServiceManager
		}
	}
	requestID := helpers.GenerateUUID()
	logger.Debugf("[%s] %s.%s %s", requestID, modelName, action, input)

	resp, err := direct(ctx, serviceManager, modelName, action, input)
	if err != nil {
		logger.Warnf("[%s] %s.%s failed: %v", requestID, modelName, action, err)
		return nil, err
	}
	resp.RequestID = requestID
	return resp, nil
}

func direct(ctx context.Context, sm *ServiceManager, modelName, action string, input []byte) (*CommandResponse, error) {
	model, err := sm.ObjectService.Model(modelName)
	if err != nil {
		return nil, err
	}
	query, err := engine.ParseQuery(input)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionFindUnique, ActionFindFirst:
		find := sm.Store.FindUnique
		if action == ActionFindFirst {
			find = sm.Store.FindFirst
		}
		obj, err := find(ctx, model, query, false)
		if err != nil {
			return nil, err
		}
		return single(obj.ToMap()), nil

	case ActionFindMany:
		objs, err := sm.Store.FindMany(ctx, model, query, false)
		if err != nil {
			return nil, err
		}
		return objectList(objs), nil

	case ActionCount:
		n, err := sm.Store.Count(ctx, model, query)
		if err != nil {
			return nil, err
		}
		return single(n), nil

	case ActionAggregate:
		out, err := sm.Store.Aggregate(ctx, model, query)
		if err != nil {
			return nil, err
		}
		return single(models.ToInterface(out)), nil

	case ActionGroupBy:
		rows, err := sm.Store.GroupBy(ctx, model, query)
		if err != nil {
			return nil, err
		}
		result := make([]any, 0, len(rows))
		for _, row := range rows {
			result = append(result, models.ToInterface(row))
		}
		return &CommandResponse{ResultCount: len(result), Result: result}, nil

	case ActionCreate:
		data, err := section(query, "data")
		if err != nil {
			return nil, err
		}
		obj, err := sm.ObjectService.Create(ctx, model, data)
		if err != nil {
			return nil, err
		}
		return single(obj.ToMap()), nil

	case ActionUpdate:
		where, err := section(query, "where")
		if err != nil {
			return nil, err
		}
		data, err := section(query, "data")
		if err != nil {
			return nil, err
		}
		obj, err := sm.ObjectService.Update(ctx, model, where, data)
		if err != nil {
			return nil, err
		}
		return single(obj.ToMap()), nil

	case ActionDelete:
		where, err := section(query, "where")
		if err != nil {
			return nil, err
		}
		obj, err := sm.ObjectService.Delete(ctx, model, where)
		if err != nil {
			return nil, err
		}
		return single(obj.ToMap()), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
}

func section(query map[string]any, key string) (map[string]any, error) {
	raw, ok := query[key]
	if !ok {
		return nil, models.NewInvalidQueryInputError(key, "'%s' is required", key)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, models.NewInvalidQueryInputError(key, "'%s' must be an object", key)
	}
	return m, nil
}

func single(result any) *CommandResponse {
	return &CommandResponse{ResultCount: 1, Result: result}
}

func objectList(objs []*models.Object) *CommandResponse {
	result := make([]map[string]any, 0, len(objs))
	for _, obj := range objs {
		result = append(result, obj.ToMap())
	}
	return &CommandResponse{ResultCount: len(result), Result: result}
}
