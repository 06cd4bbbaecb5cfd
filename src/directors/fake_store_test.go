package directors

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"docgraph/src/models"
)

const testSchema = `
models:
  - name: User
    table: users
    fields:
      - {name: id, column: _id, type: ObjectId, primary: true, auto: true}
      - {name: name, type: String}
      - {name: age, type: I32, optional: true}
      - {name: tags, type: Vec<String>, optional: true}
`

// fakeStore records calls and answers from canned values.
type fakeStore struct {
	graph *models.Graph

	mu        sync.Mutex
	objects   []*models.Object
	count     int64
	aggregate models.Map
	groups    []models.Map
	err       error

	queries   []map[string]any
	mutations []bool
	saved     []*models.Object
	deleted   []*models.Object
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	g, err := models.ParseGraph([]byte(testSchema))
	require.NoError(t, err)
	return &fakeStore{graph: g}
}

func (f *fakeStore) record(query map[string]any, mutation bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.mutations = append(f.mutations, mutation)
}

func (f *fakeStore) Graph() *models.Graph { return f.graph }

func (f *fakeStore) FindUnique(_ context.Context, _ *models.Model, query map[string]any, mutationMode bool) (*models.Object, error) {
	f.record(query, mutationMode)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.objects) == 0 {
		return nil, models.ErrObjectNotFound
	}
	return f.objects[0], nil
}

func (f *fakeStore) FindFirst(ctx context.Context, model *models.Model, query map[string]any, mutationMode bool) (*models.Object, error) {
	return f.FindUnique(ctx, model, query, mutationMode)
}

func (f *fakeStore) FindMany(_ context.Context, _ *models.Model, query map[string]any, mutationMode bool) ([]*models.Object, error) {
	f.record(query, mutationMode)
	return f.objects, f.err
}

func (f *fakeStore) Count(_ context.Context, _ *models.Model, query map[string]any) (int64, error) {
	f.record(query, false)
	return f.count, f.err
}

func (f *fakeStore) Aggregate(_ context.Context, _ *models.Model, query map[string]any) (models.Map, error) {
	f.record(query, false)
	return f.aggregate, f.err
}

func (f *fakeStore) GroupBy(_ context.Context, _ *models.Model, query map[string]any) ([]models.Map, error) {
	f.record(query, false)
	return f.groups, f.err
}

func (f *fakeStore) SaveObject(_ context.Context, obj *models.Object) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, obj)
	return nil
}

func (f *fakeStore) DeleteObject(_ context.Context, obj *models.Object) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, obj)
	return nil
}

func storedUser(t *testing.T, f *fakeStore, id string, values map[string]models.Value) *models.Object {
	t.Helper()
	obj, err := f.graph.NewObject("User")
	require.NoError(t, err)
	obj.LoadValue("id", models.ObjectID(id))
	for k, v := range values {
		obj.LoadValue(k, v)
	}
	obj.MarkLoaded(nil)
	return obj
}
