package directors

import (
	"sync"

	"go.uber.org/zap"
)

type ServiceManager struct {
	Store         Store
	ObjectService *ObjectService
	logger        *zap.SugaredLogger
}

// Private instance and mutex for thread safety
var (
	instance *ServiceManager
	once     sync.Once
	mu       sync.RWMutex
)

// GetServiceManager returns the singleton instance of ServiceManager, or nil before
// InitServiceManager ran.
func GetServiceManager() *ServiceManager {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// InitServiceManager builds the services around store once. Later calls return the
// first instance.
func InitServiceManager(store Store, logger *zap.SugaredLogger) *ServiceManager {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()

		if logger == nil {
			logger = zap.NewNop().Sugar()
		}
		instance = NewServiceManager(store, logger)
		logger.Info("ServiceManager singleton initialized")
	})

	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// NewServiceManager builds an unshared manager, for callers that need more than one backend.
func NewServiceManager(store Store, logger *zap.SugaredLogger) *ServiceManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ServiceManager{
		Store:         store,
		ObjectService: NewObjectService(store, logger),
		logger:        logger,
	}
}

// ResetServiceManager drops the singleton so the next InitServiceManager builds a new one.
// Call it once the store behind it is closed.
func ResetServiceManager() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}
