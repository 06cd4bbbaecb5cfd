package helpers

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func GenerateUUID() string {
	return uuid.New().String()
}

// NewLogger builds the process logger: the development config when debug is set,
// the production config otherwise. Both write to stderr so stdout only carries results.
func NewLogger(debug bool) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error

	if debug {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stderr"}
		logger, err = z.Build()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.Sugar(), nil
}
