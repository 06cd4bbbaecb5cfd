package helpers

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// ReadInput resolves a command line argument into bytes: "-" reads stdin, "@path"
// reads a file, anything else is taken literally.
func ReadInput(arg string, stdin io.Reader) ([]byte, error) {
	switch {
	case arg == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("error reading stdin: %w", err)
		}
		return data, nil
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("error opening input file %s: %w", arg[1:], err)
		}
		return data, nil
	}
	return []byte(arg), nil
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string, logger *zap.SugaredLogger) bool {
	info, err := os.Stat(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Infof("Error checking file %s for existence: %s", filename, err)
		}
		return false
	}
	return !info.IsDir()
}

// PipelineToJSON renders a pipeline as relaxed extended JSON for logs and the CLI.
func PipelineToJSON(pipeline any) string {
	data, err := bson.MarshalExtJSON(bson.D{{Key: "pipeline", Value: pipeline}}, false, false)
	if err != nil {
		return fmt.Sprintf("<unprintable pipeline: %v>", err)
	}
	return string(data)
}
