package connector

import (
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"docgraph/src/models"
)

const duplicateKeyCode = 11000

// The server message names the first indexed column; it is only consulted when the
// structured keyValue and keyPattern documents are missing.
var dupKeyPattern = regexp.MustCompile(`dup key: \{ (.+?):`)

// writeError maps a failed insert or update. Duplicate key violations become
// UniqueValueDuplicated naming the field; everything else is an unknown write error.
func writeError(model *models.Model, err error) error {
	var serverErr mongo.ServerError
	if !errors.As(err, &serverErr) || !serverErr.HasErrorCode(duplicateKeyCode) {
		return models.WrapBackendError(models.ErrUnknownDatabaseWriteError, err)
	}
	column := duplicateColumn(err)
	if column == "" {
		return models.WrapBackendError(models.ErrUnknownDatabaseWriteError, err)
	}
	name := column
	if field := model.FieldWithColumnName(column); field != nil {
		name = field.Name
	}
	dup := models.NewUniqueValueDuplicatedError(name)
	dup.Err = err
	return dup
}

// duplicateColumn finds the column a duplicate key error was raised for.
func duplicateColumn(err error) string {
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		for _, we := range writeErr.WriteErrors {
			if we.Code != duplicateKeyCode {
				continue
			}
			if column := firstKey(we.Raw, "keyValue", "keyPattern"); column != "" {
				return column
			}
			if m := dupKeyPattern.FindStringSubmatch(we.Message); m != nil {
				return m[1]
			}
		}
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if column := firstKey(cmdErr.Raw, "keyValue", "keyPattern"); column != "" {
			return column
		}
		if m := dupKeyPattern.FindStringSubmatch(cmdErr.Message); m != nil {
			return m[1]
		}
	}
	if m := dupKeyPattern.FindStringSubmatch(err.Error()); m != nil {
		return m[1]
	}
	return ""
}

// firstKey returns the first key of the first sub-document of raw named by one of keys.
func firstKey(raw bson.Raw, keys ...string) string {
	if len(raw) == 0 {
		return ""
	}
	for _, key := range keys {
		value, err := raw.LookupErr(key)
		if err != nil {
			continue
		}
		doc, ok := value.DocumentOK()
		if !ok {
			continue
		}
		elems, err := doc.Elements()
		if err != nil || len(elems) == 0 {
			continue
		}
		return elems[0].Key()
	}
	return ""
}
