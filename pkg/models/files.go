package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// FileReferences is a list of staging pairs stored as a JSONB column.
type FileReferences []FileReference

func (f *FileReferences) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*f = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("file references: type assertion to []byte failed")
	}
	return json.Unmarshal(data, f)
}

func (f FileReferences) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]FileReference(f))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
