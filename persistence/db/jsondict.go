package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONDict stores a string keyed map as a JSON object column.
type JSONDict map[string]any

func (d JSONDict) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}

	data, err := json.Marshal(map[string]any(d))
	if err != nil {
		return nil, err
	}

	return string(data), nil
}

func (d *JSONDict) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsondict: unsupported source type %T", src)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("jsondict: %w", err)
	}

	*d = JSONDict(m)
	return nil
}

func (JSONDict) GormDataType() string {
	return "json"
}

func (JSONDict) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	default:
		return "JSON"
	}
}

// NewJSONDict converts any JSON object encodable value to a JSONDict.
func NewJSONDict(v any) (JSONDict, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var d JSONDict
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("jsondict: %w", err)
	}

	return d, nil
}

// Decode fills v from the dictionary.
func (d JSONDict) Decode(v any) error {
	data, err := json.Marshal(map[string]any(d))
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}
