package models

import (
	"database/sql/driver"
	"encoding/json"
)

// JSONMap represents a JSON object stored as jsonb in PostgreSQL and as text in SQLite
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for JSONMap
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for JSONMap
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONMap)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	if len(bytes) == 0 {
		*j = make(JSONMap)
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// GetString returns the string stored under key, or "" when absent or not a string.
func (j JSONMap) GetString(key string) string {
	if j == nil {
		return ""
	}
	if v, ok := j[key].(string); ok {
		return v
	}
	return ""
}

// GetStrings accepts both []string and the []interface{} produced by json decoding.
func (j JSONMap) GetStrings(key string) []string {
	if j == nil {
		return nil
	}
	switch v := j[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// GetUint32 accepts the numeric forms a payload value takes before and after json decoding.
func (j JSONMap) GetUint32(key string) (uint32, bool) {
	if j == nil {
		return 0, false
	}
	switch v := j[key].(type) {
	case uint32:
		return v, true
	case int:
		if v >= 0 {
			return uint32(v), true
		}
	case int64:
		if v >= 0 {
			return uint32(v), true
		}
	case float64:
		if v >= 0 && v == float64(uint32(v)) {
			return uint32(v), true
		}
	case json.Number:
		n, err := v.Int64()
		if err == nil && n >= 0 {
			return uint32(n), true
		}
	}
	return 0, false
}
