// Package config loads activity settings from flags and an optional
// config file, and the workload definition from YAML.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// lookupSetting searches settings for the first candidate key present.
// Viper lowercases keys, so the lowercase form is tried as well.
func lookupSetting(settings map[string]any, candidates ...string) (any, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func asString(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case []byte:
		return string(v), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func asInt64(value any) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		return i, errors.WithStack(err)
	default:
		return 0, errors.Errorf("unsupported numeric type %T", value)
	}
}

func asInt(value any) (int, error) {
	v, err := asInt64(value)
	return int(v), err
}

// asFloat64 also accepts strings such as "2.5".
func asFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		i, err := asInt64(v)
		return float64(i), err
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, errors.WithStack(err)
	default:
		return 0, errors.Errorf("unsupported float type %T", value)
	}
}

func asBool(value any) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, errors.WithStack(err)
	default:
		return false, errors.Errorf("unsupported boolean type %T", value)
	}
}

// asDuration parses duration strings; bare numbers are seconds.
func asDuration(value any) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(v)
		return d, errors.WithStack(err)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		iv, _ := asInt64(v)
		return time.Duration(iv) * time.Second, nil
	case float32, float64:
		fv, _ := asFloat64(v)
		return time.Duration(fv * float64(time.Second)), nil
	default:
		return 0, errors.Errorf("unsupported duration type %T", value)
	}
}

// asStringSlice accepts a list or a single comma separated string.
func asStringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		result := make([]string, len(v))
		for i, item := range v {
			str, err := asString(item)
			if err != nil {
				return nil, errors.Wrapf(err, "index %d", i)
			}
			result[i] = str
		}
		return result, nil
	case string:
		return []string{v}, nil
	default:
		return nil, errors.Errorf("unsupported string slice type %T", value)
	}
}

func asIntSlice(value any) ([]int, error) {
	var items []any
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []int:
		return v, nil
	case []any:
		items = v
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	default:
		items = []any{v}
	}
	out := make([]int, 0, len(items))
	for i, item := range items {
		n, err := asInt(item)
		if err != nil {
			return nil, errors.Wrapf(err, "index %d", i)
		}
		out = append(out, n)
	}
	return out, nil
}

func toInterfaceSlice(value any) ([]any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case []map[string]any:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return items, nil
	default:
		return nil, errors.Errorf("expected list, got %T", value)
	}
}

// toStringKeyMap normalizes map keys to lowercase strings.
func toStringKeyMap(value any) (map[string]any, error) {
	result := map[string]any{}
	switch v := value.(type) {
	case map[string]any:
		for key, val := range v {
			result[strings.ToLower(strings.TrimSpace(key))] = val
		}
	case map[any]any:
		for key, val := range v {
			str, err := asString(key)
			if err != nil {
				return nil, err
			}
			result[strings.ToLower(strings.TrimSpace(str))] = val
		}
	default:
		return nil, errors.Errorf("expected map, got %T", value)
	}
	return result, nil
}
