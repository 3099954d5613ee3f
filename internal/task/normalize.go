package task

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Push payloads arrive loosely typed: IDs may be numbers, progress may be a
// float or a string, timestamps come in several shapes. Everything crosses
// this parsing boundary before touching the mirror; what cannot be coerced
// is rejected with an error rather than applied unvalidated.

var errMissingID = errors.New("task payload has no id")

// mergeTask applies the fields present in raw onto dst, coercing each to the
// strict internal type. Absent fields keep their current value, which is
// what makes duplicate or partial update events safe to re-apply.
func mergeTask(dst *Task, raw map[string]interface{}) error {
	if v, ok := raw["id"]; ok {
		id := coerceString(v)
		if id == "" {
			return errMissingID
		}
		dst.ID = id
	}
	if dst.ID == "" {
		return errMissingID
	}

	if v, ok := raw["status"]; ok {
		status := Status(strings.ToLower(coerceString(v)))
		if !status.Valid() {
			return fmt.Errorf("task %s: unknown status %q", dst.ID, coerceString(v))
		}
		dst.Status = status
	}
	if dst.Status == "" {
		dst.Status = StatusPending
	}

	if v, ok := raw["name"]; ok {
		dst.Name = coerceString(v)
	}
	if v, ok := raw["type"]; ok {
		dst.Type = coerceString(v)
	}
	if v, ok := raw["message"]; ok {
		dst.Message = coerceString(v)
	} else if v, ok := raw["error"]; ok {
		dst.Message = coerceString(v)
	}

	if v, ok := raw["progress"]; ok {
		p := coerceInt(v)
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		dst.Progress = p
	}
	if v, ok := raw["done"]; ok {
		dst.Done = coerceInt(v)
	}
	if v, ok := raw["total"]; ok {
		dst.Total = coerceInt(v)
	}

	if v, ok := raw["groupIds"]; ok {
		dst.GroupIDs = coerceStringSlice(v)
	}

	if v, ok := raw["createdAt"]; ok {
		if ts, err := coerceTime(v); err == nil {
			dst.CreatedAt = ts
		}
	}

	return nil
}

func coerceString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JSON numbers decode as float64; integral IDs must not grow a
		// fractional suffix.
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func coerceInt(v interface{}) int {
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case int64:
		return int(val)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	return 0
}

func coerceStringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := coerceString(item); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func coerceTime(v interface{}) (time.Time, error) {
	switch val := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return ts, nil
		}
		if ts, err := time.Parse(time.RFC3339, val); err == nil {
			return ts, nil
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", val)
	case float64:
		// Unix seconds, with millisecond values tolerated.
		if val > 1e12 {
			return time.UnixMilli(int64(val)), nil
		}
		return time.Unix(int64(val), 0), nil
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
}
