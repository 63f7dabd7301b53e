package bilibili

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/source"
)

type metricField struct {
	name    string
	aliases []string
}

// metricFields lists, per tracked counter, the keys different API shapes use for
// it, in priority order. New response shapes are supported by extending this table.
var metricFields = []metricField{
	{name: "view", aliases: []string{"view", "play", "view_count", "play_count"}},
	{name: "danmaku", aliases: []string{"danmaku", "dm", "video_review"}},
	{name: "reply", aliases: []string{"reply", "comment", "comments"}},
	{name: "like", aliases: []string{"like", "likes"}},
	{name: "coin", aliases: []string{"coin", "coins"}},
	{name: "favorite", aliases: []string{"favorite", "favorites", "fav"}},
	{name: "share", aliases: []string{"share", "repost", "forward"}},
}

// statContainers are the objects searched for counters, most specific first.
// An empty path means the data object itself.
var statContainers = [][]string{
	{"stat"},
	{"stats"},
	{"archive", "stat"},
	{},
}

// ExtractMetrics walks the alias table over the known containers of a data payload.
func ExtractMetrics(raw json.RawMessage) (domain.Metrics, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, fmt.Errorf("empty data payload: %w", source.ErrTransient)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("data is not an object: %v: %w", err, source.ErrTransient)
	}

	containers := make([]map[string]any, 0, len(statContainers))
	for _, path := range statContainers {
		if obj, ok := lookup(data, path); ok {
			containers = append(containers, obj)
		}
	}

	metrics := domain.Metrics{}
	for _, field := range metricFields {
		if v, ok := firstNumber(containers, field.aliases); ok {
			metrics[field.name] = v
		}
	}

	if len(metrics) == 0 {
		return nil, fmt.Errorf("no metric fields in payload: %w", source.ErrTransient)
	}
	return metrics, nil
}

func lookup(data map[string]any, path []string) (map[string]any, bool) {
	current := data
	for _, key := range path {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func firstNumber(containers []map[string]any, aliases []string) (int64, bool) {
	for _, obj := range containers {
		for _, alias := range aliases {
			if v, ok := toInt(obj[alias]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i, true
		}
	case float64:
		return int64(v), true
	}
	return 0, false
}
