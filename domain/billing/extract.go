package billing

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ExtractEntries returns the list found at result.content of an API response.
// Any other shape yields an empty list.
func ExtractEntries(data any) []any {
	root, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	result, ok := root["result"].(map[string]any)
	if !ok {
		return nil
	}
	content, ok := result["content"].([]any)
	if !ok {
		return nil
	}
	return content
}

// DecodeEntries converts raw content items into cost entries. Items that are not
// objects are dropped; missing or malformed numeric fields count as 0.
func DecodeEntries(items []any) []CostEntry {
	entries := make([]CostEntry, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entries = append(entries, CostEntry{
			MeteringDate:   toString(m["meteringDate"]),
			DomainID:       toString(m["domainId"]),
			DomainName:     toString(m["domainName"]),
			ProjectID:      toString(m["projectId"]),
			ProjectName:    toString(m["projectName"]),
			ServiceID:      toString(m["serviceId"]),
			ServiceName:    toString(m["serviceName"]),
			UsageTime:      toFloat(m["usageTime"]),
			UsageSize:      toFloat(m["usageSize"]),
			GeneralAmount:  toFloat(m["generalAmount"]),
			DiscountAmount: toFloat(m["discountAmount"]),
			ExpectAmount:   toFloat(m["expectAmount"]),
			PricingType:    toString(m["pricingType"]),
			Region:         toString(m["region"]),
		})
	}
	return entries
}

func toFloat(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}
