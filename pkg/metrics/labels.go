package metrics

// normalizeLabel keeps empty label values from producing blank series.
func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
