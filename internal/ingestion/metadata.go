package ingestion

// volatileKeys lists metadata fields that are non-deterministic across
// fetches of the same document (page descriptions, fetch timestamps, ETags).
// They are stripped before indexing so re-ingesting an unchanged URL produces
// identical chunks.
var volatileKeys = map[string]bool{
	"description":   true,
	"fetched_at":    true,
	"etag":          true,
	"last_modified": true,
}

// StripVolatile returns metadata with all volatile fields removed. The input
// map is not mutated; a nil input yields an empty map so callers can always
// range over the result.
func StripVolatile(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if volatileKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}
