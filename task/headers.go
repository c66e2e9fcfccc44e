package task

import "github.com/vkorna/kstreams/kafka"

// headersToMap converts the wire header list into the map form record.Metadata
// carries through the DSL. A duplicate key keeps its last occurrence.
func headersToMap(headers []kafka.Header) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	m := make(map[string][]byte, len(headers))
	for _, h := range headers {
		m[h.Key] = h.Value
	}
	return m
}

// mapToHeaders converts record.Metadata's header map back into the ordered
// wire form kafka.Producer.Send expects. Order is not significant to any
// consumer of this list.
func mapToHeaders(headers map[string][]byte) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		out = append(out, kafka.Header{Key: k, Value: v})
	}
	return out
}
