// Package pubsub carries record change events over Google Cloud Pub/Sub.
// Trace context travels in message attributes.
package pubsub

// attributeCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
