package badger

// Key prefixes for different data types
const (
	idempotencyPrefix = "idem"
)

// makeIdempotencyKey generates the storage key for an idempotency record.
// Format: prefix:key
func makeIdempotencyKey(key string) []byte {
	prefix := idempotencyPrefix + ":"
	buf := make([]byte, len(prefix)+len(key))
	offset := copy(buf, prefix)
	copy(buf[offset:], key)
	return buf
}
