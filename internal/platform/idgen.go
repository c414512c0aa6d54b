package platform

import "github.com/google/uuid"

// IdProvider issues opaque unique job identifiers.
type IdProvider interface {
	NewID() string
}

// UUIDProvider is the production IdProvider.
type UUIDProvider struct{}

func (UUIDProvider) NewID() string {
	return uuid.NewString()
}

// SequentialProvider is a deterministic test double: each call returns
// "<prefix>-<n>" (prefix "test-job" when none is given) with an
// incrementing counter, so seed tests can assert on
// exact ids and on the jitter the retry policy derives from them.
type SequentialProvider struct {
	prefix string
	next   int
}

func NewSequentialProvider(prefix string) *SequentialProvider {
	if prefix == "" {
		prefix = "test-job"
	}
	return &SequentialProvider{prefix: prefix}
}

func (p *SequentialProvider) NewID() string {
	p.next++
	return idFormat(p.prefix, p.next)
}

func idFormat(prefix string, n int) string {
	const digits = "0123456789"
	if n == 0 {
		return prefix + "-0"
	}
	buf := make([]byte, 0, 8)
	for n > 0 {
		buf = append([]byte{digits[n%10]}, buf...)
		n /= 10
	}
	return prefix + "-" + string(buf)
}
