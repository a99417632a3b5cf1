//go:build !linux

package zerocopy

// platformCopy on non-Linux platforms always uses the portable io.Copy
// pump; unix.Splice is Linux-specific.
func platformCopy(_ Primitive, src, dst Endpoint) (int64, error) {
	return fallbackCopy(src, dst)
}
