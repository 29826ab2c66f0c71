package errs

// Constructors for the fixed error taxonomy. Each returns a fresh StoreError
// so callers may enrich it without aliasing.

// AlreadyClosing reports that an operation was invoked on a volume after its
// closing flag was set. Lifecycle, permanent.
func AlreadyClosing(volume string) *StoreError {
	return New(CategoryLifecycle, CodeAlreadyClosing, "volume is closing or closed").
		WithDetail("volume %q", volume)
}

// IllegalState reports a call made in the wrong lifecycle state, such as a
// double open or a conflicting one-shot assignment. Lifecycle, permanent.
func IllegalState(format string, args ...any) *StoreError {
	return New(CategoryLifecycle, CodeIllegalState, "illegal state").
		WithDetail(format, args...)
}

// ReadOnly reports an attempted mutation of a read-only volume. Policy,
// caller-correctable.
func ReadOnly(volume string) *StoreError {
	return New(CategoryPolicy, CodeReadOnly, "volume is read-only").
		WithDetail("volume %q", volume)
}

// TruncateNotAllowed reports a truncate of a volume whose content is not
// reproducible (neither temporary nor opened with create semantics).
func TruncateNotAllowed(volume string) *StoreError {
	return New(CategoryPolicy, CodeTruncateNotAllowed,
		"volume content is not reproducible and may not be truncated").
		WithDetail("volume %q", volume)
}

// VolumeExists reports a create-only open of a path that already has a
// backing store.
func VolumeExists(path string) *StoreError {
	return New(CategoryPolicy, CodeVolumeExists, "backing store already exists").
		WithDetail("path %q", path)
}

// VolumeNotFound reports an open without the create flag of a path that has
// no backing store.
func VolumeNotFound(path string) *StoreError {
	return New(CategoryPolicy, CodeVolumeNotFound, "backing store does not exist").
		WithDetail("path %q", path)
}

// TreeNotFound reports a tree lookup with createIfMissing=false for a name
// the volume does not contain.
func TreeNotFound(name string) *StoreError {
	return New(CategoryPolicy, CodeTreeNotFound, "no such tree").
		WithDetail("tree %q", name)
}

// WrongVolume reports an identity mismatch between the expected and actual
// volume identifier. Identity, permanent.
func WrongVolume(format string, args ...any) *StoreError {
	return New(CategoryIdentity, CodeWrongVolume, "volume identity mismatch").
		WithDetail(format, args...)
}

// NoAvailableBuffer reports that every buffer slot in the shared cache is
// currently claimed. Contention, transient: back off and retry.
func NoAvailableBuffer(detail string) *StoreError {
	return New(CategoryContention, CodeNoAvailableBuffer,
		"every buffer slot is claimed").
		WithDetail("%s", detail)
}

// Predicates for handling decisions.

// IsAlreadyClosing reports whether err carries CodeAlreadyClosing.
func IsAlreadyClosing(err error) bool { return CodeOf(err) == CodeAlreadyClosing }

// IsIllegalState reports whether err carries CodeIllegalState.
func IsIllegalState(err error) bool { return CodeOf(err) == CodeIllegalState }

// IsReadOnly reports whether err carries CodeReadOnly.
func IsReadOnly(err error) bool { return CodeOf(err) == CodeReadOnly }

// IsTruncateNotAllowed reports whether err carries CodeTruncateNotAllowed.
func IsTruncateNotAllowed(err error) bool { return CodeOf(err) == CodeTruncateNotAllowed }

// IsVolumeExists reports whether err carries CodeVolumeExists.
func IsVolumeExists(err error) bool { return CodeOf(err) == CodeVolumeExists }

// IsVolumeNotFound reports whether err carries CodeVolumeNotFound.
func IsVolumeNotFound(err error) bool { return CodeOf(err) == CodeVolumeNotFound }

// IsTreeNotFound reports whether err carries CodeTreeNotFound.
func IsTreeNotFound(err error) bool { return CodeOf(err) == CodeTreeNotFound }

// IsWrongVolume reports whether err carries CodeWrongVolume.
func IsWrongVolume(err error) bool { return CodeOf(err) == CodeWrongVolume }

// IsNoAvailableBuffer reports whether err carries CodeNoAvailableBuffer.
func IsNoAvailableBuffer(err error) bool { return CodeOf(err) == CodeNoAvailableBuffer }
