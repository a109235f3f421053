package archive

const (
	DefaultBufferSize = 128 * 1024
)

type Options struct {
	Compression Compression

	// Size of the buffer used to copy file data into the archive.
	BufferSize int

	// Don't build a sidecar index.
	DisableIndex bool
}

func setDefaultIfZero[V comparable](v *V, defaultVal V) {
	var zeroVal V
	if *v == zeroVal {
		*v = defaultVal
	}
}

func (o *Options) setDefaults() {
	setDefaultIfZero(&o.BufferSize, DefaultBufferSize)
}
