package pluginhost

// Codec converts one framework's envelope payload into another's. Registered
// per framework name; conversion runs only on the Forward path, so the
// router never knows about framework-specific wire formats.
type Codec interface {
	Convert(source Envelope) (Envelope, error)
}

// CodecFunc adapts a plain function to the Codec interface.
type CodecFunc func(source Envelope) (Envelope, error)

func (f CodecFunc) Convert(source Envelope) (Envelope, error) { return f(source) }

// CodecRegistry maps a target framework name to the Codec that converts an
// incoming envelope for it.
type CodecRegistry struct {
	codecs map[string]Codec
}

func NewCodecRegistry() *CodecRegistry {
	return &CodecRegistry{codecs: make(map[string]Codec)}
}

// Register wires a codec for the given target framework name.
func (r *CodecRegistry) Register(framework string, codec Codec) {
	r.codecs[framework] = codec
}

func (r *CodecRegistry) lookup(framework string) (Codec, bool) {
	c, ok := r.codecs[framework]
	return c, ok
}

// IdentityCodec passes the envelope through unchanged; the default for
// adapters sharing a wire format.
var IdentityCodec Codec = CodecFunc(func(source Envelope) (Envelope, error) { return source, nil })
