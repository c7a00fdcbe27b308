package encoding

import "time"

// Decorator wraps the chain composed so far and returns the new outer layer.
type Decorator func(inner Layer) (Layer, error)

// Builder accumulates decorators and applies them in registration order on Build.
// A builder is single use.
type Builder struct {
	decorators []Decorator
	built      bool
}

func NewBuilder() *Builder {
	return &Builder{}
}

// AddDecorate registers a custom decorator.
func (b *Builder) AddDecorate(d Decorator) *Builder {
	b.decorators = append(b.decorators, d)
	return b
}

func (b *Builder) WithHeader(magic []byte) *Builder {
	return b.AddDecorate(func(inner Layer) (Layer, error) {
		return NewHeader(inner, magic)
	})
}

func (b *Builder) WithFunction(id byte, paramSize int, factory func() ParamPacket) *Builder {
	return b.AddDecorate(func(inner Layer) (Layer, error) {
		return NewFunction(inner, id, paramSize, factory)
	})
}

func (b *Builder) WithProperty(size int) *Builder {
	return b.AddDecorate(func(inner Layer) (Layer, error) {
		return NewProperty(inner, size)
	})
}

func (b *Builder) WithUnixTimeEpoch(mode TimestampMode) *Builder {
	return b.AddDecorate(func(inner Layer) (Layer, error) {
		return NewTimestamp(inner, mode, time.Now), nil
	})
}

func (b *Builder) WithAncestor(discriminator byte, factory func() Packet) *Builder {
	return b.AddDecorate(func(inner Layer) (Layer, error) {
		return NewAncestor(inner, discriminator, factory)
	})
}

// WithDescendant dispatches between already built sub-chains.
func (b *Builder) WithDescendant(subs ...Layer) *Builder {
	return b.AddDecorate(func(inner Layer) (Layer, error) {
		return NewDescendant(inner, subs...)
	})
}

// WithDescendantBuilders builds each sub-builder when the outer chain is built.
func (b *Builder) WithDescendantBuilders(builders ...*Builder) *Builder {
	return b.AddDecorate(func(inner Layer) (Layer, error) {
		subs := make([]Layer, 0, len(builders))
		for _, sb := range builders {
			sub, err := sb.Build()
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		return NewDescendant(inner, subs...)
	})
}

// Build composes the chain over the base layer.
func (b *Builder) Build() (Layer, error) {
	if b.built {
		return nil, ErrBuilderConsumed
	}
	b.built = true
	layer := Base()
	for _, d := range b.decorators {
		next, err := d(layer)
		if err != nil {
			return nil, err
		}
		layer = next
	}
	b.decorators = nil
	return layer, nil
}

// MustBuild is Build for package-level codecs whose shape is fixed at compile time.
func (b *Builder) MustBuild() Layer {
	l, err := b.Build()
	if err != nil {
		panic(err)
	}
	return l
}
