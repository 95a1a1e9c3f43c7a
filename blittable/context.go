// Package blittable implements a self-describing binary document format that
// is read in place. Documents are written bottom-up by a Writer driven by a
// resumable Builder, and read through Document, Object and Array views
// without a deserialization pass.
package blittable

import (
	"bytes"
	"io"

	"github.com/bsm/blitstore/arena"
	"github.com/cockroachdb/errors"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"
)

// Options define context specific options.
type Options struct {
	// Arena options of the context allocator.
	Arena *arena.Options

	// ReadChunkSize is the chunk size used by ReadJSON.
	// Default: 4KiB.
	ReadChunkSize int

	// Logger receives debug output of the builder.
	// Default: no-op.
	Logger *zap.Logger
}

func (o *Options) norm() *Options {
	var oo Options
	if o != nil {
		oo = *o
	}

	if oo.ReadChunkSize < 1 {
		oo.ReadChunkSize = 4096
	}
	if oo.Logger == nil {
		oo.Logger = zap.NewNop()
	}
	return &oo
}

// Context owns the memory of the documents built or read with it. A context
// is used by one goroutine at a time.
type Context struct {
	o     *Options
	arena *arena.Arena
	props *PropertyCache
	pool  *ContextPool

	comparers map[string]*nameComparer
	lz4       *lz4.Compressor
	scratch   []byte
}

// NewContext creates a context with its own arena.
func NewContext(o *Options) *Context {
	o = o.norm()
	return newContext(o, arena.New(o.Arena))
}

func newContext(o *Options, a *arena.Arena) *Context {
	return &Context{
		o:         o,
		arena:     a,
		props:     NewPropertyCache(),
		comparers: make(map[string]*nameComparer),
	}
}

// Arena returns the context allocator.
func (c *Context) Arena() *arena.Arena { return c.arena }

// Properties returns the context-wide property name cache.
func (c *Context) Properties() *PropertyCache { return c.props }

// Reset releases all documents of the context and clears the property
// cache.
func (c *Context) Reset() {
	c.arena.ResetArena()
	c.props.Reset()
	if len(c.comparers) > maxComparers {
		c.comparers = make(map[string]*nameComparer)
	}
}

// Close releases the context. Pooled contexts are returned to their pool.
func (c *Context) Close() {
	if c.pool != nil {
		c.pool.put(c)
		return
	}
	c.arena.Close()
}

// NewWriter creates a document writer.
func (c *Context) NewWriter(mode UsageMode) *Writer {
	return newWriter(c, mode)
}

// NewBuilder creates a builder that pulls tokens from src.
func (c *Context) NewBuilder(mode UsageMode, src TokenSource) *Builder {
	return newBuilder(c, mode, src)
}

// ReadObject builds a document from a Go value. Supported roots are Object,
// map[string]interface{} and *Document.
func (c *Context) ReadObject(v interface{}, mode UsageMode) (*Document, error) {
	b := c.NewBuilder(mode, NewValueSource(v))
	defer b.Release()

	b.ReadObjectDocument()
	return b.run()
}

// ReadArray builds a document from a Go slice. The array is wrapped in an
// object under the "_" property.
func (c *Context) ReadArray(v []interface{}, mode UsageMode) (*Document, error) {
	b := c.NewBuilder(mode, NewValueSource(v))
	defer b.Release()

	b.ReadArrayDocument()
	return b.run()
}

// ParseJSON builds a document from JSON text. A root array is wrapped in an
// object under the "_" property.
func (c *Context) ParseJSON(data []byte, mode UsageMode) (*Document, error) {
	p := NewJSONParser()
	p.Write(data)
	p.Finish()

	b := c.NewBuilder(mode, p)
	defer b.Release()

	if isArrayText(data) {
		b.ReadArrayDocument()
	} else {
		b.ReadObjectDocument()
	}
	doc, err := b.run()
	if err != nil {
		return nil, err
	}
	if err := p.CheckEOF(); err != nil {
		doc.Release()
		return nil, err
	}
	return doc, nil
}

// ReadJSON builds a document from a JSON stream, feeding the parser in chunks.
func (c *Context) ReadJSON(r io.Reader, mode UsageMode) (*Document, error) {
	p := NewJSONParser()
	b := c.NewBuilder(mode, p)
	defer b.Release()

	chunk := make([]byte, c.o.ReadChunkSize)
	started := false
	for {
		done, err := b.Read()
		if err != nil {
			return nil, err
		}
		if done {
			return b.CreateDocument()
		}
		if p.finished {
			return nil, errors.Wrap(io.ErrUnexpectedEOF, "blittable: reading JSON")
		}

		n, err := r.Read(chunk)
		if n > 0 {
			if !started {
				if trimmed := bytes.TrimLeft(chunk[:n], jsonWhitespace); len(trimmed) != 0 {
					started = true
					if trimmed[0] == '[' {
						b.ReadArrayDocument()
					} else {
						b.ReadObjectDocument()
					}
				}
			}
			p.Write(chunk[:n])
		}
		if err == io.EOF {
			if !started {
				return nil, errors.Wrap(io.ErrUnexpectedEOF, "blittable: empty JSON input")
			}
			p.Finish()
		} else if err != nil {
			return nil, err
		}
	}
}

// ReadDocument opens a document stored in buf. The trailer is checked, the
// full structure is not; call Validate for untrusted input.
func (c *Context) ReadDocument(buf []byte) (*Document, error) {
	return newDocument(c, buf, nil)
}

func (c *Context) compressor() *lz4.Compressor {
	if c.lz4 == nil {
		c.lz4 = new(lz4.Compressor)
	}
	return c.lz4
}

func (c *Context) scratchBuf(n int) []byte {
	if cap(c.scratch) < n {
		c.scratch = make([]byte, n)
	}
	return c.scratch[:n]
}

const maxComparers = 4096

// nameComparer remembers where a property name was last found. Documents of
// the same shape keep names at the same index, so the hint usually hits.
type nameComparer struct {
	hint int
}

func (c *Context) comparer(name string) *nameComparer {
	if c == nil {
		return nil
	}
	cmp, ok := c.comparers[name]
	if !ok {
		if len(c.comparers) >= maxComparers {
			return nil
		}
		cmp = &nameComparer{hint: -1}
		c.comparers[name] = cmp
	}
	return cmp
}

const jsonWhitespace = " \t\r\n"

func isArrayText(data []byte) bool {
	data = bytes.TrimLeft(data, jsonWhitespace)
	return len(data) != 0 && data[0] == '['
}

// --------------------------------------------------------------------

// PropertyCache interns property names into small integer ids. Ids are
// stable until the cache is reset.
type PropertyCache struct {
	ids   map[string]int
	names []string
}

// NewPropertyCache creates an empty cache.
func NewPropertyCache() *PropertyCache {
	return &PropertyCache{ids: make(map[string]int)}
}

// ID returns the id of name, registering it when unseen.
func (p *PropertyCache) ID(name string) int {
	if id, ok := p.ids[name]; ok {
		return id
	}
	id := len(p.names)
	p.ids[name] = id
	p.names = append(p.names, name)
	return id
}

// Lookup returns the id of name without registering it.
func (p *PropertyCache) Lookup(name string) (int, bool) {
	id, ok := p.ids[name]
	return id, ok
}

// Name returns the name registered for id.
func (p *PropertyCache) Name(id int) string { return p.names[id] }

// Len returns the number of registered names.
func (p *PropertyCache) Len() int { return len(p.names) }

// Reset drops all names, keeping allocated slots for reuse.
func (p *PropertyCache) Reset() {
	clear(p.ids)
	p.names = p.names[:0]
}

// --------------------------------------------------------------------

// ContextPool hands out contexts backed by pooled arenas.
type ContextPool struct {
	o      *Options
	arenas *arena.Pool
	free   chan *Context
}

// NewContextPool creates a pool that retains up to size idle contexts.
func NewContextPool(o *Options, size int) *ContextPool {
	o = o.norm()
	if size < 1 {
		size = 1
	}
	return &ContextPool{
		o:      o,
		arenas: arena.NewPool(o.Arena),
		free:   make(chan *Context, size),
	}
}

// Get returns a context. Close it to give it back.
func (p *ContextPool) Get() *Context {
	select {
	case c := <-p.free:
		return c
	default:
	}
	c := newContext(p.o, p.arenas.Get())
	c.pool = p
	return c
}

func (p *ContextPool) put(c *Context) {
	c.Reset()
	select {
	case p.free <- c:
	default:
		c.pool = nil
		p.arenas.Put(c.arena)
	}
}
