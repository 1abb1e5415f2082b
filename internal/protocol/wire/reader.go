package wire

import (
	"errors"
	"strconv"

	"github.com/danmuck/wlproto/internal/protocol"
	"github.com/danmuck/wlproto/internal/protocol/schema"
)

var errEmbeddedNUL = errors.New("wire: string contains NUL byte")

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) overrun(arg string, need int) error {
	return &protocol.MalformedMessageError{
		Size:      len(r.buf),
		Available: r.remaining(),
		Reason:    "argument " + arg + " needs " + itoa(need) + " bytes",
	}
}

func (r *reader) uint32(arg string) (uint32, error) {
	if r.remaining() < 4 {
		return 0, r.overrun(arg, 4)
	}
	v := byteOrder.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

// chunk reads a length-prefixed, padded byte run.
func (r *reader) chunk(arg string) ([]byte, int, error) {
	n, err := r.uint32(arg)
	if err != nil {
		return nil, 0, err
	}
	if uint64(n) > uint64(r.remaining()) {
		return nil, 0, r.overrun(arg, int(n))
	}
	total := int(n) + padding(int(n))
	if total > r.remaining() {
		return nil, 0, r.overrun(arg, total)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+int(n)])
	r.off += total
	return out, int(n), nil
}

func (r *reader) string(arg string) (string, error) {
	b, n, err := r.chunk(arg)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if b[n-1] != 0 {
		return "", &protocol.MalformedMessageError{
			Size:      len(r.buf),
			Available: r.remaining(),
			Reason:    "string argument " + arg + " is not NUL-terminated",
		}
	}
	return string(b[:n-1]), nil
}

func (r *reader) array(arg string) ([]byte, error) {
	b, _, err := r.chunk(arg)
	return b, err
}

func (r *reader) newID(arg schema.Arg) (Value, error) {
	if !arg.Dynamic() {
		id, err := r.uint32(arg.Name)
		if err != nil {
			return Value{}, err
		}
		return NewID(id), nil
	}
	iface, err := r.string(arg.Name)
	if err != nil {
		return Value{}, err
	}
	version, err := r.uint32(arg.Name)
	if err != nil {
		return Value{}, err
	}
	id, err := r.uint32(arg.Name)
	if err != nil {
		return Value{}, err
	}
	return DynamicNewID(iface, version, id), nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
