package hardware

import (
	"strings"
	"unicode/utf8"

	"github.com/wfunc/serial-scope/internal/errors"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// TextDecoder 将串口字节流解码为UTF-8文本。
// 读取边界上不完整的多字节序列保留到下一次解码
type TextDecoder struct {
	name    string
	t       transform.Transformer
	pending []byte
}

// NewTextDecoder 按WHATWG编码名称（utf-8、gbk、latin1等）创建解码器
func NewTextDecoder(name string) (*TextDecoder, error) {
	if name == "" {
		name = "utf-8"
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrUnknownEncoding, "编码: %s", name)
	}

	return &TextDecoder{
		name: name,
		t:    enc.NewDecoder(),
	}, nil
}

// Name 返回编码名称
func (d *TextDecoder) Name() string {
	return d.name
}

// Decode 解码一段字节，无法识别的字节替换为 U+FFFD
func (d *TextDecoder) Decode(p []byte) string {
	src := p
	if len(d.pending) > 0 {
		src = append(d.pending, p...)
		d.pending = nil
	}
	if len(src) == 0 {
		return ""
	}

	var out strings.Builder
	dst := make([]byte, 4*len(src)+utf8.UTFMax)

	for len(src) > 0 {
		nDst, nSrc, err := d.t.Transform(dst, src, false)
		out.Write(dst[:nDst])
		src = src[nSrc:]

		switch err {
		case nil:
		case transform.ErrShortDst:
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
			}
		case transform.ErrShortSrc:
			d.pending = append([]byte(nil), src...)
			return out.String()
		default:
			out.WriteRune(utf8.RuneError)
			src = src[1:]
		}
	}

	return out.String()
}

// Pending 返回等待后续字节的未完成序列长度
func (d *TextDecoder) Pending() int {
	return len(d.pending)
}

// Reset 丢弃未完成的序列
func (d *TextDecoder) Reset() {
	d.t.Reset()
	d.pending = nil
}
