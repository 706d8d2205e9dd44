package framer

import (
	"bufio"
	"io"
	"strings"

	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

// Framer 抽象了基于文本行的打包/解包能力。
//
// 约定：
//   - 一帧数据即一行 UTF-8 文本，以 '\n' 结尾；
//   - 读取时去掉行尾的 "\n" 与 "\r"，写出时统一补一个 '\n'。
type Framer interface {
	// WriteFrame 将一行文本写入到 w 中。
	WriteFrame(w io.Writer, line string) error

	// ReadFrame 从 r 中读取一行文本。
	ReadFrame(r *bufio.Reader) (string, error)
}

// LineFramer 使用换行符作为帧边界。
type LineFramer struct {
	// MaxLineBytes 为允许的最大行长度（不含行尾），单位字节。
	// 为 0 时使用默认值 DefaultMaxLineBytes。
	MaxLineBytes int
}

// DefaultMaxLineBytes 为单行文本的默认长度上限。
const DefaultMaxLineBytes = 64 * 1024

var _ Framer = (*LineFramer)(nil)

var sanitizer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// NewLineFramer 创建一个按行分帧的编码器。
// maxLineBytes 为 0 时使用默认值。
func NewLineFramer(maxLineBytes int) *LineFramer {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	return &LineFramer{MaxLineBytes: maxLineBytes}
}

func (f *LineFramer) limit() int {
	if f.MaxLineBytes <= 0 {
		return DefaultMaxLineBytes
	}
	return f.MaxLineBytes
}

// Sanitize 将文本中的换行符替换为空格，保证写出后仍为单行。
func Sanitize(line string) string {
	return sanitizer.Replace(line)
}

// WriteFrame 实现 Framer.WriteFrame。
func (f *LineFramer) WriteFrame(w io.Writer, line string) error {
	_, err := io.WriteString(w, Sanitize(line)+"\n")
	return err
}

// ReadFrame 实现 Framer.ReadFrame。
//
// 行为：
//   - 行长度超过上限时返回 merr.ErrLineTooLong，已读入的部分被丢弃；
//   - 对端关闭前未以换行结尾的最后一行会被正常返回，下一次调用返回 io.EOF。
func (f *LineFramer) ReadFrame(r *bufio.Reader) (string, error) {
	limit := f.limit()
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)

		switch {
		case err == bufio.ErrBufferFull:
			// 预留 "\r\n" 的两个字节。
			if len(buf) > limit+2 {
				return "", merr.WrapErrLineTooLong(limit)
			}
			continue
		case err == io.EOF:
			if len(buf) == 0 {
				return "", io.EOF
			}
		case err != nil:
			return "", err
		}

		line := trimEOL(buf)
		if len(line) > limit {
			return "", merr.WrapErrLineTooLong(limit)
		}
		return string(line), nil
	}
}

func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}
