// Package tokenizer 负责 token 计数与文本切块。
package tokenizer

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Tokenizer 统计一段文本的 token 数。
type Tokenizer interface {
	Count(text string) int
}

type bpeTokenizer struct {
	enc *tiktoken.Tiktoken
}

func init() {
	// 使用内置词表，运行时不访问网络
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// NewBPE 根据编码名称（如 cl100k_base）创建 tokenizer。
func NewBPE(encoding string) (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("加载编码 %s 失败: %w", encoding, err)
	}
	return &bpeTokenizer{enc: enc}, nil
}

func (t *bpeTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// StripMarkup 去掉 HTML 标签并还原实体。
func StripMarkup(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, "")))
}

// SplitRaw 按字符数把原始文本切成若干段，用于提交审核前的预切分。
func SplitRaw(text string, n int) []string {
	if n <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	parts := make([]string, 0, len(runes)/n+1)
	for start := 0; start < len(runes); start += n {
		end := start + n
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}
