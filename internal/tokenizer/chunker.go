package tokenizer

import "strings"

const sentenceSep = ". "

// Chunk 是一段待入库的文本块。
type Chunk struct {
	Title      string
	Body       string
	TokenCount int
}

// Chunker 按 token 上限把文档切成块，结果只取决于输入。
type Chunker struct {
	tok   Tokenizer
	limit int
}

// NewChunker 创建切块器，limit 为每块 title+body 的最大 token 数。
func NewChunker(tok Tokenizer, limit int) *Chunker {
	return &Chunker{tok: tok, limit: limit}
}

func (c *Chunker) count(title, body string) int {
	return c.tok.Count(title + " " + body)
}

// Chunk 切分一篇文档。整篇不超过上限时只产生一块；否则按句子贪心合并，
// 单句超过上限会被丢弃而不是截断。
func (c *Chunker) Chunk(title, body string) []Chunk {
	body = StripMarkup(body)
	if body == "" {
		return nil
	}
	if n := c.count(title, body); n <= c.limit {
		return []Chunk{{Title: title, Body: body, TokenCount: n}}
	}

	var (
		chunks  []Chunk
		current []string
		size    int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Title: title, Body: joinUnits(current), TokenCount: size})
		current = nil
		size = 0
	}

	for _, unit := range strings.Split(body, sentenceSep) {
		unit = strings.TrimSpace(unit)
		if unit == "" {
			continue
		}
		candidate := append(append([]string(nil), current...), unit)
		if n := c.count(title, joinUnits(candidate)); n <= c.limit {
			current = candidate
			size = n
			continue
		}
		flush()
		if n := c.count(title, joinUnits([]string{unit})); n <= c.limit {
			current = []string{unit}
			size = n
		}
	}
	flush()
	return chunks
}

func joinUnits(units []string) string {
	s := strings.Join(units, sentenceSep)
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}
