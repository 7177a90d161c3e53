package tokenizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	hf "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	apperrors "github.com/aihub/vector-index-go/internal/errors"
)

const (
	manifestFile = "tokenizer.json"
	configFile   = "tokenizer_config.json"
	vocabJSON    = "vocab.json"
	vocabTxt     = "vocab.txt"
)

// Encoding 一次分词的三路输出，三个序列长度一致
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// Len 序列长度
func (e *Encoding) Len() int {
	return len(e.InputIDs)
}

// Tokenizer 封装fast-tokenizer运行时，负责编码、填充与计数
type Tokenizer struct {
	tk       *hf.Tokenizer
	padToken string
	padID    int64
	maxLen   int
}

type tokenizerConfig struct {
	PadToken       json.RawMessage `json:"pad_token"`
	ModelMaxLength float64         `json:"model_max_length"`
}

// NewTokenizer 从模型目录加载分词器
// 目录需包含 tokenizer.json、tokenizer_config.json 以及 vocab.json 或 vocab.txt
func NewTokenizer(modelDir string) (*Tokenizer, error) {
	manifestPath := filepath.Join(modelDir, manifestFile)
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidModel, "分词器清单缺失: %s", manifestPath).WithCause(err)
	}

	tk, err := pretrained.FromFile(manifestPath)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidModel, "加载分词器失败: %s", manifestPath).WithCause(err)
	}

	cfg, err := loadTokenizerConfig(filepath.Join(modelDir, configFile))
	if err != nil {
		return nil, err
	}

	vocab, err := loadVocab(modelDir)
	if err != nil {
		return nil, err
	}

	padID, ok := vocab[cfg.padToken]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidModel, "词表中不存在填充符号: %q", cfg.padToken)
	}

	return &Tokenizer{
		tk:       tk,
		padToken: cfg.padToken,
		padID:    padID,
		maxLen:   cfg.maxLen,
	}, nil
}

type parsedConfig struct {
	padToken string
	maxLen   int
}

// loadTokenizerConfig 解析tokenizer_config.json
// pad_token 可能是纯字符串，也可能是 {content: "..."} 形式
func loadTokenizerConfig(path string) (*parsedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidModel, "分词器配置缺失: %s", path).WithCause(err)
	}

	var raw tokenizerConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidModel, "分词器配置解析失败: %s", path).WithCause(err)
	}

	padToken, err := parsePadToken(raw.PadToken)
	if err != nil {
		return nil, err
	}

	return &parsedConfig{
		padToken: padToken,
		maxLen:   int(raw.ModelMaxLength),
	}, nil
}

func parsePadToken(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", apperrors.New(apperrors.ErrCodeInvalidModel, "分词器配置未声明pad_token")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Content != "" {
		return obj.Content, nil
	}

	return "", apperrors.New(apperrors.ErrCodeInvalidModel, "pad_token 格式无法识别")
}

// loadVocab 加载词表，优先 vocab.json，回退 vocab.txt（按行号编号）
func loadVocab(modelDir string) (map[string]int64, error) {
	jsonPath := filepath.Join(modelDir, vocabJSON)
	if data, err := os.ReadFile(jsonPath); err == nil {
		var m map[string]int64
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, apperrors.Newf(apperrors.ErrCodeInvalidModel, "词表解析失败: %s", jsonPath).WithCause(err)
		}
		return m, nil
	}

	txtPath := filepath.Join(modelDir, vocabTxt)
	f, err := os.Open(txtPath)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidModel, "词表缺失: 需要 %s 或 %s", vocabJSON, vocabTxt).WithCause(err)
	}
	defer f.Close()

	m := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var line int64
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r\n")
		m[token] = line
		line++
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidModel, "词表读取失败: %s", txtPath).WithCause(err)
	}
	return m, nil
}

// Encode 编码文本，返回自然长度的token id序列，不做填充
func (t *Tokenizer) Encode(text string) ([]int64, error) {
	en, err := t.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("编码失败: %w", err)
	}
	ids := make([]int64, len(en.Ids))
	for i, id := range en.Ids {
		ids[i] = int64(id)
	}
	return ids, nil
}

// Tokenize 填充模式分词：截断到length后用pad_id补齐尾部
func (t *Tokenizer) Tokenize(text string, length int) (*Encoding, error) {
	ids, err := t.Encode(text)
	if err != nil {
		return nil, err
	}
	return padEncoding(ids, length, t.padID), nil
}

// TokenizeNoPad 非填充模式分词，长度等于自然token数
func (t *Tokenizer) TokenizeNoPad(text string) (*Encoding, error) {
	ids, err := t.Encode(text)
	if err != nil {
		return nil, err
	}

	enc := &Encoding{
		InputIDs:      ids,
		AttentionMask: make([]int64, len(ids)),
		TokenTypeIDs:  make([]int64, len(ids)),
	}
	for i := range enc.AttentionMask {
		enc.AttentionMask[i] = 1
	}
	return enc, nil
}

// Count 返回文本的自然token数，不分配下游张量
func (t *Tokenizer) Count(text string) (int, error) {
	ids, err := t.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Decode 将token id序列还原为文本，远端截断重发依赖该逆映射
func (t *Tokenizer) Decode(ids []int64) string {
	raw := make([]int, len(ids))
	for i, id := range ids {
		raw[i] = int(id)
	}
	return t.tk.Decode(raw, true)
}

// PadID 填充符号的词表id
func (t *Tokenizer) PadID() int64 {
	return t.padID
}

// padEncoding 截断到length并补齐，attention_mask对填充位取0
func padEncoding(ids []int64, length int, padID int64) *Encoding {
	enc := &Encoding{
		InputIDs:      make([]int64, length),
		AttentionMask: make([]int64, length),
		TokenTypeIDs:  make([]int64, length),
	}

	n := len(ids)
	if n > length {
		n = length
	}
	for i := 0; i < n; i++ {
		enc.InputIDs[i] = ids[i]
		enc.AttentionMask[i] = 1
	}
	for i := n; i < length; i++ {
		enc.InputIDs[i] = padID
	}
	return enc
}
