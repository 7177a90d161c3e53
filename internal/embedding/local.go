package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/config"
	apperrors "github.com/aihub/vector-index-go/internal/errors"
	"github.com/aihub/vector-index-go/internal/logger"
	"github.com/aihub/vector-index-go/internal/tokenizer"
)

const modelFile = "model.onnx"

// 第三个模型输入的填充方式
const (
	thirdInputZeros    = "zeros"
	thirdInputPosition = "position"
)

// LocalProvider 基于本地ONNX推理会话的向量化实现
// 会话不支持并发调用，所有推理经过单通道门串行执行
type LocalProvider struct {
	session     *ort.DynamicAdvancedSession
	tk          *tokenizer.Tokenizer
	dims        int
	inputNames  []string
	thirdMode   string
	outputNames []string
	quantScale  float64
	quantZero   float64

	// 单通道门，FIFO语义，等待者可被context取消
	gate chan struct{}
}

// NewLocalProvider 从模型目录创建本地Provider并初始化推理会话
func NewLocalProvider(cfg *config.Config, tk *tokenizer.Tokenizer) (*LocalProvider, error) {
	ecfg := cfg.Embedding

	modelPath := filepath.Join(ecfg.ModelDir, modelFile)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidModel, "模型文件缺失: %s", modelPath).WithCause(err)
	}

	if ecfg.OnnxLibraryPath != "" {
		ort.SetSharedLibraryPath(ecfg.OnnxLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("初始化ONNX运行时失败: %w", err)
		}
	}

	if len(ecfg.InputBindings) != 3 {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidModel,
			"embedding.inputBindings 需要3个输入名，实际 %d 个", len(ecfg.InputBindings))
	}

	_, outputInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidModel, "读取模型输入输出签名失败").WithCause(err)
	}
	outputNames := make([]string, len(outputInfo))
	for i, info := range outputInfo {
		outputNames[i] = info.Name
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("创建会话选项失败: %w", err)
	}
	defer opts.Destroy()
	if ecfg.LLMThreads > 0 {
		if err := opts.SetIntraOpNumThreads(ecfg.LLMThreads); err != nil {
			return nil, fmt.Errorf("设置推理线程数失败: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, ecfg.InputBindings, outputNames, opts)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidModel, "创建推理会话失败: %s", modelPath).WithCause(err)
	}

	logger.Info("本地向量化会话就绪",
		zap.String("model", modelPath),
		zap.Int("dims", ecfg.VecDim),
		zap.Strings("inputs", ecfg.InputBindings),
		zap.Int("threads", ecfg.LLMThreads))

	return &LocalProvider{
		session:     session,
		tk:          tk,
		dims:        ecfg.VecDim,
		inputNames:  ecfg.InputBindings,
		thirdMode:   ecfg.ThirdInputMode,
		outputNames: outputNames,
		quantScale:  ecfg.QuantScale,
		quantZero:   ecfg.QuantZeroPoint,
		gate:        make(chan struct{}, 1),
	}, nil
}

// Embed 单条文本向量化
func (p *LocalProvider) Embed(ctx context.Context, text string, padToTokens int, pad bool) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text}, padToTokens, pad)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch 批量向量化，构建 [B, L] 张量单次推理
func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string, padToTokens int, pad bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	encodings, seqLen, err := p.encodeBatch(texts, padToTokens, pad)
	if err != nil {
		return nil, err
	}

	select {
	case p.gate <- struct{}{}:
		defer func() { <-p.gate }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return p.run(encodings, seqLen)
}

// encodeBatch 统一批内序列长度：填充模式用padToTokens，非填充模式用批内最大自然长度
func (p *LocalProvider) encodeBatch(texts []string, padToTokens int, pad bool) ([]*tokenizer.Encoding, int, error) {
	encodings := make([]*tokenizer.Encoding, len(texts))

	if pad {
		for i, text := range texts {
			enc, err := p.tk.Tokenize(text, padToTokens)
			if err != nil {
				return nil, 0, err
			}
			encodings[i] = enc
		}
		return encodings, padToTokens, nil
	}

	maxLen := 0
	for i, text := range texts {
		enc, err := p.tk.TokenizeNoPad(text)
		if err != nil {
			return nil, 0, err
		}
		encodings[i] = enc
		if enc.Len() > maxLen {
			maxLen = enc.Len()
		}
	}
	if len(texts) > 1 {
		// 批内对齐到最大长度，真实token数由attention mask表达
		for i, text := range texts {
			if encodings[i].Len() == maxLen {
				continue
			}
			enc, err := p.tk.Tokenize(text, maxLen)
			if err != nil {
				return nil, 0, err
			}
			encodings[i] = enc
		}
	}
	return encodings, maxLen, nil
}

func (p *LocalProvider) run(encodings []*tokenizer.Encoding, seqLen int) ([][]float32, error) {
	batch := len(encodings)
	ids := make([]int64, 0, batch*seqLen)
	masks := make([]int64, 0, batch*seqLen)
	third := make([]int64, 0, batch*seqLen)

	for _, enc := range encodings {
		ids = append(ids, enc.InputIDs...)
		masks = append(masks, enc.AttentionMask...)
		switch p.thirdMode {
		case thirdInputPosition:
			for i := 0; i < seqLen; i++ {
				third = append(third, int64(i))
			}
		default:
			third = append(third, enc.TokenTypeIDs...)
		}
	}

	shape := ort.NewShape(int64(batch), int64(seqLen))
	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("构建input_ids张量失败: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, masks)
	if err != nil {
		return nil, fmt.Errorf("构建attention_mask张量失败: %w", err)
	}
	defer maskTensor.Destroy()

	thirdTensor, err := ort.NewTensor(shape, third)
	if err != nil {
		return nil, fmt.Errorf("构建%s张量失败: %w", p.inputNames[2], err)
	}
	defer thirdTensor.Destroy()

	outputs := make([]ort.Value, len(p.outputNames))
	if err := p.session.Run([]ort.Value{idsTensor, maskTensor, thirdTensor}, outputs); err != nil {
		return nil, fmt.Errorf("推理失败: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	hidden, outShape, err := p.selectHiddenState(outputs)
	if err != nil {
		return nil, err
	}
	if len(outShape) != 3 {
		return nil, apperrors.Newf(apperrors.ErrCodeUnsupportedOutput, "隐藏状态秩异常: %v", outShape)
	}

	dim := int(outShape[2])
	pooled := meanPool(hidden, masks, batch, int(outShape[1]), dim)
	if dim != p.dims {
		return nil, apperrors.Newf(apperrors.ErrCodeUnsupportedOutput,
			"模型输出维度 %d 与配置维度 %d 不一致", dim, p.dims)
	}
	return pooled, nil
}

// selectHiddenState 按f32、f16、u8的优先级选择第一个可用输出
func (p *LocalProvider) selectHiddenState(outputs []ort.Value) ([]float32, []int64, error) {
	for _, out := range outputs {
		if t, ok := out.(*ort.Tensor[float32]); ok {
			return t.GetData(), t.GetShape(), nil
		}
	}
	for _, out := range outputs {
		// f16输出由运行时以原始字节承载
		if t, ok := out.(*ort.CustomDataTensor); ok {
			shape := t.GetShape()
			if int64(len(t.GetData())) == elementCount(shape)*2 {
				return widenFloat16(t.GetData()), shape, nil
			}
		}
	}
	for _, out := range outputs {
		if t, ok := out.(*ort.Tensor[uint8]); ok {
			if p.quantScale == 0 {
				return nil, nil, apperrors.New(apperrors.ErrCodeUnsupportedOutput,
					"u8输出需要配置 embedding.quant.scale / zeroPoint")
			}
			return dequantizeUint8(t.GetData(), p.quantScale, p.quantZero), t.GetShape(), nil
		}
	}
	return nil, nil, apperrors.New(apperrors.ErrCodeUnsupportedOutput, "模型输出类型不在 f32/f16/u8 之内")
}

func elementCount(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// Dimensions 向量维度
func (p *LocalProvider) Dimensions() int {
	return p.dims
}

// Ready 就绪状态
func (p *LocalProvider) Ready() bool {
	return p.session != nil
}

// Close 销毁推理会话
func (p *LocalProvider) Close() error {
	if p.session != nil {
		p.session.Destroy()
		p.session = nil
	}
	return nil
}
