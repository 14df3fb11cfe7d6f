package blip

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// Tensor names used by the ONNX export of the model.
type TensorNames struct {
	PixelValues         string `mapstructure:"pixel_values"`
	VisionOutput        string `mapstructure:"vision_output"`
	InputIDs            string `mapstructure:"input_ids"`
	AttentionMask       string `mapstructure:"attention_mask"`
	EncoderHiddenStates string `mapstructure:"encoder_hidden_states"`
	Logits              string `mapstructure:"logits"`
}

var DefaultTensorNames = TensorNames{
	PixelValues:         "pixel_values",
	VisionOutput:        "last_hidden_state",
	InputIDs:            "input_ids",
	AttentionMask:       "attention_mask",
	EncoderHiddenStates: "encoder_hidden_states",
	Logits:              "logits",
}

type onnxModel struct {
	vision  *ort.DynamicAdvancedSession
	decoder *ort.DynamicAdvancedSession
}

var _ captionModel = &onnxModel{}

func newONNXModel(visionPath, decoderPath string, names TensorNames, threads int) (*onnxModel, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()
	if threads > 0 {
		if err := opts.SetIntraOpNumThreads(threads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	vision, err := ort.NewDynamicAdvancedSession(visionPath,
		[]string{names.PixelValues},
		[]string{names.VisionOutput},
		opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision session: %w", err)
	}

	decoder, err := ort.NewDynamicAdvancedSession(decoderPath,
		[]string{names.InputIDs, names.AttentionMask, names.EncoderHiddenStates},
		[]string{names.Logits},
		opts)
	if err != nil {
		vision.Destroy()
		return nil, fmt.Errorf("failed to create text decoder session: %w", err)
	}

	return &onnxModel{vision: vision, decoder: decoder}, nil
}

func (m *onnxModel) encode(pixels []float32) (encoding, error) {
	input, err := ort.NewTensor(ort.NewShape(1, 3, ImageSize, ImageSize), pixels)
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel tensor: %w", err)
	}
	defer input.Destroy()

	// A nil output is allocated by onnxruntime and owned by us afterwards.
	outputs := []ort.Value{nil}
	if err := m.vision.Run([]ort.Value{input}, outputs); err != nil {
		return nil, err
	}

	return &onnxEncoding{states: outputs[0], decoder: m.decoder}, nil
}

func (m *onnxModel) Close() error {
	return errors.Join(m.vision.Destroy(), m.decoder.Destroy())
}

type onnxEncoding struct {
	states  ort.Value
	decoder *ort.DynamicAdvancedSession
}

func (e *onnxEncoding) next(ids []int64) ([]float32, error) {
	shape := ort.NewShape(1, int64(len(ids)))
	idsT, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, err
	}
	defer idsT.Destroy()

	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, err
	}
	defer maskT.Destroy()

	outputs := []ort.Value{nil}
	if err := e.decoder.Run([]ort.Value{idsT, maskT, e.states}, outputs); err != nil {
		return nil, err
	}
	defer outputs[0].Destroy()

	logitsT, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected logits type %T", outputs[0])
	}
	// logits are [1, len(ids), vocab]; keep the last position only.
	s := logitsT.GetShape()
	if len(s) != 3 {
		return nil, fmt.Errorf("unexpected logits shape %v", s)
	}
	vocabSize := int(s[2])
	data := logitsT.GetData()
	last := make([]float32, vocabSize)
	copy(last, data[len(data)-vocabSize:])
	return last, nil
}

func (e *onnxEncoding) release() {
	e.states.Destroy()
}
