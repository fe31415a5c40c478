package classifier

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/yalue/onnxruntime_go"

	"github.com/MeKo-Tech/facecls/internal/mempool"
	"github.com/MeKo-Tech/facecls/internal/onnx"
)

// ErrUnsupportedModel is returned for ONNX graphs whose inputs or outputs
// cannot be mapped onto the Model contract.
var ErrUnsupportedModel = errors.New("unsupported classifier model")

// ONNXConfig describes how to open an exported classifier.
type ONNXConfig struct {
	ModelPath string
	// InputName, LabelOutput and ProbabilityOutput select graph nodes by
	// name. Empty values are inferred from the graph.
	InputName         string
	LabelOutput       string
	ProbabilityOutput string
	// InputSize is used when the graph leaves the feature dimension dynamic.
	InputSize int
	// Classes lists the class index of each probability column. It is
	// required when the graph has no label output.
	Classes []int
	Runtime onnx.RuntimeConfig
}

// ONNXModel runs a classifier exported to ONNX (for scikit-learn models,
// skl2onnx with ZipMap disabled). Sessions support concurrent runs.
type ONNXModel struct {
	mu      sync.RWMutex
	session *onnxruntime_go.DynamicAdvancedSession

	inputSize  int
	numClasses int
	labelPos   int // position of the label output in the run, -1 if absent
	probaPos   int
	classes    []int
}

// outputLayout locates the label and probability outputs among infos.
// It returns -1 for a missing label output.
func outputLayout(infos []onnxruntime_go.InputOutputInfo, labelName, probaName string) (int, int, error) {
	find := func(name string) int {
		for i, info := range infos {
			if info.Name == name {
				return i
			}
		}
		return -1
	}

	label, proba := -1, -1
	switch {
	case labelName != "" || probaName != "":
		if probaName == "" {
			return 0, 0, fmt.Errorf("%w: probability output name is required when a label output is named", ErrUnsupportedModel)
		}
		if proba = find(probaName); proba < 0 {
			return 0, 0, fmt.Errorf("%w: no output named %q", ErrUnsupportedModel, probaName)
		}
		if labelName != "" {
			if label = find(labelName); label < 0 {
				return 0, 0, fmt.Errorf("%w: no output named %q", ErrUnsupportedModel, labelName)
			}
		}
	case len(infos) == 2:
		label, proba = 0, 1
	case len(infos) == 1:
		proba = 0
	default:
		return 0, 0, fmt.Errorf("%w: expected 1 or 2 outputs, got %d", ErrUnsupportedModel, len(infos))
	}

	for _, i := range []int{label, proba} {
		if i < 0 {
			continue
		}
		if infos[i].OrtValueType != onnxruntime_go.ONNXTypeTensor {
			return 0, 0, fmt.Errorf("%w: output %q is a %v, not a tensor; export without ZipMap",
				ErrUnsupportedModel, infos[i].Name, infos[i].OrtValueType)
		}
	}
	if label >= 0 && infos[label].DataType != onnxruntime_go.TensorElementDataTypeInt64 {
		return 0, 0, fmt.Errorf("%w: label output %q has element type %v, want int64",
			ErrUnsupportedModel, infos[label].Name, infos[label].DataType)
	}
	if infos[proba].DataType != onnxruntime_go.TensorElementDataTypeFloat {
		return 0, 0, fmt.Errorf("%w: probability output %q has element type %v, want float32",
			ErrUnsupportedModel, infos[proba].Name, infos[proba].DataType)
	}
	return label, proba, nil
}

// selectInput picks the feature input.
func selectInput(infos []onnxruntime_go.InputOutputInfo, name string) (onnxruntime_go.InputOutputInfo, error) {
	if name != "" {
		for _, info := range infos {
			if info.Name == name {
				return info, nil
			}
		}
		return onnxruntime_go.InputOutputInfo{}, fmt.Errorf("%w: no input named %q", ErrUnsupportedModel, name)
	}
	if len(infos) != 1 {
		return onnxruntime_go.InputOutputInfo{}, fmt.Errorf("%w: expected 1 input, got %d", ErrUnsupportedModel, len(infos))
	}
	return infos[0], nil
}

// lastDim returns the trailing dimension of a rank-2 shape, or 0 when it is
// dynamic.
func lastDim(shape onnxruntime_go.Shape) (int, error) {
	if len(shape) != 2 {
		return 0, fmt.Errorf("%w: expected a rank-2 shape, got %v", ErrUnsupportedModel, shape)
	}
	return int(max(shape[1], 0)), nil
}

// OpenONNX loads the model at cfg.ModelPath.
func OpenONNX(cfg ONNXConfig) (*ONNXModel, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if err := onnx.Initialize(cfg.Runtime); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read model input/output info: %w", err)
	}
	in, err := selectInput(inputs, cfg.InputName)
	if err != nil {
		return nil, err
	}
	if in.DataType != onnxruntime_go.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("%w: input %q has element type %v, want float32", ErrUnsupportedModel, in.Name, in.DataType)
	}
	inputSize, err := lastDim(in.Dimensions)
	if err != nil {
		return nil, err
	}
	if inputSize == 0 {
		inputSize = cfg.InputSize
	}
	if inputSize <= 0 {
		return nil, fmt.Errorf("%w: input %q has a dynamic feature dimension and no input size is configured",
			ErrUnsupportedModel, in.Name)
	}

	labelIdx, probaIdx, err := outputLayout(outputs, cfg.LabelOutput, cfg.ProbabilityOutput)
	if err != nil {
		return nil, err
	}
	numClasses, err := lastDim(outputs[probaIdx].Dimensions)
	if err != nil {
		return nil, err
	}
	if numClasses == 0 {
		numClasses = len(cfg.Classes)
	}
	if labelIdx < 0 && len(cfg.Classes) == 0 {
		return nil, fmt.Errorf("%w: model has no label output and no class list was given", ErrUnsupportedModel)
	}

	m := &ONNXModel{
		inputSize:  inputSize,
		numClasses: numClasses,
		labelPos:   -1,
		probaPos:   0,
		classes:    cfg.Classes,
	}
	names := []string{outputs[probaIdx].Name}
	if labelIdx >= 0 {
		names = []string{outputs[labelIdx].Name, outputs[probaIdx].Name}
		m.labelPos, m.probaPos = 0, 1
	}

	opts, err := onnx.NewSessionOptions(cfg.Runtime)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()

	m.session, err = onnxruntime_go.NewDynamicAdvancedSession(cfg.ModelPath, []string{in.Name}, names, opts)
	if err != nil {
		return nil, fmt.Errorf("create ONNX session: %w", err)
	}

	slog.Debug("Classifier model loaded",
		"path", cfg.ModelPath,
		"input", in.Name,
		"input_size", inputSize,
		"outputs", names,
		"classes", numClasses,
		"gpu", cfg.Runtime.GPU.Enabled)
	return m, nil
}

// run evaluates vec and returns the label (or -1 when the graph has none)
// and the probability row.
func (m *ONNXModel) run(vec []float64) (int64, []float32, error) {
	if len(vec) != m.inputSize {
		return 0, nil, &DimensionError{What: "feature vector length", Got: len(vec), Want: m.inputSize}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return 0, nil, errModelClosed
	}

	// The tensor aliases row, so row goes back to the pool after Destroy.
	row := mempool.Float32.Get(len(vec))
	defer mempool.Float32.Put(row)
	for i, v := range vec {
		row[i] = float32(v)
	}
	input, err := onnx.NewRowTensor(row)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = input.Destroy() }()

	outputs := make([]onnxruntime_go.Value, 1)
	if m.labelPos >= 0 {
		outputs = make([]onnxruntime_go.Value, 2)
	}
	if err := m.session.Run([]onnxruntime_go.Value{input}, outputs); err != nil {
		return 0, nil, fmt.Errorf("inference failed: %w", err)
	}
	defer onnx.DestroyAll(outputs)

	proba, err := onnx.Float32Data(outputs[m.probaPos])
	if err != nil {
		return 0, nil, err
	}
	proba = append([]float32(nil), proba...)

	label := int64(-1)
	if m.labelPos >= 0 {
		labels, err := onnx.Int64Data(outputs[m.labelPos])
		if err != nil {
			return 0, nil, err
		}
		if len(labels) != 1 {
			return 0, nil, &DimensionError{What: "label output length", Got: len(labels), Want: 1}
		}
		label = labels[0]
	}
	return label, proba, nil
}

// Predict implements Model.
func (m *ONNXModel) Predict(vec []float64) (int, error) {
	label, proba, err := m.run(vec)
	if err != nil {
		return 0, err
	}
	if label >= 0 {
		return int(label), nil
	}
	best := onnx.ArgMax(proba)
	if best < 0 || best >= len(m.classes) {
		return 0, &DimensionError{What: "probability vector length", Got: len(proba), Want: len(m.classes)}
	}
	return m.classes[best], nil
}

// PredictProba implements Model.
func (m *ONNXModel) PredictProba(vec []float64) ([]float64, error) {
	_, proba, err := m.run(vec)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(proba))
	for i, p := range proba {
		out[i] = float64(p)
	}
	return out, nil
}

// InputSize implements Model.
func (m *ONNXModel) InputSize() int { return m.inputSize }

// NumClasses implements Model.
func (m *ONNXModel) NumClasses() int { return m.numClasses }

// Close destroys the session. Later calls fail.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
