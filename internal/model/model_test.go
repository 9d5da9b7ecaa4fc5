package model

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadLabelsText(t *testing.T) {
	path := writeFile(t, "classes.txt", "tench\n\ngoldfish\n  great white shark  \n")

	labels, err := LoadLabels(path, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, labels.Len())
	assert.Equal(t, "tench", labels.Label(0))
	assert.Equal(t, "goldfish", labels.Label(1))
	assert.Equal(t, "great white shark", labels.Label(2))
}

func TestLoadLabelsJSON(t *testing.T) {
	arr := writeFile(t, "classes.json", `["a","b"]`)
	labels, err := LoadLabels(arr, 2)
	require.NoError(t, err)
	assert.Equal(t, "b", labels.Label(1))

	meta := writeFile(t, "model_metadata.json", `{"input_shape":[1,3,224,224],"classes":["x","y"]}`)
	labels, err = LoadLabels(meta, 2)
	require.NoError(t, err)
	assert.Equal(t, "x", labels.Label(0))
}

func TestLoadLabelsRejectsWrongCount(t *testing.T) {
	path := writeFile(t, "classes.txt", strings.Repeat("label\n", 999))
	_, err := LoadLabels(path, NumClasses)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "999")
}

func TestLoadLabelsMissingFile(t *testing.T) {
	_, err := LoadLabels(filepath.Join(t.TempDir(), "missing.txt"), 1)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLabelPanicsOutOfRange(t *testing.T) {
	labels := NewLabels([]string{"only"})
	assert.Panics(t, func() { labels.Label(1) })
	assert.Panics(t, func() { labels.Label(-1) })
}

func TestNewLabelsCopies(t *testing.T) {
	names := []string{"a", "b"}
	labels := NewLabels(names)
	names[0] = "changed"
	assert.Equal(t, "a", labels.Label(0))
}

func TestRuntimeErrorUnwrap(t *testing.T) {
	cause := errors.New("graph exploded")
	err := runtimeError(StageCompute, cause)

	assert.ErrorIs(t, err, ErrRuntime)
	assert.ErrorIs(t, err, cause)

	var rtErr *RuntimeError
	require.True(t, errors.As(err, &rtErr))
	assert.Equal(t, StageCompute, rtErr.Stage)
	assert.Nil(t, runtimeError(StageBind, nil))
}

func TestCheckInput(t *testing.T) {
	data := make([]byte, TensorBytes)
	assert.NoError(t, checkInput(0, DTypeFloat32, InputShape, data))
	assert.Error(t, checkInput(1, DTypeFloat32, InputShape, data))
	assert.Error(t, checkInput(0, DTypeUnknown, InputShape, data))
	assert.Error(t, checkInput(0, DTypeFloat32, InputShape, data[:len(data)-4]))
}

func TestTensorBytes(t *testing.T) {
	assert.Equal(t, 3*224*224*4, TensorBytes)
	assert.Equal(t, int64(TensorBytes), elementCount(InputShape)*4)
}

func TestOpenBytesUnknownBackend(t *testing.T) {
	_, err := OpenBytes("tensorflow", nil, ONNXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tensorflow")
}

func TestOpenMissingModel(t *testing.T) {
	_, err := Open(OpenConfig{Backend: BackendBorn, ModelPath: filepath.Join(t.TempDir(), "none.onnx")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBornRejectsGarbageModel(t *testing.T) {
	_, err := NewBorn([]byte("not an onnx file"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRuntime)

	var rtErr *RuntimeError
	require.True(t, errors.As(err, &rtErr))
	assert.Equal(t, StageBuild, rtErr.Stage)
}

func TestImageNetLabels(t *testing.T) {
	labels := ImageNetLabels()
	require.Equal(t, NumClasses, labels.Len())
	assert.Equal(t, "tench", labels.Label(0))
	assert.Equal(t, "tabby", labels.Label(281))
	assert.Equal(t, "military uniform", labels.Label(652))
	assert.Equal(t, "toilet tissue", labels.Label(999))
}
