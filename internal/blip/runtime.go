package blip

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// initRuntime loads the ONNX Runtime shared library and creates the process
// environment. It runs once; the environment lives until the process exits.
func initRuntime(libPath string, logger *slog.Logger) error {
	runtimeOnce.Do(func() {
		if libPath == "" {
			libPath = defaultLibPath()
		}
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		logger.Info("Using ONNX Runtime library", slog.String("path", libPath))
		if err := ort.InitializeEnvironment(); err != nil {
			runtimeErr = fmt.Errorf("initialize onnxruntime: %w", err)
		}
	})
	return runtimeErr
}

func defaultLibPath() string {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return ""
	}
}
