//go:build !onnx
// +build !onnx

package onnx

import (
	"fmt"

	"github.com/xaionaro-go/denoise/pkg/inference"
)

func New(cfg Config) (inference.Backend, error) {
	return nil, fmt.Errorf("the support of ONNX Runtime is not compiled in, rebuild with '-tags onnx'")
}
