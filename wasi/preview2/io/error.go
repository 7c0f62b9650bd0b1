package io

import (
	"context"

	"github.com/wippyai/wasihost/wasi/preview2"
)

type ErrorHost struct {
	resources *preview2.ResourceTable
}

func NewErrorHost(resources *preview2.ResourceTable) *ErrorHost {
	return &ErrorHost{resources: resources}
}

func (h *ErrorHost) Namespace() string {
	return "wasi:io/error@0.2.8"
}

func (h *ErrorHost) MethodErrorToDebugString(_ context.Context, self uint32) (string, error) {
	e, err := preview2.GetAs[*preview2.ErrorResource](h.resources, self)
	if err != nil {
		return "", err
	}
	return e.ToDebugString(), nil
}

func (h *ErrorHost) ResourceDropError(_ context.Context, self uint32) error {
	_, err := preview2.DeleteAs[*preview2.ErrorResource](h.resources, self)
	return err
}

func (h *ErrorHost) Register() map[string]any {
	return map[string]any{
		"[method]error.to-debug-string": h.MethodErrorToDebugString,
		"[resource-drop]error":          h.ResourceDropError,
	}
}
