package bind

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasihost/errors"
	"github.com/wippyai/wasihost/wasi/preview2"
	"github.com/wippyai/wasihost/wasi/preview2/http"
)

// check aborts the guest call on a host fault or trap. wazero recovers the
// panic and returns it from the guest's call.
func check(err error) {
	if err == nil {
		return
	}
	if !errors.IsTrap(err) {
		err = errors.Wrap(errors.PhaseHost, errors.KindTrap, err, "host call failed")
	}
	preview2.Logger().Debug("guest call aborted", zap.Error(err))
	panic(err)
}

// result lowers a result<_, E> whose error case the guest inspects only by
// discriminant.
func result(err error) uint64 {
	switch {
	case err == nil:
		return 0
	case http.IsGuestError(err):
		return 1
	}
	check(err)
	return 1
}

func boolean(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func handleToHandle(fn func(context.Context, uint32) (uint32, error)) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		out, err := fn(ctx, api.DecodeU32(stack[0]))
		check(err)
		stack[0] = api.EncodeU32(out)
	}
}

func handleToBool(fn func(context.Context, uint32) (bool, error)) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		ok, err := fn(ctx, api.DecodeU32(stack[0]))
		check(err)
		stack[0] = boolean(ok)
	}
}

func handleToUnit(fn func(context.Context, uint32) error) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		check(fn(ctx, api.DecodeU32(stack[0])))
	}
}

func u64ToHandle(fn func(context.Context, uint64) (uint32, error)) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		out, err := fn(ctx, stack[0])
		check(err)
		stack[0] = api.EncodeU32(out)
	}
}
