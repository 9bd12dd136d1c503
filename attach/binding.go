package attach

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// BindingName is the CDP binding the probe script posts batched JSON
// payloads through.
const BindingName = "__agentdetect_binding"

// Bind registers the CDP binding and starts a goroutine that forwards every
// Runtime.bindingCalled payload to handle. It returns a stop function.
func (t *Tab) Bind(ctx context.Context, handle func(payload string)) (stop func(), err error) {
	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(t.Page); err != nil {
		return nil, fmt.Errorf("attach: add binding: %w", err)
	}

	bindCtx, cancel := context.WithCancel(ctx)
	go func() {
		wait := t.Page.Context(bindCtx).EachEvent(func(e *proto.RuntimeBindingCalled) {
			if e.Name != BindingName {
				return
			}
			handle(e.Payload)
		})
		wait()
	}()

	return cancel, nil
}

// Eval runs script in the page and returns its JSON-serialisable result as
// raw text, used for one-shot fingerprint/injection-scan round trips.
func (t *Tab) Eval(ctx context.Context, script string) (string, error) {
	res, err := t.Page.Context(ctx).Eval(script)
	if err != nil {
		t.log.Debug("attach: eval failed", zap.Error(err))
		return "", fmt.Errorf("attach: eval: %w", err)
	}
	return res.Value.Str(), nil
}
