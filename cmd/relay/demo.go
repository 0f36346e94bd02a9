package main

import (
	"context"
	"fmt"

	"github.com/relaykit/relay/pkg/runtime"
	"github.com/relaykit/relay/pkg/runtime/scripted"
	"github.com/relaykit/relay/pkg/tool/mcptoolset"
)

// runtimeBuilder selects the runtime implementation. The relay treats the
// agent runtime as an injected collaborator; the binary ships a demo runtime
// for trying the stream end to end, and library consumers embed pkg/server
// with their own runtime.Builder.
func (c *ServeCmd) runtimeBuilder(providers []*mcptoolset.Provider) (runtime.Builder, error) {
	if !c.Demo {
		return nil, fmt.Errorf("no agent runtime is wired into this binary; " +
			"run with --demo, or embed pkg/server with your own runtime.Builder")
	}
	return &demoBuilder{providers: providers}, nil
}

// demoBuilder hands out demo runtimes, honoring disabled providers.
type demoBuilder struct {
	providers []*mcptoolset.Provider
}

func (b *demoBuilder) Build(ctx context.Context, opts runtime.BuildOptions) (runtime.Runtime, error) {
	active := make([]*mcptoolset.Provider, 0, len(b.providers))
	for _, p := range b.providers {
		if opts.DisabledProviders[p.Name()] {
			continue
		}
		active = append(active, p)
	}
	return &demoRuntime{providers: active}, nil
}

// demoRuntime echoes the last user message as streamed deltas. Listing every
// provider's tools up front mirrors a real runtime's startup, so a broken
// provider aborts the run with an attributable failure and drives the
// supervisor's retry path.
type demoRuntime struct {
	providers []*mcptoolset.Provider
}

func (r *demoRuntime) Run(ctx context.Context, in runtime.RunInput) (runtime.EventSource, error) {
	toolCount := 0
	for _, p := range r.providers {
		tools, err := p.Tools(ctx)
		if err != nil {
			return nil, err
		}
		toolCount += len(tools)
	}

	message := lastUserMessage(in.Items)
	reply := fmt.Sprintf("You said: %s", message)
	if toolCount > 0 {
		reply = fmt.Sprintf("%s (%d tools available)", reply, toolCount)
	}

	steps := []scripted.Step{
		{Event: runtime.RawEvent{Kind: runtime.RawResponseCreated, ConversationID: in.ConversationID}},
		{Event: runtime.RawEvent{Kind: runtime.RawRunItem, Item: runtime.Item{
			ID:   "demo_reasoning",
			Type: runtime.ItemReasoning,
		}}},
	}
	for _, word := range splitWords(reply) {
		steps = append(steps, scripted.Step{Event: runtime.RawEvent{
			Kind:  runtime.RawTextDelta,
			Delta: word,
		}})
	}

	history := make([]runtime.Item, 0, len(in.Items)+1)
	history = append(history, in.Items...)
	history = append(history, runtime.Item{
		Type:    runtime.ItemMessage,
		Role:    "assistant",
		Content: reply,
	})

	rt := &scripted.Runtime{Steps: steps, History: history}
	return rt.Run(ctx, in)
}

func lastUserMessage(items []runtime.Item) string {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Type == runtime.ItemMessage && items[i].Role == "user" {
			return items[i].Content
		}
	}
	return ""
}

// splitWords chunks text into word-sized deltas with trailing spaces intact,
// so concatenating them reproduces the original.
func splitWords(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
