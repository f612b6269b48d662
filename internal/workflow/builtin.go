package workflow

import (
	"context"
	"fmt"
	"strings"

	"quill/internal/classify"
	"quill/internal/document"
	"quill/internal/types"
)

// RegisterBuiltinStages installs the stock stage set. Real deployments plug
// in their own content-producing stages under the same names; these
// implementations are deterministic and self-contained so the engine runs
// end-to-end without external services.
func RegisterBuiltinStages(registry *Registry) error {
	stages := []Stage{
		NewStage(StageUnderstanding, []string{"intent.summary"}, runUnderstanding),
		NewStage(StageContent, []string{"content.draft"}, runContent),
		NewStage(StageFormatting, []string{"format.plan"}, runFormatting),
		NewStage(StageDataIntegration, []string{"data.summary"}, runDataIntegration),
		NewStage(StageExecution, []string{"execution.summary"}, runExecution),
	}
	for _, stage := range stages {
		if err := registry.Register(stage); err != nil {
			return err
		}
	}
	return nil
}

func runUnderstanding(_ context.Context, state *State) (StageResult, error) {
	lower := strings.ToLower(state.Request.Text)

	var intents []string
	if classify.HasFormattingIntent(lower) {
		intents = append(intents, "formatting")
	}
	if classify.HasContentIntent(lower) {
		intents = append(intents, "content")
	}
	if classify.HasInsertionIntent(lower) {
		intents = append(intents, "insertion")
	}
	if classify.HasDataIntent(lower) {
		intents = append(intents, "data")
	}
	if len(intents) == 0 {
		intents = append(intents, "general")
	}

	return StageResult{
		Outputs: map[string]any{
			"intent.summary": strings.Join(intents, ","),
		},
	}, nil
}

func runContent(_ context.Context, state *State) (StageResult, error) {
	draft := draftFor(state.Request.Text)

	position := state.Snapshot.Cursor
	if state.Snapshot.HasSelection() {
		position = state.Snapshot.Selection.End
	}

	return StageResult{
		Outputs: map[string]any{"content.draft": draft},
		Operations: []document.Operation{
			document.InsertText{Position: position, Text: draft},
		},
	}, nil
}

// draftFor derives placeholder content from the request. Production stages
// replace this with generated text.
func draftFor(text string) string {
	trimmed := strings.TrimSpace(text)
	for _, verb := range []string{"insert", "add", "write", "append", "type", "put"} {
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, verb+" ") {
			return strings.TrimSpace(trimmed[len(verb):])
		}
	}
	return trimmed
}

func runFormatting(_ context.Context, state *State) (StageResult, error) {
	lower := strings.ToLower(state.Request.Text)

	var target types.Range
	switch {
	case state.Snapshot.HasSelection():
		target = *state.Snapshot.Selection
	case state.Snapshot.Cursor > 0:
		target = types.Range{Start: 0, End: state.Snapshot.Cursor}
	default:
		// Nothing to format; the plan records that explicitly.
		return StageResult{
			Outputs: map[string]any{"format.plan": "no target"},
		}, nil
	}

	attributes := map[string]string{}
	for _, attr := range []string{"bold", "italic", "underline", "highlight"} {
		if strings.Contains(lower, attr) {
			attributes[attr] = "on"
		}
	}
	if len(attributes) == 0 {
		return StageResult{
			Outputs: map[string]any{"format.plan": "no attributes"},
		}, nil
	}

	var ops []document.Operation
	var plan []string
	for _, attr := range []string{"bold", "italic", "underline", "highlight"} {
		value, ok := attributes[attr]
		if !ok {
			continue
		}
		ops = append(ops, document.FormatRange{
			Range:     target,
			Attribute: attr,
			Value:     value,
		})
		plan = append(plan, fmt.Sprintf("%s [%d,%d)", attr, target.Start, target.End))
	}

	return StageResult{
		Outputs:    map[string]any{"format.plan": strings.Join(plan, "; ")},
		Operations: ops,
	}, nil
}

func runDataIntegration(_ context.Context, state *State) (StageResult, error) {
	lower := strings.ToLower(state.Request.Text)
	position := state.Snapshot.Cursor

	var op document.Operation
	var summary string
	switch {
	case strings.Contains(lower, "chart") || strings.Contains(lower, "graph"):
		op = document.CreateChart{Position: position, ChartType: "bar", DataRef: "request"}
		summary = "chart"
	default:
		op = document.CreateTable{Position: position, Rows: 3, Cols: 3}
		summary = "table"
	}

	return StageResult{
		Outputs:    map[string]any{"data.summary": summary},
		Operations: []document.Operation{op},
	}, nil
}

func runExecution(_ context.Context, state *State) (StageResult, error) {
	pending := state.PendingOperations()
	kinds := make([]string, 0, len(pending))
	for _, op := range pending {
		kinds = append(kinds, op.Kind().String())
	}

	return StageResult{
		Outputs: map[string]any{
			"execution.summary": fmt.Sprintf("%d operations: %s", len(pending), strings.Join(kinds, ",")),
		},
	}, nil
}
