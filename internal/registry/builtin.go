package registry

import (
	"context"
	"fmt"
	"time"
)

// Builtin returns the static list of business tool definitions registered at
// startup. The implementations here are placeholder executors conforming to
// the calling contract; deployments replace individual tools through the
// public App options. Each definition is registered independently, so one
// bad tool never blocks the rest.
func Builtin() []Definition {
	return []Definition{
		{
			Name:        "render_result",
			Description: "Render a structured payload into a user-facing card.",
			Category:    "display",
			Weight:      10,
			ParameterSchema: map[string]any{
				"payload": "object to render",
			},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				return map[string]any{"rendered": true, "payload": args["payload"]}, nil
			},
		},
		{
			Name:        "render_chart",
			Description: "Render tabular data as a chart.",
			Category:    "display",
			Weight:      6,
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				return map[string]any{"chart": "bar", "series": args["series"]}, nil
			},
		},
		{
			Name:        "list_students",
			Description: "List students of a class with basic profile fields.",
			Category:    "data",
			Weight:      9,
			ParameterSchema: map[string]any{
				"class_id": "class identifier",
			},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				return map[string]any{"class_id": args["class_id"], "students": []any{}}, nil
			},
		},
		{
			Name:        "student_count",
			Description: "Count enrolled students, optionally per class.",
			Category:    "data",
			Weight:      8,
			Handler: func(_ context.Context, _ map[string]any) (any, error) {
				return map[string]any{"count": 0}, nil
			},
		},
		{
			Name:        "attendance_summary",
			Description: "Summarize attendance over a date range.",
			Category:    "data",
			Weight:      7,
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				return map[string]any{"range": args["range"], "present_rate": 0.0}, nil
			},
		},
		{
			Name:        "class_schedule",
			Description: "Fetch the weekly schedule for a class.",
			Category:    "data",
			Weight:      6,
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				return map[string]any{"class_id": args["class_id"], "slots": []any{}}, nil
			},
		},
		{
			Name:        "create_activity",
			Description: "Create a kindergarten activity draft.",
			Category:    "business",
			Weight:      9,
			ParameterSchema: map[string]any{
				"title": "activity title",
				"date":  "planned date",
			},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				title, _ := args["title"].(string)
				if title == "" {
					return nil, fmt.Errorf("validation: title is required")
				}
				return map[string]any{"activity_id": "draft", "title": title}, nil
			},
		},
		{
			Name:        "publish_activity",
			Description: "Publish an activity draft to parents.",
			Category:    "business",
			Weight:      7,
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				return map[string]any{"activity_id": args["activity_id"], "published": true}, nil
			},
		},
		{
			Name:        "generate_poster",
			Description: "Generate a poster image for an activity.",
			Category:    "business",
			Weight:      6,
			Executor:    posterGenerator{},
		},
		{
			Name:        "notify_parents",
			Description: "Send a notification to parents of a class.",
			Category:    "notification",
			Weight:      8,
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				return map[string]any{"class_id": args["class_id"], "queued": true}, nil
			},
		},
		{
			Name:        "emergency_notice",
			Description: "Broadcast an urgent notice to all staff and parents.",
			Category:    "notification",
			Weight:      10,
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				return map[string]any{"notice": args["message"], "broadcast": true}, nil
			},
		},
		{
			Name:        "export_report",
			Description: "Export a data report as a downloadable file.",
			Category:    "report",
			Weight:      5,
			Executor:    reportExporter{},
		},
		{
			Name:        "import_records",
			Description: "Import student or attendance records from an upload.",
			Category:    "report",
			Weight:      4,
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				return map[string]any{"source": args["source"], "imported": 0}, nil
			},
		},
		{
			Name:        "web_search",
			Description: "Search the public web for reference material.",
			Category:    "web",
			Weight:      3,
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				return map[string]any{"query": args["query"], "results": []any{}}, nil
			},
		},
	}
}

// posterGenerator demonstrates the Executor callable shape.
type posterGenerator struct{}

func (posterGenerator) Execute(_ context.Context, args map[string]any) (any, error) {
	return map[string]any{
		"poster_url":   "about:blank",
		"activity_id":  args["activity_id"],
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// reportExporter demonstrates the Executor callable shape for report tools.
type reportExporter struct{}

func (reportExporter) Execute(_ context.Context, args map[string]any) (any, error) {
	format, _ := args["format"].(string)
	if format == "" {
		format = "xlsx"
	}
	return map[string]any{"format": format, "url": "about:blank"}, nil
}
