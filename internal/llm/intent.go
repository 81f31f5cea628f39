package llm

import (
	"context"
	"strconv"
	"strings"

	"github.com/pavelanni/remedial/internal/i18n"
	"github.com/pavelanni/remedial/internal/model"
)

// IntentKind is one of the lookups answered directly from the roster.
type IntentKind int

const (
	IntentScore IntentKind = iota + 1
	IntentName
)

// Intent is a recognized direct lookup.
type Intent struct {
	Kind      IntentKind
	StudentID string
}

var intentFiller = map[string]bool{
	"student": true, "the": true, "what": true, "is": true, "what's": true, "show": true, "get": true,
}

// ParseIntent recognizes questions of the form "[student] score of <id>" and
// "[student] name of <id>", with optional leading filler words.
func ParseIntent(q string) (Intent, bool) {
	q = strings.TrimRight(strings.TrimSpace(q), "?.! ")
	fields := strings.Fields(q)
	n := len(fields)
	if n < 3 || !strings.EqualFold(fields[n-2], "of") {
		return Intent{}, false
	}

	var kind IntentKind
	switch strings.ToLower(fields[n-3]) {
	case "score":
		kind = IntentScore
	case "name":
		kind = IntentName
	default:
		return Intent{}, false
	}
	for _, f := range fields[:n-3] {
		if !intentFiller[strings.ToLower(f)] {
			return Intent{}, false
		}
	}
	return Intent{Kind: kind, StudentID: fields[n-1]}, true
}

// Resolve answers the intent from students in the language carried by ctx.
// Ids match case-insensitively.
func (in Intent) Resolve(ctx context.Context, students []model.StudentRecord) string {
	id := strings.ToUpper(in.StudentID)
	for _, s := range students {
		if !strings.EqualFold(strings.TrimSpace(s.StudentID), in.StudentID) {
			continue
		}
		switch in.Kind {
		case IntentScore:
			return i18n.Td(ctx, "IntentScore", map[string]any{
				"StudentID": id,
				"Score":     strconv.FormatFloat(s.Total, 'f', -1, 64),
			})
		case IntentName:
			return i18n.Td(ctx, "IntentName", map[string]any{"StudentID": id, "Name": s.Name})
		}
	}
	return i18n.Td(ctx, "IntentNotFound", map[string]any{"StudentID": id})
}
