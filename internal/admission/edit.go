package admission

import (
	"strings"

	"github.com/quailyquaily/livia/internal/inbound"
)

type EditKind string

const (
	EditNone         EditKind = ""
	EditNew          EditKind = "new"
	EditTrue         EditKind = "true_edit"
	EditMetadataOnly EditKind = "metadata_only"
)

// ClassifyEdit decides what an edit notification really is. Slack emits
// message_changed when a thread grows under a message or the author
// subscribes, with the text untouched; those are metadata-only.
func ClassifyEdit(ev inbound.Event) EditKind {
	e := ev.Edit
	if e == nil || !e.HasPrevious {
		return EditNew
	}
	if strings.TrimSpace(e.PreviousText) == strings.TrimSpace(ev.Text) {
		return EditMetadataOnly
	}
	if e.PreviousThreadRootID == "" && ev.ThreadRootID != "" {
		return EditNew
	}
	return EditTrue
}
