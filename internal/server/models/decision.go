package models

// DedupAction is the Deduplicator's verdict for a candidate upload.
type DedupAction int

const (
	// CreateNew: the content is genuinely new.
	CreateNew DedupAction = iota
	// MergeByContent: an existing non-folder File already holds identical content.
	MergeByContent
	// ReplaceContent: an existing File occupies the same name/key with different content.
	ReplaceContent
)

func (a DedupAction) String() string {
	switch a {
	case MergeByContent:
		return "merge_by_content"
	case ReplaceContent:
		return "replace_content"
	default:
		return "create_new"
	}
}

// DedupDecision is returned by the Deduplicator and consumed by the write path.
type DedupDecision struct {
	Action       DedupAction
	TargetFileID string
}
