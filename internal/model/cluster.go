package model

// GroupType tags the kind of variant relationship a cluster asserts.
type GroupType string

const (
	GroupSignedUnsigned     GroupType = "signed_unsigned"
	GroupPreliminaryFinal   GroupType = "preliminary_final"
	GroupChronological      GroupType = "chronological"
	GroupRevised            GroupType = "revised"
	GroupIncompleteComplete GroupType = "incomplete_complete"
)

// AllGroupTypes returns every defined group type.
func AllGroupTypes() []GroupType {
	return []GroupType{
		GroupSignedUnsigned,
		GroupPreliminaryFinal,
		GroupChronological,
		GroupRevised,
		GroupIncompleteComplete,
	}
}

// IsValidGroupType reports whether gt is a defined group type.
func IsValidGroupType(gt GroupType) bool {
	for _, t := range AllGroupTypes() {
		if t == gt {
			return true
		}
	}
	return false
}

// groupTypePriority orders group types for overlap deduplication. Higher
// wins when two proposed clusters cover the same member set.
var groupTypePriority = map[GroupType]int{
	GroupSignedUnsigned:     5,
	GroupPreliminaryFinal:   4,
	GroupRevised:            3,
	GroupIncompleteComplete: 2,
	GroupChronological:      1,
}

// Priority returns the overlap-deduplication rank of the group type.
func (gt GroupType) Priority() int {
	return groupTypePriority[gt]
}

// ClusterConfidence flags clusters whose internal signals disagree.
type ClusterConfidence string

const (
	ConfidenceNormal ClusterConfidence = "normal"
	ConfidenceLow    ClusterConfidence = "low"
)

// ClusterSource records how a cluster was discovered.
type ClusterSource string

const (
	SourceHash     ClusterSource = "hash"
	SourceSemantic ClusterSource = "semantic"
)

// VersionCluster is a set of documents asserted to be different states of
// one logical document. Every member must share the same asserted document
// type; mixed-type proposals are rejected at validation.
type VersionCluster struct {
	GroupType     GroupType         `json:"group_type"`
	DocumentIDs   []string          `json:"document_ids"`
	DocumentType  string            `json:"document_type,omitempty"`
	Justification string            `json:"justification,omitempty"`
	Confidence    ClusterConfidence `json:"confidence,omitempty"`
	Source        ClusterSource     `json:"source,omitempty"`
}

// ClassificationJudgment is the unit of exchange with the classification
// oracle: one batch window's proposed clusters plus the documents it could
// not group. Ephemeral - merged into the running cluster state immediately.
type ClassificationJudgment struct {
	BatchIndex int              `json:"batch_index"`
	WindowIDs  []string         `json:"window_ids,omitempty"`
	Clusters   []VersionCluster `json:"clusters"`
	Ungrouped  []string         `json:"ungrouped"`
}

// UngroupedDoc records a document the coordinator could not place in any
// cluster, with the reason (oracle said so, or the batch failed).
type UngroupedDoc struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason,omitempty"`
}
