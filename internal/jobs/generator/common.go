// Package generator holds the pipeline handlers behind the job manager.
// Every handler follows one shape: decode the input blob, size the
// progress total, loop over items logging and skipping per-item
// failures, and persist after each item so partial work survives a
// restart.
package generator

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/forge/internal/interfaces"
	"github.com/ternarybob/forge/internal/models"
)

// Deps carries the stores and services the handlers share
type Deps struct {
	Jobs      interfaces.JobStorage
	Files     interfaces.FileStorage
	FilePairs interfaces.FilePairStorage
	GAPairs   interfaces.GAPairStorage
	Questions interfaces.QuestionStorage
	Datasets  interfaces.DatasetStorage
	Tags      interfaces.TagStorage
	Catalogs  interfaces.CatalogStorage
	LLM       interfaces.LLMClient
	Logger    arbor.ILogger

	// QuestionGenLength sizes question batches when the request does
	// not fix a number: one question per this many characters of chunk.
	QuestionGenLength int
}

// TagNode is the wire shape of the label forest exchanged with the
// model: a two-level tree of labels.
type TagNode struct {
	Label    string    `json:"label"`
	Children []TagNode `json:"children,omitempty"`
}

// buildTagTree converts stored tags into the two-level wire shape
func buildTagTree(tags []*models.Tag) []TagNode {
	byParent := make(map[string][]*models.Tag)
	var roots []*models.Tag
	for _, tag := range tags {
		if tag.ParentID == "" {
			roots = append(roots, tag)
		} else {
			byParent[tag.ParentID] = append(byParent[tag.ParentID], tag)
		}
	}

	nodes := make([]TagNode, 0, len(roots))
	for _, root := range roots {
		node := TagNode{Label: root.Label}
		for _, child := range byParent[root.ID] {
			node.Children = append(node.Children, TagNode{Label: child.Label})
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// tagTreeJSON serializes the forest for prompts
func tagTreeJSON(tags []*models.Tag) (string, error) {
	data, err := json.Marshal(buildTagTree(tags))
	if err != nil {
		return "", fmt.Errorf("failed to encode tag tree: %w", err)
	}
	return string(data), nil
}

// tagsFromTree converts a model-produced forest back into rows
func tagsFromTree(nodes []TagNode, userID, groupID, projectID string) []*models.Tag {
	var tags []*models.Tag
	for _, node := range nodes {
		root := &models.Tag{
			BaseEntity: models.NewBaseEntity(userID, groupID),
			ProjectID:  projectID,
			Label:      node.Label,
		}
		tags = append(tags, root)
		for _, child := range node.Children {
			tags = append(tags, &models.Tag{
				BaseEntity: models.NewBaseEntity(userID, groupID),
				ProjectID:  projectID,
				Label:      child.Label,
				ParentID:   root.ID,
				RootIDs:    []string{root.ID},
			})
		}
	}
	return tags
}
