package linkfix

import (
	"github.com/witmigrate/witmigrate/internal/types"
)

// Skip records a recognized link that was left untouched, and why.
type Skip struct {
	Link   types.ExternalLink
	Reason error
}

// ChangeSet is the set of link edits computed for one work item.
// It is consumed once by Apply and then discarded.
type ChangeSet struct {
	ToAdd    []types.ExternalLink
	ToRemove []types.ExternalLink
	Skipped  []Skip
}

// Empty reports whether the change set has nothing to apply.
func (cs ChangeSet) Empty() bool {
	return len(cs.ToAdd) == 0 && len(cs.ToRemove) == 0
}

func (cs *ChangeSet) add(l types.ExternalLink) {
	cs.ToAdd = append(cs.ToAdd, l)
}

func (cs *ChangeSet) remove(l types.ExternalLink) {
	cs.ToRemove = append(cs.ToRemove, l)
}

func (cs *ChangeSet) skip(l types.ExternalLink, reason error) {
	cs.Skipped = append(cs.Skipped, Skip{Link: l, Reason: reason})
}

// scheduled reports whether uri is already queued for addition.
func (cs ChangeSet) scheduled(uri string) bool {
	for _, l := range cs.ToAdd {
		if l.SameURI(types.ExternalLink{URI: uri}) {
			return true
		}
	}
	return false
}
