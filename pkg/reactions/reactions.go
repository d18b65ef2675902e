// Package reactions maintains per-message reaction summaries. Summaries are
// always rebuilt from the full identity -> reaction map.
package reactions

import (
	"fmt"
	"strings"

	"chatsync/pkg/models"
)

// Aggregator applies reaction events on behalf of one local user.
type Aggregator struct {
	localUser string
}

func New(localUserID string) *Aggregator {
	return &Aggregator{localUser: localUserID}
}

// Apply sets actorID's reaction on m. An empty reaction removes the actor's
// reaction; a different one replaces it. changed is false when the event
// leaves the map as it was.
func (a *Aggregator) Apply(m models.Message, actorID, reaction string) (out models.Message, changed bool, err error) {
	actorID = strings.TrimSpace(actorID)
	reaction = strings.TrimSpace(reaction)
	if actorID == "" {
		return m, false, fmt.Errorf("%w: reaction without actor", models.ErrInvalidEvent)
	}
	out = m.Clone()
	prev, had := out.Reactions[actorID]
	switch {
	case reaction == "" && !had:
		return a.Recompute(out), false, nil
	case reaction == "":
		delete(out.Reactions, actorID)
	case had && prev == reaction:
		return a.Recompute(out), false, nil
	default:
		if out.Reactions == nil {
			out.Reactions = make(map[string]string)
		}
		out.Reactions[actorID] = reaction
	}
	if len(out.Reactions) == 0 {
		out.Reactions = nil
	}
	return a.Recompute(out), true, nil
}

// Recompute rebuilds the summary and the caller reaction from m.Reactions.
func (a *Aggregator) Recompute(m models.Message) models.Message {
	m.Summary = Summarize(m.Reactions)
	m.CallerReaction = m.Reactions[a.localUser]
	return m
}

// Summarize counts distinct actors per reaction type. Types nobody holds are
// left out; a nil summary is returned for an empty map.
func Summarize(raw map[string]string) models.ReactionSummary {
	if len(raw) == 0 {
		return nil
	}
	sum := make(models.ReactionSummary, len(raw))
	for _, kind := range raw {
		if kind == "" {
			continue
		}
		sum[kind]++
	}
	if len(sum) == 0 {
		return nil
	}
	return sum
}
