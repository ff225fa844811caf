// Package classify decides what the ingest pipeline does with one inbound
// event.
package classify

import (
	"encoding/json"
	"strings"

	"github.com/user/statuskeeper/internal/directory"
	"github.com/user/statuskeeper/internal/types"
)

type Action int

const (
	Ignore Action = iota
	Skip
	Text
	Media
)

func (a Action) String() string {
	switch a {
	case Ignore:
		return "ignore"
	case Skip:
		return "skip"
	case Text:
		return "text"
	case Media:
		return "media"
	default:
		return "unknown"
	}
}

const (
	ReasonNoSender    = "no sender"
	ReasonUnsupported = "unsupported kind"
	ReasonNoMedia     = "missing media reference"
)

// Decision is the outcome of classifying one event. Content is set for
// Text, Ref and Caption for Media, Reason for Skip.
type Decision struct {
	Action  Action
	Reason  string
	Kind    types.Kind
	Content string
	Ref     json.RawMessage
	Caption string
	Sender  directory.Name
}

// Classifier applies the broadcast ingest rules. The directory supplies the
// sender name carried on non-ignored decisions.
type Classifier struct {
	dir *directory.Cache
}

func New(dir *directory.Cache) *Classifier {
	if dir == nil {
		dir = directory.New()
	}
	return &Classifier{dir: dir}
}

// Classify evaluates the rules in order: foreign scope, missing sender,
// text, image, everything else.
func (c *Classifier) Classify(ev *types.InboundEvent) Decision {
	if ev == nil || ev.ScopeID != types.BroadcastScope {
		return Decision{Action: Ignore}
	}
	if strings.TrimSpace(ev.ParticipantID) == "" || types.IDTail(ev.ParticipantID) == "" {
		return Decision{Action: Skip, Reason: ReasonNoSender, Kind: ev.Kind}
	}

	sender := c.dir.Resolve(ev.ParticipantID)
	switch ev.Kind {
	case types.KindText:
		return Decision{Action: Text, Kind: types.KindText, Content: ev.Text, Sender: sender}
	case types.KindImage:
		if len(ev.Media) == 0 {
			return Decision{Action: Skip, Reason: ReasonNoMedia, Kind: ev.Kind, Sender: sender}
		}
		return Decision{
			Action:  Media,
			Kind:    types.KindImage,
			Ref:     ev.Media,
			Caption: ev.Caption,
			Sender:  sender,
		}
	default:
		return Decision{Action: Skip, Reason: ReasonUnsupported, Kind: ev.Kind, Sender: sender}
	}
}
